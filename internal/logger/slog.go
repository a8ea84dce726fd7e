package logger

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// slogAdapter wraps *slog.Logger behind the Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

// Frames to skip so the source attribute points at the caller of
// Debug/Info/Warn/Error rather than at the adapter itself.
const callerSkip = 3

func (l *slogAdapter) emit(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(callerSkip, pcs[:])

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)
	_ = l.logger.Handler().Handle(ctx, record)
}

func (l *slogAdapter) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args...) }
func (l *slogAdapter) Info(msg string, args ...any)  { l.emit(slog.LevelInfo, msg, args...) }
func (l *slogAdapter) Warn(msg string, args ...any)  { l.emit(slog.LevelWarn, msg, args...) }
func (l *slogAdapter) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args...) }

func (l *slogAdapter) With(args ...any) Logger {
	return &slogAdapter{logger: l.logger.With(args...)}
}

func (l *slogAdapter) WithGroup(name string) Logger {
	return &slogAdapter{logger: l.logger.WithGroup(name)}
}

// parseLevelString converts a string level to slog.Level, defaults to INFO
func parseLevelString(level string) slog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// trimSourcePath strips the directory from the source attribute so log
// lines carry file.go:NN instead of a full build path.
func trimSourcePath(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
	}

	return a
}
