package rewards

import (
	"context"
	"time"

	"github.com/tap2-payments/tap2-wallet/internal/logger"
)

const (
	defaultSweepInterval = 1 * time.Hour
	defaultSweepBatch    = 500
)

type expirer interface {
	ExpireBatch(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically turns stale lots into expiry records. Balance reads
// never depend on it (expired lots are filtered by query); it only keeps the
// audit trail complete.
type Sweeper struct {
	interval  time.Duration
	batchSize int

	rewards expirer
	logger  logger.Logger
}

func NewSweeper(rewards *Service, l logger.Logger) *Sweeper {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Sweeper{
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatch,
		rewards:   rewards,
		logger:    l,
	}
}

// Run sweeps until ctx is cancelled. The returned channel closes when the
// sweeper has fully stopped.
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting points sweeper", "interval", s.interval, "batch_size", s.batchSize)

	go func() {
		defer close(idleStopped)

		// Clear whatever backlog accumulated while the service was down
		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()

	return idleStopped
}

// sweep drains the whole backlog in batches
func (s *Sweeper) sweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		expired, err := s.rewards.ExpireBatch(ctx, s.batchSize)
		if err != nil {
			s.logger.Error("Failed to expire points lots", "error", err)
			return
		}

		if expired == 0 {
			return
		}

		s.logger.Info("Expired points lots", "count", expired)
	}
}
