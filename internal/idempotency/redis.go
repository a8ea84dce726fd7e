package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
)

// inProgressMarker never collides with a committed result: results are JSON
// documents and this is not valid JSON.
const inProgressMarker = "!in-progress"

// RedisGuard keeps reservations in Redis with a TTL instead of Postgres.
// Useful for deployments that already run Redis and want the key churn off
// the primary database.
type RedisGuard struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{Client: client, TTL: DefaultTTL}
}

func (g *RedisGuard) BeginOrReplay(ctx context.Context, scope string, userID uuid.UUID, key string) (Attempt, error) {
	reserved, err := g.Client.SetNX(ctx, g.key(scope, userID, key), inProgressMarker, g.ttl()).Result()
	if err != nil {
		return Attempt{}, fmt.Errorf("redis error: %w", err)
	}
	if reserved {
		return Attempt{New: true}, nil
	}

	value, err := g.Client.Get(ctx, g.key(scope, userID, key)).Result()

	switch {
	case errors.Is(err, redis.Nil):
		// Holder aborted or the key just lapsed; caller may retry
		return Attempt{}, apperrors.ErrRequestInProgress
	case err != nil:
		return Attempt{}, fmt.Errorf("redis error: %w", err)
	case value == inProgressMarker:
		return Attempt{}, apperrors.ErrRequestInProgress
	default:
		return Attempt{New: false, Result: []byte(value)}, nil
	}
}

func (g *RedisGuard) Commit(ctx context.Context, scope string, userID uuid.UUID, key string, result []byte) error {
	err := g.Client.Set(ctx, g.key(scope, userID, key), result, g.ttl()).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	return nil
}

func (g *RedisGuard) Abort(ctx context.Context, scope string, userID uuid.UUID, key string) error {
	err := g.Client.Del(ctx, g.key(scope, userID, key)).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	return nil
}

func (g *RedisGuard) key(scope string, userID uuid.UUID, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", scope, userID, key)
}

func (g *RedisGuard) ttl() time.Duration {
	if g.TTL > 0 {
		return g.TTL
	}
	return DefaultTTL
}
