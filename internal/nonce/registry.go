// Package nonce tracks single-use NFC/QR replay-prevention tokens.
// A nonce is claimed exactly once; any later claim is a replay and is
// rejected, whether the payment it guarded succeeded or not.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
)

// Registry claims nonces. Claim must return apperrors.ErrDuplicateNonce on
// any second claim of the same nonce.
type Registry interface {
	Claim(ctx context.Context, nonce string) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresRegistry struct {
	DB execer
}

func NewPostgresRegistry(db execer) *PostgresRegistry {
	return &PostgresRegistry{DB: db}
}

const claimNonce = `-- name: ClaimNonce
INSERT INTO nonces (nonce, claimed_at)
VALUES ($1, $2)
`

func (r *PostgresRegistry) Claim(ctx context.Context, nonce string) error {
	_, err := r.DB.Exec(ctx, claimNonce, nonce, time.Now())

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperrors.ErrDuplicateNonce
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// RedisRegistry claims through SET NX with a TTL. Nonces are minted with a
// short expiry themselves, so a bounded window is enough to block replays.
type RedisRegistry struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{Client: client, TTL: 48 * time.Hour}
}

func (r *RedisRegistry) Claim(ctx context.Context, nonce string) error {
	claimed, err := r.Client.SetNX(ctx, "nonce:"+nonce, 1, r.TTL).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if !claimed {
		return apperrors.ErrDuplicateNonce
	}

	return nil
}
