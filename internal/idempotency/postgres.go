package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/models"
)

// DB is the pgx surface the store needs; pgxpool.Pool satisfies it.
// The store intentionally takes the pool, not a transaction: a reservation
// must be visible to concurrent requests before the guarded work commits.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresGuard struct {
	DB  DB
	TTL time.Duration
}

func NewPostgresGuard(db DB) *PostgresGuard {
	return &PostgresGuard{DB: db, TTL: DefaultTTL}
}

// Inserts the reservation, or takes over a row whose TTL has lapsed.
// Exactly one concurrent caller gets a row back; the others fall through to
// the state lookup.
const reserveKey = `-- name: ReserveKey
INSERT INTO idempotency_keys (key, scope, user_id, state, created_at, expires_at)
VALUES ($1, $2, $3, 'in_progress', $4, $5)
ON CONFLICT (scope, user_id, key) DO UPDATE
SET state = 'in_progress', result = NULL, created_at = $4, expires_at = $5
WHERE idempotency_keys.expires_at <= $4
RETURNING state
`

const getKeyState = `-- name: GetKeyState
SELECT state, result FROM idempotency_keys
WHERE scope = $1 AND user_id = $2 AND key = $3
`

func (g *PostgresGuard) BeginOrReplay(ctx context.Context, scope string, userID uuid.UUID, key string) (Attempt, error) {
	now := time.Now()

	var state string
	err := g.DB.QueryRow(ctx, reserveKey, key, scope, userID, now, now.Add(g.ttl())).Scan(&state)

	switch {
	case err == nil:
		return Attempt{New: true}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Attempt{}, fmt.Errorf("db error: %w", err)
	}

	// Reservation lost: the key is already held. Replay if committed.
	record := models.IdempotencyRecord{Key: key, Scope: scope, UserID: userID}
	err = g.DB.QueryRow(ctx, getKeyState, scope, userID, key).Scan(&record.State, &record.Result)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Holder aborted between our two statements; caller may retry
		return Attempt{}, apperrors.ErrRequestInProgress
	case err != nil:
		return Attempt{}, fmt.Errorf("db error: %w", err)
	case record.State == models.IdempotencyStateCommitted:
		return Attempt{New: false, Result: record.Result}, nil
	default:
		return Attempt{}, apperrors.ErrRequestInProgress
	}
}

const commitKey = `-- name: CommitKey
UPDATE idempotency_keys
SET state = 'committed', result = $4
WHERE scope = $1 AND user_id = $2 AND key = $3
`

func (g *PostgresGuard) Commit(ctx context.Context, scope string, userID uuid.UUID, key string, result []byte) error {
	tag, err := g.DB.Exec(ctx, commitKey, scope, userID, key, result)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %q was not reserved", key)
	}

	return nil
}

const abortKey = `-- name: AbortKey
DELETE FROM idempotency_keys
WHERE scope = $1 AND user_id = $2 AND key = $3 AND state = 'in_progress'
`

func (g *PostgresGuard) Abort(ctx context.Context, scope string, userID uuid.UUID, key string) error {
	_, err := g.DB.Exec(ctx, abortKey, scope, userID, key)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (g *PostgresGuard) ttl() time.Duration {
	if g.TTL > 0 {
		return g.TTL
	}
	return DefaultTTL
}
