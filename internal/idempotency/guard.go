// Package idempotency deduplicates retried mutating requests by a
// client-supplied key. A key is reserved atomically before the request
// executes, so at most one caller ever proceeds as new; everyone else either
// replays the cached result or is told to retry while the first attempt is
// still in flight.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Keys outlive their request by this much so late client retries still replay.
const DefaultTTL = 24 * time.Hour

// Attempt is the outcome of reserving a key.
// If New is true the caller owns the key and must finish with Commit or
// Abort. Otherwise Result holds the committed snapshot of the first attempt.
type Attempt struct {
	New    bool
	Result []byte
}

// Guard reserves and replays idempotency keys.
// Keys are scoped by operation name and user, so the same client key on two
// endpoints never collides.
type Guard interface {
	BeginOrReplay(ctx context.Context, scope string, userID uuid.UUID, key string) (Attempt, error)
	Commit(ctx context.Context, scope string, userID uuid.UUID, key string, result []byte) error
	Abort(ctx context.Context, scope string, userID uuid.UUID, key string) error
}
