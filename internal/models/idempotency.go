package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	IdempotencyStateInProgress = "in_progress"
	IdempotencyStateCommitted  = "committed"
)

// IdempotencyRecord reserves a client-supplied key for a mutating request
// and, once the request finishes, caches its serialized result so retries
// replay the original outcome instead of re-executing.
type IdempotencyRecord struct {
	Key       string
	Scope     string
	UserID    uuid.UUID
	State     string
	Result    []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}
