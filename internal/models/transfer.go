package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransferStatusPending   = "pending"
	TransferStatusCompleted = "completed"
	TransferStatusFailed    = "failed"
	TransferStatusCancelled = "cancelled"
)

// P2PTransfer is one peer-to-peer money movement. Status only moves
// forward: pending -> completed|failed|cancelled, terminal states final.
type P2PTransfer struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	SenderID      uuid.UUID
	RecipientID   uuid.UUID
	AmountMinor   int64
	Status        string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}
