package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransactionKindPayment  = "payment"
	TransactionKindP2P      = "p2p"
	TransactionKindFund     = "fund"
	TransactionKindWithdraw = "withdraw"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction is one immutable ledger event on a single account.
// Amount is signed: negative for a debit, positive for a credit.
// Related legs (sender/recipient pair, payment/refund pair) share ReferenceID.
type Transaction struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Kind        string
	AmountMinor int64
	Status      string
	ReferenceID uuid.UUID
	Metadata    map[string]string
	CreatedAt   time.Time
}
