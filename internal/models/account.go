package models

import (
	"time"

	"github.com/google/uuid"
)

// Account holds one owner's spendable balance in the currency's minor
// units (cents). Balance never goes below zero after a committed mutation.
type Account struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	BalanceMinor int64
	Currency     string
	CreatedAt    time.Time
}
