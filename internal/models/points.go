package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PointsKindEarn   = "earn"
	PointsKindRedeem = "redeem"
	PointsKindExpire = "expire"
)

// PointsLot is a discrete batch of loyalty points with its own expiration.
// Points is signed: positive lots carry redeemable points, negative lots are
// redemption or expiry audit records. Lots are soft-zeroed, never deleted.
type PointsLot struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Points        int64
	Kind          string
	MerchantID    *uuid.UUID
	TransactionID *uuid.UUID
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// Live reports whether the lot still contributes to the redeemable balance.
func (l PointsLot) Live(now time.Time) bool {
	if l.Points <= 0 {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// PointsBalance is the aggregate view over a user's unexpired lots.
type PointsBalance struct {
	Total        int64
	ExpiringSoon int64
}
