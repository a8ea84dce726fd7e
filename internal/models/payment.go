package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PaymentTypeNFC = "nfc"
	PaymentTypeQR  = "qr"
)

// MerchantPayment is one merchant charge, linked 1:1 to the payer's debit
// Transaction. RefundedAmountMinor accumulates over partial refunds and may
// never exceed AmountMinor + TipMinor.
type MerchantPayment struct {
	ID                  uuid.UUID
	TransactionID       uuid.UUID
	MerchantID          uuid.UUID
	PaymentMethodID     *uuid.UUID
	PaymentType         string
	AmountMinor         int64
	TipMinor            int64
	RefundedAmountMinor int64
	CompletedAt         time.Time
	RefundedAt          *time.Time
}

// RefundableMinor returns how much of the charge is still refundable.
func (p MerchantPayment) RefundableMinor() int64 {
	return p.AmountMinor + p.TipMinor - p.RefundedAmountMinor
}
