package payment

import (
	"github.com/shopspring/decimal"
)

type FeeType string

const (
	FeeP2P            FeeType = "p2p"
	FeeMerchant       FeeType = "merchant"
	FeeInstantCashout FeeType = "instant_cashout"
)

// 1.5% on instant cashouts, everything else is free.
var instantCashoutRate = decimal.NewFromFloat(0.015)

// CalculateFee is pure and deterministic so the fee can be quoted to the
// user before any mutation is committed.
func CalculateFee(amountMinor int64, feeType FeeType) int64 {
	switch feeType {
	case FeeInstantCashout:
		return decimal.NewFromInt(amountMinor).Mul(instantCashoutRate).Round(0).IntPart()
	default:
		return 0
	}
}
