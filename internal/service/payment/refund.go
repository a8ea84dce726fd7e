package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
)

type RefundParams struct {
	PaymentID uuid.UUID
	Reason    string

	// RequestedBy must be the merchant the payment settled to; refunds
	// issued by anyone else are rejected.
	RequestedBy uuid.UUID

	// PartialAmountMinor refunds part of the charge; nil refunds whatever
	// is still refundable.
	PartialAmountMinor *int64
}

type RefundResult struct {
	Payment           models.MerchantPayment `json:"payment"`
	RefundTransaction models.Transaction     `json:"refund_transaction"`
	PayerBalanceMinor int64                  `json:"payer_balance_minor"`
}

// RefundPayment reverses a prior merchant payment, fully or partially.
// The payment row is locked for the whole operation so two concurrent
// refunds cannot both pass the refundable-amount check.
func (p *Processor) RefundPayment(ctx context.Context, params RefundParams) (RefundResult, error) {
	var result RefundResult

	err := p.storage.InTx(ctx, func(s repository.Storage) error {
		mp, err := s.Payment().GetPaymentForUpdate(ctx, params.PaymentID)
		if err != nil {
			return err
		}

		// Answer as not-found so callers cannot probe foreign payments
		if params.RequestedBy != mp.MerchantID {
			return fmt.Errorf("%w: payment does not belong to caller", apperrors.ErrPaymentNotFound)
		}

		refundable := mp.RefundableMinor()
		refundMinor := refundable
		if params.PartialAmountMinor != nil {
			refundMinor = *params.PartialAmountMinor
		}

		if refundMinor <= 0 || refundMinor > refundable {
			return fmt.Errorf("%w: %d refundable, %d requested", apperrors.ErrInvalidRefundAmount, refundable, refundMinor)
		}

		// The original payer leg names the account to re-credit
		original, err := s.Transaction().GetTransaction(ctx, mp.TransactionID)
		if err != nil {
			return err
		}

		merchant, err := s.Account().GetAccountByOwner(ctx, mp.MerchantID)
		if err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidMerchant, err)
		}

		accounts, err := s.Account().AdjustMany(ctx, []repository.Adjustment{
			{AccountID: original.AccountID, DeltaMinor: refundMinor},
			{AccountID: merchant.ID, DeltaMinor: -refundMinor},
		})
		if err != nil {
			return err
		}

		var metadata map[string]string
		if params.Reason != "" {
			metadata = map[string]string{"reason": params.Reason}
		}

		// Refund legs reference the original payment transaction
		refundLeg, err := s.Transaction().Append(ctx, models.Transaction{
			AccountID:   original.AccountID,
			Kind:        models.TransactionKindPayment,
			AmountMinor: refundMinor,
			Status:      models.TransactionStatusCompleted,
			ReferenceID: mp.TransactionID,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}

		_, err = s.Transaction().Append(ctx, models.Transaction{
			AccountID:   merchant.ID,
			Kind:        models.TransactionKindPayment,
			AmountMinor: -refundMinor,
			Status:      models.TransactionStatusCompleted,
			ReferenceID: mp.TransactionID,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}

		mp, err = s.Payment().AddRefund(ctx, mp.ID, refundMinor, time.Now())
		if err != nil {
			return err
		}

		result = RefundResult{
			Payment:           mp,
			RefundTransaction: refundLeg,
			PayerBalanceMinor: accounts[0].BalanceMinor,
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, nil
}
