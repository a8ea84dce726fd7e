// Package payment orchestrates the wallet's money movements: P2P transfers,
// merchant charges, funding, cashouts and refunds. Every mutation runs as a
// single storage transaction and is guarded by a client idempotency key, so
// a retried request replays the original outcome instead of moving money
// twice.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/idempotency"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/nonce"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
)

// Idempotency scopes. A client key is only unique within one operation and
// one user, so each operation reserves under its own scope.
const (
	scopeP2PTransfer     = "p2p_transfer"
	scopeMerchantPayment = "merchant_payment"
	scopeFund            = "fund"
	scopeWithdraw        = "withdraw"
)

// PlatformAccountID is the settlement account that collects instant cashout
// fees. Seeded by the initial migration.
var PlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// rewardsLedger earns points inside the payment's storage transaction.
type rewardsLedger interface {
	EarnTx(ctx context.Context, s repository.Storage, userID uuid.UUID, amountMinor int64, merchantID *uuid.UUID, transactionID *uuid.UUID) (models.PointsLot, error)
}

type Processor struct {
	storage repository.Storage
	guard   idempotency.Guard
	nonces  nonce.Registry
	rewards rewardsLedger
	logger  logger.Logger
}

func NewProcessor(storage repository.Storage, guard idempotency.Guard, nonces nonce.Registry, rewards rewardsLedger, l logger.Logger) *Processor {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Processor{
		storage: storage,
		guard:   guard,
		nonces:  nonces,
		rewards: rewards,
		logger:  l,
	}
}

type TransferParams struct {
	SenderID        uuid.UUID
	RecipientID     uuid.UUID
	AmountMinor     int64
	Note            string
	PaymentMethodID *uuid.UUID
	IdempotencyKey  string
}

type TransferResult struct {
	Transfer              models.P2PTransfer `json:"transfer"`
	Transaction           models.Transaction `json:"transaction"`
	SenderBalanceMinor    int64              `json:"sender_balance_minor"`
	RecipientBalanceMinor int64              `json:"recipient_balance_minor"`

	// Replayed marks a result served from the idempotency cache. Not part
	// of the cached snapshot itself.
	Replayed bool `json:"-"`
}

func (p *Processor) ProcessP2PTransfer(ctx context.Context, params TransferParams) (TransferResult, error) {
	if params.AmountMinor <= 0 {
		return TransferResult{}, fmt.Errorf("%w: transfer amount must be positive", apperrors.ErrValidation)
	}
	if params.SenderID == params.RecipientID {
		return TransferResult{}, fmt.Errorf("%w: sender and recipient must differ", apperrors.ErrInvalidRecipient)
	}

	return runIdempotent(ctx, p, scopeP2PTransfer, params.SenderID, params.IdempotencyKey, func() (TransferResult, error) {
		return p.executeTransfer(ctx, params)
	})
}

func (p *Processor) executeTransfer(ctx context.Context, params TransferParams) (TransferResult, error) {
	var result TransferResult

	err := p.storage.InTx(ctx, func(s repository.Storage) error {
		sender, err := s.Account().GetAccountByOwner(ctx, params.SenderID)
		if err != nil {
			return fmt.Errorf("sender account: %w", err)
		}

		recipient, err := s.Account().GetAccountByOwner(ctx, params.RecipientID)
		if err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidRecipient, err)
		}

		accounts, err := s.Account().AdjustMany(ctx, []repository.Adjustment{
			{AccountID: sender.ID, DeltaMinor: -params.AmountMinor},
			{AccountID: recipient.ID, DeltaMinor: params.AmountMinor},
		})
		if err != nil {
			return err
		}

		var metadata map[string]string
		if params.Note != "" {
			metadata = map[string]string{"note": params.Note}
		}

		// Both legs share one reference so the pair can always be rejoined
		referenceID := uuid.New()

		senderLeg, err := s.Transaction().Append(ctx, models.Transaction{
			AccountID:   sender.ID,
			Kind:        models.TransactionKindP2P,
			AmountMinor: -params.AmountMinor,
			Status:      models.TransactionStatusCompleted,
			ReferenceID: referenceID,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}

		_, err = s.Transaction().Append(ctx, models.Transaction{
			AccountID:   recipient.ID,
			Kind:        models.TransactionKindP2P,
			AmountMinor: params.AmountMinor,
			Status:      models.TransactionStatusCompleted,
			ReferenceID: referenceID,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}

		transfer, err := s.Transfer().CreateTransfer(ctx, models.P2PTransfer{
			TransactionID: senderLeg.ID,
			SenderID:      params.SenderID,
			RecipientID:   params.RecipientID,
			AmountMinor:   params.AmountMinor,
			Status:        models.TransferStatusCompleted,
		})
		if err != nil {
			return err
		}

		result = TransferResult{
			Transfer:              transfer,
			Transaction:           senderLeg,
			SenderBalanceMinor:    accounts[0].BalanceMinor,
			RecipientBalanceMinor: accounts[1].BalanceMinor,
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

type MerchantPaymentParams struct {
	UserID          uuid.UUID
	MerchantID      uuid.UUID
	AmountMinor     int64
	TipMinor        int64
	PaymentType     string
	Nonce           string
	PaymentMethodID *uuid.UUID
	IdempotencyKey  string
}

type MerchantPaymentResult struct {
	Payment           models.MerchantPayment `json:"payment"`
	Transaction       models.Transaction     `json:"transaction"`
	PayerBalanceMinor int64                  `json:"payer_balance_minor"`
	PointsEarned      int64                  `json:"points_earned"`

	Replayed bool `json:"-"`
}

func (p *Processor) ProcessMerchantPayment(ctx context.Context, params MerchantPaymentParams) (MerchantPaymentResult, error) {
	switch {
	case params.AmountMinor < 0:
		return MerchantPaymentResult{}, fmt.Errorf("%w: amount must not be negative", apperrors.ErrValidation)
	case params.TipMinor < 0:
		return MerchantPaymentResult{}, fmt.Errorf("%w: tip must not be negative", apperrors.ErrValidation)
	case params.AmountMinor+params.TipMinor == 0:
		return MerchantPaymentResult{}, fmt.Errorf("%w: total charge must be positive", apperrors.ErrValidation)
	case params.UserID == params.MerchantID:
		// A self-payment nets to zero but would still accrue points
		return MerchantPaymentResult{}, fmt.Errorf("%w: payer and merchant must differ", apperrors.ErrInvalidMerchant)
	case params.PaymentType != models.PaymentTypeNFC && params.PaymentType != models.PaymentTypeQR:
		return MerchantPaymentResult{}, fmt.Errorf("%w: unknown payment type %q", apperrors.ErrValidation, params.PaymentType)
	case params.Nonce == "":
		return MerchantPaymentResult{}, fmt.Errorf("%w: nonce is required", apperrors.ErrValidation)
	}

	return runIdempotent(ctx, p, scopeMerchantPayment, params.UserID, params.IdempotencyKey, func() (MerchantPaymentResult, error) {
		// Claimed before any money moves and never released: a nonce is
		// single-use even when the payment it guarded fails
		if err := p.nonces.Claim(ctx, params.Nonce); err != nil {
			return MerchantPaymentResult{}, err
		}

		return p.executeMerchantPayment(ctx, params)
	})
}

func (p *Processor) executeMerchantPayment(ctx context.Context, params MerchantPaymentParams) (MerchantPaymentResult, error) {
	var result MerchantPaymentResult
	totalMinor := params.AmountMinor + params.TipMinor

	err := p.storage.InTx(ctx, func(s repository.Storage) error {
		payer, err := s.Account().GetAccountByOwner(ctx, params.UserID)
		if err != nil {
			return fmt.Errorf("payer account: %w", err)
		}

		merchant, err := s.Account().GetAccountByOwner(ctx, params.MerchantID)
		if err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidMerchant, err)
		}

		accounts, err := s.Account().AdjustMany(ctx, []repository.Adjustment{
			{AccountID: payer.ID, DeltaMinor: -totalMinor},
			{AccountID: merchant.ID, DeltaMinor: totalMinor},
		})
		if err != nil {
			return err
		}

		referenceID := uuid.New()

		payerLeg, err := s.Transaction().Append(ctx, models.Transaction{
			AccountID:   payer.ID,
			Kind:        models.TransactionKindPayment,
			AmountMinor: -totalMinor,
			Status:      models.TransactionStatusCompleted,
			ReferenceID: referenceID,
			Metadata:    map[string]string{"merchant_id": params.MerchantID.String()},
		})
		if err != nil {
			return err
		}

		_, err = s.Transaction().Append(ctx, models.Transaction{
			AccountID:   merchant.ID,
			Kind:        models.TransactionKindPayment,
			AmountMinor: totalMinor,
			Status:      models.TransactionStatusCompleted,
			ReferenceID: referenceID,
		})
		if err != nil {
			return err
		}

		merchantPayment, err := s.Payment().CreatePayment(ctx, models.MerchantPayment{
			TransactionID:   payerLeg.ID,
			MerchantID:      params.MerchantID,
			PaymentMethodID: params.PaymentMethodID,
			PaymentType:     params.PaymentType,
			AmountMinor:     params.AmountMinor,
			TipMinor:        params.TipMinor,
		})
		if err != nil {
			return err
		}

		// Points accrue on the base amount only, never on the tip
		lot, err := p.rewards.EarnTx(ctx, s, params.UserID, params.AmountMinor, &params.MerchantID, &payerLeg.ID)
		if err != nil {
			return fmt.Errorf("earn points: %w", err)
		}

		result = MerchantPaymentResult{
			Payment:           merchantPayment,
			Transaction:       payerLeg,
			PayerBalanceMinor: accounts[0].BalanceMinor,
			PointsEarned:      lot.Points,
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

type FundParams struct {
	UserID          uuid.UUID
	AmountMinor     int64
	PaymentMethodID *uuid.UUID
	IdempotencyKey  string
}

type FundResult struct {
	Transaction  models.Transaction `json:"transaction"`
	BalanceMinor int64              `json:"balance_minor"`

	Replayed bool `json:"-"`
}

// Fund credits the wallet from an external rail. The card/bank leg is settled
// by the tokenization provider before this is called; only the wallet leg is
// recorded here.
func (p *Processor) Fund(ctx context.Context, params FundParams) (FundResult, error) {
	if params.AmountMinor <= 0 {
		return FundResult{}, fmt.Errorf("%w: funding amount must be positive", apperrors.ErrValidation)
	}

	return runIdempotent(ctx, p, scopeFund, params.UserID, params.IdempotencyKey, func() (FundResult, error) {
		var result FundResult

		err := p.storage.InTx(ctx, func(s repository.Storage) error {
			account, err := s.Account().GetAccountByOwner(ctx, params.UserID)
			if err != nil {
				return err
			}

			account, err = s.Account().Adjust(ctx, account.ID, params.AmountMinor)
			if err != nil {
				return err
			}

			transaction, err := s.Transaction().Append(ctx, models.Transaction{
				AccountID:   account.ID,
				Kind:        models.TransactionKindFund,
				AmountMinor: params.AmountMinor,
				Status:      models.TransactionStatusCompleted,
				ReferenceID: uuid.New(),
			})
			if err != nil {
				return err
			}

			result = FundResult{Transaction: transaction, BalanceMinor: account.BalanceMinor}
			return nil
		})

		return result, err
	})
}

type WithdrawParams struct {
	UserID         uuid.UUID
	AmountMinor    int64
	Instant        bool
	IdempotencyKey string
}

type WithdrawResult struct {
	Transaction  models.Transaction `json:"transaction"`
	FeeMinor     int64              `json:"fee_minor"`
	PayoutMinor  int64              `json:"payout_minor"`
	BalanceMinor int64              `json:"balance_minor"`

	Replayed bool `json:"-"`
}

// Withdraw debits the wallet towards an external rail. Instant cashouts pay
// the 1.5% fee, which settles into the platform account; the remainder
// leaves the ledger.
func (p *Processor) Withdraw(ctx context.Context, params WithdrawParams) (WithdrawResult, error) {
	if params.AmountMinor <= 0 {
		return WithdrawResult{}, fmt.Errorf("%w: withdrawal amount must be positive", apperrors.ErrValidation)
	}

	feeType := FeeP2P
	if params.Instant {
		feeType = FeeInstantCashout
	}
	feeMinor := CalculateFee(params.AmountMinor, feeType)

	return runIdempotent(ctx, p, scopeWithdraw, params.UserID, params.IdempotencyKey, func() (WithdrawResult, error) {
		var result WithdrawResult

		err := p.storage.InTx(ctx, func(s repository.Storage) error {
			account, err := s.Account().GetAccountByOwner(ctx, params.UserID)
			if err != nil {
				return err
			}

			accounts, err := s.Account().AdjustMany(ctx, []repository.Adjustment{
				{AccountID: account.ID, DeltaMinor: -params.AmountMinor},
				{AccountID: PlatformAccountID, DeltaMinor: feeMinor},
			})
			if err != nil {
				return err
			}

			referenceID := uuid.New()

			transaction, err := s.Transaction().Append(ctx, models.Transaction{
				AccountID:   account.ID,
				Kind:        models.TransactionKindWithdraw,
				AmountMinor: -params.AmountMinor,
				Status:      models.TransactionStatusCompleted,
				ReferenceID: referenceID,
			})
			if err != nil {
				return err
			}

			if feeMinor > 0 {
				_, err = s.Transaction().Append(ctx, models.Transaction{
					AccountID:   PlatformAccountID,
					Kind:        models.TransactionKindWithdraw,
					AmountMinor: feeMinor,
					Status:      models.TransactionStatusCompleted,
					ReferenceID: referenceID,
					Metadata:    map[string]string{"fee_type": string(FeeInstantCashout)},
				})
				if err != nil {
					return err
				}
			}

			result = WithdrawResult{
				Transaction:  transaction,
				FeeMinor:     feeMinor,
				PayoutMinor:  params.AmountMinor - feeMinor,
				BalanceMinor: accounts[0].BalanceMinor,
			}
			return nil
		})

		return result, err
	})
}

// PaymentStatus is the read-only view behind GetPaymentStatus.
type PaymentStatus struct {
	ID     uuid.UUID `json:"id"`
	Kind   string    `json:"kind"`
	Status string    `json:"status"`
}

// GetPaymentStatus resolves the id against merchant payments, transfers and
// raw ledger records, in that order.
func (p *Processor) GetPaymentStatus(ctx context.Context, id uuid.UUID) (PaymentStatus, error) {
	mp, err := p.storage.Payment().GetPayment(ctx, id)
	switch {
	case err == nil:
		status := "completed"
		switch {
		case mp.RefundableMinor() == 0 && mp.RefundedAt != nil:
			status = "refunded"
		case mp.RefundedAmountMinor > 0:
			status = "partially_refunded"
		}
		return PaymentStatus{ID: mp.ID, Kind: "merchant_payment", Status: status}, nil
	case !errorsIsNotFound(err):
		return PaymentStatus{}, err
	}

	transfer, err := p.storage.Transfer().GetTransfer(ctx, id)
	switch {
	case err == nil:
		return PaymentStatus{ID: transfer.ID, Kind: "p2p_transfer", Status: transfer.Status}, nil
	case !errorsIsNotFound(err):
		return PaymentStatus{}, err
	}

	transaction, err := p.storage.Transaction().GetTransaction(ctx, id)
	switch {
	case err == nil:
		return PaymentStatus{ID: transaction.ID, Kind: transaction.Kind, Status: transaction.Status}, nil
	case errorsIsNotFound(err):
		return PaymentStatus{}, apperrors.ErrPaymentNotFound
	default:
		return PaymentStatus{}, err
	}
}

// runIdempotent reserves the key, runs fn at most once and caches its result.
// With an empty key fn just runs: the caller accepted retry risk.
func runIdempotent[T any](ctx context.Context, p *Processor, scope string, userID uuid.UUID, key string, fn func() (T, error)) (T, error) {
	var zero T

	if key == "" {
		return fn()
	}

	attempt, err := p.guard.BeginOrReplay(ctx, scope, userID, key)
	if err != nil {
		return zero, err
	}

	if !attempt.New {
		var cached T
		if err := json.Unmarshal(attempt.Result, &cached); err != nil {
			return zero, fmt.Errorf("decode cached result: %w", err)
		}
		markReplayed(&cached)
		return cached, nil
	}

	result, err := fn()
	if err != nil {
		// Release the key so a corrected retry can execute
		if abortErr := p.guard.Abort(ctx, scope, userID, key); abortErr != nil {
			p.logger.Error("Failed to release idempotency key", "error", abortErr, "scope", scope, "key", key)
		}
		return zero, err
	}

	snapshot, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encode result snapshot: %w", err)
	}

	// The mutation is already committed: a commit failure here must not fail
	// the request, it only costs replay protection for this key
	if err := p.guard.Commit(ctx, scope, userID, key, snapshot); err != nil {
		p.logger.Error("Failed to commit idempotency key", "error", err, "scope", scope, "key", key)
	}

	return result, nil
}

type replayable interface {
	setReplayed()
}

func markReplayed(v any) {
	if r, ok := v.(replayable); ok {
		r.setReplayed()
	}
}

func (r *TransferResult) setReplayed()        { r.Replayed = true }
func (r *MerchantPaymentResult) setReplayed() { r.Replayed = true }
func (r *FundResult) setReplayed()            { r.Replayed = true }
func (r *WithdrawResult) setReplayed()        { r.Replayed = true }

func errorsIsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrPaymentNotFound) ||
		errors.Is(err, apperrors.ErrTransferNotFound) ||
		errors.Is(err, apperrors.ErrTransactionNotFound)
}
