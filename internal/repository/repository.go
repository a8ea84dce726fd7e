package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tap2-payments/tap2-wallet/internal/models"
)

// Adjustment is one account delta inside an all-or-nothing batch.
type Adjustment struct {
	AccountID  uuid.UUID
	DeltaMinor int64
}

// Account repository interface
type AccountRepo interface {
	// Create account for owner with zero balance
	// If owner already has an account must return apperrors.ErrAccountAlreadyExists
	CreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (models.Account, error)

	// Get account by its id or by its owner
	// If account not found must return apperrors.ErrAccountNotFound
	GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	GetAccountByOwner(ctx context.Context, ownerID uuid.UUID) (models.Account, error)

	// Adjust applies one signed delta to the account balance.
	// Must return apperrors.ErrInsufficientFunds if the balance would go negative.
	Adjust(ctx context.Context, accountID uuid.UUID, deltaMinor int64) (models.Account, error)

	// AdjustMany applies a set of deltas as a single all-or-nothing unit.
	// The only safe primitive for multi-account moves: rows are locked before
	// any balance is read, so concurrent callers serialize per account.
	AdjustMany(ctx context.Context, adjustments []Adjustment) ([]models.Account, error)
}

// Options to filter the transaction listing. Zero value lists everything.
type ListTransactionsOpts struct {
	Limit  int
	Offset int
	Kinds  []string
	From   *time.Time
	To     *time.Time
}

// Append-only transaction log interface.
// No update or delete is ever exposed: corrections are new records that
// reference the original through ReferenceID.
type TransactionRepo interface {
	// Append transaction record
	// Completed records with zero amount must be rejected with apperrors.ErrValidation
	Append(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// Get record by id
	// If record not found must return apperrors.ErrTransactionNotFound
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)

	// List records for the account ordered newest first
	ListTransactions(ctx context.Context, accountID uuid.UUID, opts ListTransactionsOpts) ([]models.Transaction, error)
}

// Merchant payment repository interface
type PaymentRepo interface {
	CreatePayment(ctx context.Context, p models.MerchantPayment) (models.MerchantPayment, error)

	// Get payment by its id
	// If payment not found must return apperrors.ErrPaymentNotFound
	GetPayment(ctx context.Context, id uuid.UUID) (models.MerchantPayment, error)

	// GetPaymentForUpdate locks the payment row until the surrounding
	// transaction ends. Refunds must read through this method
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (models.MerchantPayment, error)

	// AddRefund accumulates a refunded amount and stamps refunded_at on first refund
	AddRefund(ctx context.Context, id uuid.UUID, amountMinor int64, refundedAt time.Time) (models.MerchantPayment, error)
}

// P2P transfer repository interface
type TransferRepo interface {
	CreateTransfer(ctx context.Context, t models.P2PTransfer) (models.P2PTransfer, error)

	// Get transfer by its id
	// If transfer not found must return apperrors.ErrTransferNotFound
	GetTransfer(ctx context.Context, id uuid.UUID) (models.P2PTransfer, error)
	GetTransferByTransaction(ctx context.Context, transactionID uuid.UUID) (models.P2PTransfer, error)
}

// Points lots repository interface
type PointsRepo interface {
	CreateLot(ctx context.Context, lot models.PointsLot) (models.PointsLot, error)

	// ListLiveLotsForUpdate returns the user's unexpired positive lots
	// ordered earliest-expiring first (ties broken by created_at ascending)
	// and locks them until the surrounding transaction ends
	ListLiveLotsForUpdate(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointsLot, error)

	// SetLotPoints soft-zeroes or partially decrements one lot
	SetLotPoints(ctx context.Context, lotID uuid.UUID, points int64) error

	// GetBalance sums unexpired positive lots. ExpiringSoon counts points
	// that expire within the soon window
	GetBalance(ctx context.Context, userID uuid.UUID, now time.Time, soonWindow time.Duration) (models.PointsBalance, error)

	// ListHistory returns all lots (earn and audit records) newest first
	ListHistory(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]models.PointsLot, error)

	// ListExpiredLots returns stale lots that still carry points, locked,
	// skipping rows locked by a concurrent sweeper
	ListExpiredLots(ctx context.Context, now time.Time, limit int) ([]models.PointsLot, error)
}

// Storage aggregates all repositories over one database handle.
// InTx runs fn against a transaction-backed Storage: everything fn does
// commits or rolls back as one unit.
type Storage interface {
	Account() AccountRepo
	Transaction() TransactionRepo
	Payment() PaymentRepo
	Transfer() TransferRepo
	Points() PointsRepo

	InTx(ctx context.Context, fn func(s Storage) error) error
}
