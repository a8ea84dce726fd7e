package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/models"
)

type PaymentRepo struct {
	DB DBTX
}

const paymentColumns = `id, transaction_id, merchant_id, payment_method_id, payment_type, amount_minor, tip_minor, refunded_amount_minor, completed_at, refunded_at`

const createPayment = `-- name: CreatePayment
INSERT INTO merchant_payments (id, transaction_id, merchant_id, payment_method_id, payment_type, amount_minor, tip_minor, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + paymentColumns

func (r *PaymentRepo) CreatePayment(ctx context.Context, p models.MerchantPayment) (models.MerchantPayment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CompletedAt.IsZero() {
		p.CompletedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createPayment, p.ID, p.TransactionID, p.MerchantID, p.PaymentMethodID, p.PaymentType, p.AmountMinor, p.TipMinor, p.CompletedAt)
	created, err := pgx.CollectOneRow(rows, rowToPayment)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getPayment = `-- name: GetPayment
SELECT ` + paymentColumns + ` FROM merchant_payments
WHERE id = $1
`

func (r *PaymentRepo) GetPayment(ctx context.Context, id uuid.UUID) (models.MerchantPayment, error) {
	rows, _ := r.DB.Query(ctx, getPayment, id)
	return collectPayment(rows)
}

const getPaymentForUpdate = getPayment + `FOR UPDATE
`

func (r *PaymentRepo) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (models.MerchantPayment, error) {
	rows, _ := r.DB.Query(ctx, getPaymentForUpdate, id)
	return collectPayment(rows)
}

// First refund stamps refunded_at; later partial refunds keep the original
// stamp and only grow the accumulator.
const addRefund = `-- name: AddRefund
UPDATE merchant_payments
SET refunded_amount_minor = refunded_amount_minor + $2,
    refunded_at = COALESCE(refunded_at, $3)
WHERE id = $1
RETURNING ` + paymentColumns

func (r *PaymentRepo) AddRefund(ctx context.Context, id uuid.UUID, amountMinor int64, refundedAt time.Time) (models.MerchantPayment, error) {
	rows, _ := r.DB.Query(ctx, addRefund, id, amountMinor, refundedAt)
	p, err := pgx.CollectOneRow(rows, rowToPayment)

	if err != nil {
		// The accumulator CHECK backstops the service-level bound
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return p, apperrors.ErrInvalidRefundAmount
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return p, apperrors.ErrPaymentNotFound
		}
		return p, fmt.Errorf("db error: %w", err)
	}

	return p, nil
}

func collectPayment(rows pgx.Rows) (models.MerchantPayment, error) {
	p, err := pgx.CollectOneRow(rows, rowToPayment)

	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, pgx.ErrNoRows):
		return p, apperrors.ErrPaymentNotFound
	default:
		return p, fmt.Errorf("db error: %w", err)
	}
}

func rowToPayment(row pgx.CollectableRow) (models.MerchantPayment, error) {
	var p models.MerchantPayment
	err := row.Scan(&p.ID, &p.TransactionID, &p.MerchantID, &p.PaymentMethodID, &p.PaymentType, &p.AmountMinor, &p.TipMinor, &p.RefundedAmountMinor, &p.CompletedAt, &p.RefundedAt)
	return p, err
}
