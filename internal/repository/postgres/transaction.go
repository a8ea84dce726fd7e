package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const appendTransaction = `-- name: AppendTransaction
INSERT INTO transactions (id, account_id, kind, amount_minor, status, reference_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, account_id, kind, amount_minor, status, reference_id, metadata, created_at
`

func (r *TransactionRepo) Append(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if t.Status == models.TransactionStatusCompleted && t.AmountMinor == 0 {
		return t, fmt.Errorf("%w: completed transaction with zero amount", apperrors.ErrValidation)
	}

	// Transaction with defaults
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = models.TransactionStatusCompleted
	}

	rows, _ := r.DB.Query(ctx, appendTransaction, t.ID, t.AccountID, t.Kind, t.AmountMinor, t.Status, t.ReferenceID, t.Metadata, t.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getTransaction = `-- name: GetTransaction
SELECT id, account_id, kind, amount_minor, status, reference_id, metadata, created_at FROM transactions
WHERE id = $1
`

func (r *TransactionRepo) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransaction, id)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func (r *TransactionRepo) ListTransactions(ctx context.Context, accountID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, account_id, kind, amount_minor, status, reference_id, metadata, created_at FROM transactions WHERE account_id = $1`)
	args := []any{accountID}

	if len(opts.Kinds) > 0 {
		args = append(args, opts.Kinds)
		sb.WriteString(` AND kind = ANY($` + strconv.Itoa(len(args)) + `)`)
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		sb.WriteString(` AND created_at >= $` + strconv.Itoa(len(args)) + ``)
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		sb.WriteString(` AND created_at < $` + strconv.Itoa(len(args)) + ``)
	}

	sb.WriteString(` ORDER BY created_at DESC, id DESC`)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		sb.WriteString(` LIMIT $` + strconv.Itoa(len(args)) + ``)
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		sb.WriteString(` OFFSET $` + strconv.Itoa(len(args)) + ``)
	}

	rows, _ := r.DB.Query(ctx, sb.String(), args...)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Kind, &t.AmountMinor, &t.Status, &t.ReferenceID, &t.Metadata, &t.CreatedAt)
	return t, err
}
