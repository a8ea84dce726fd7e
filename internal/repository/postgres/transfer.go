package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/models"
)

type TransferRepo struct {
	DB DBTX
}

const transferColumns = `id, transaction_id, sender_id, recipient_id, amount_minor, status, expires_at, created_at`

const createTransfer = `-- name: CreateTransfer
INSERT INTO p2p_transfers (id, transaction_id, sender_id, recipient_id, amount_minor, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + transferColumns

func (r *TransferRepo) CreateTransfer(ctx context.Context, t models.P2PTransfer) (models.P2PTransfer, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createTransfer, t.ID, t.TransactionID, t.SenderID, t.RecipientID, t.AmountMinor, t.Status, t.ExpiresAt, t.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToTransfer)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getTransfer = `-- name: GetTransfer
SELECT ` + transferColumns + ` FROM p2p_transfers
WHERE id = $1
`

func (r *TransferRepo) GetTransfer(ctx context.Context, id uuid.UUID) (models.P2PTransfer, error) {
	rows, _ := r.DB.Query(ctx, getTransfer, id)
	return collectTransfer(rows)
}

const getTransferByTransaction = `-- name: GetTransferByTransaction
SELECT ` + transferColumns + ` FROM p2p_transfers
WHERE transaction_id = $1
`

func (r *TransferRepo) GetTransferByTransaction(ctx context.Context, transactionID uuid.UUID) (models.P2PTransfer, error) {
	rows, _ := r.DB.Query(ctx, getTransferByTransaction, transactionID)
	return collectTransfer(rows)
}

func collectTransfer(rows pgx.Rows) (models.P2PTransfer, error) {
	t, err := pgx.CollectOneRow(rows, rowToTransfer)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransferNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func rowToTransfer(row pgx.CollectableRow) (models.P2PTransfer, error) {
	var t models.P2PTransfer
	err := row.Scan(&t.ID, &t.TransactionID, &t.SenderID, &t.RecipientID, &t.AmountMinor, &t.Status, &t.ExpiresAt, &t.CreatedAt)
	return t, err
}
