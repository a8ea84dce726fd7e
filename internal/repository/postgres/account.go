package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
)

type AccountRepo struct {
	DB DBTX
}

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, owner_id, balance_minor, currency, created_at)
VALUES ($1, $2, 0, $3, $4)
RETURNING id, owner_id, balance_minor, currency, created_at
`

func (r *AccountRepo) CreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, createAccount, uuid.New(), ownerID, currency, time.Now())
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return account, apperrors.ErrAccountAlreadyExists
		}
		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccount = `-- name: GetAccount
SELECT id, owner_id, balance_minor, currency, created_at FROM accounts
WHERE id = $1
`

func (r *AccountRepo) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccount, accountID)
	return collectAccount(rows)
}

const getAccountByOwner = `-- name: GetAccountByOwner
SELECT id, owner_id, balance_minor, currency, created_at FROM accounts
WHERE owner_id = $1
`

func (r *AccountRepo) GetAccountByOwner(ctx context.Context, ownerID uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccountByOwner, ownerID)
	return collectAccount(rows)
}

func (r *AccountRepo) Adjust(ctx context.Context, accountID uuid.UUID, deltaMinor int64) (models.Account, error) {
	accounts, err := r.AdjustMany(ctx, []repository.Adjustment{{AccountID: accountID, DeltaMinor: deltaMinor}})
	if err != nil {
		return models.Account{}, err
	}

	return accounts[0], nil
}

// Rows are locked in ascending id order before any balance is read, so two
// batches touching the same accounts always serialize and never deadlock.
const lockAccounts = `-- name: LockAccounts
SELECT id, owner_id, balance_minor, currency, created_at FROM accounts
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE
`

const applyAdjustment = `-- name: ApplyAdjustment
UPDATE accounts
SET balance_minor = balance_minor + $2
WHERE id = $1
RETURNING id, owner_id, balance_minor, currency, created_at
`

func (r *AccountRepo) AdjustMany(ctx context.Context, adjustments []repository.Adjustment) ([]models.Account, error) {
	if len(adjustments) == 0 {
		return nil, fmt.Errorf("%w: empty adjustment batch", apperrors.ErrValidation)
	}

	// Collapse the batch to one delta per account and remember the ids
	deltas := make(map[uuid.UUID]int64, len(adjustments))
	ids := make([]uuid.UUID, 0, len(adjustments))
	for _, a := range adjustments {
		if _, seen := deltas[a.AccountID]; !seen {
			ids = append(ids, a.AccountID)
		}
		deltas[a.AccountID] += a.DeltaMinor
	}

	rows, _ := r.DB.Query(ctx, lockAccounts, ids)
	locked, err := pgx.CollectRows(rows, rowToAccount)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(locked) != len(ids) {
		return nil, apperrors.ErrAccountNotFound
	}

	// All balances are known and locked: reject the whole batch before any write
	for _, account := range locked {
		if account.BalanceMinor+deltas[account.ID] < 0 {
			return nil, apperrors.ErrInsufficientFunds
		}
	}

	updated := make([]models.Account, 0, len(locked))
	for _, account := range locked {
		rows, _ := r.DB.Query(ctx, applyAdjustment, account.ID, deltas[account.ID])
		a, err := pgx.CollectOneRow(rows, rowToAccount)
		if err != nil {
			// The CHECK constraint backstops the balance check above
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
				return nil, apperrors.ErrInsufficientFunds
			}
			return nil, fmt.Errorf("db error: %w", err)
		}
		updated = append(updated, a)
	}

	// Return accounts in the order the caller asked for them
	slices.SortFunc(updated, func(a, b models.Account) int {
		return slices.Index(ids, a.ID) - slices.Index(ids, b.ID)
	})

	return updated, nil
}

func collectAccount(rows pgx.Rows) (models.Account, error) {
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.BalanceMinor, &a.Currency, &a.CreatedAt)
	return a, err
}
