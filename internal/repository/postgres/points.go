package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tap2-payments/tap2-wallet/internal/models"
)

type PointsRepo struct {
	DB DBTX
}

const lotColumns = `id, user_id, points, kind, merchant_id, transaction_id, expires_at, created_at`

const createLot = `-- name: CreateLot
INSERT INTO points_lots (id, user_id, points, kind, merchant_id, transaction_id, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + lotColumns

func (r *PointsRepo) CreateLot(ctx context.Context, lot models.PointsLot) (models.PointsLot, error) {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createLot, lot.ID, lot.UserID, lot.Points, lot.Kind, lot.MerchantID, lot.TransactionID, lot.ExpiresAt, lot.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToLot)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

// Earliest-expiring lots come first so redemption consumes them FIFO by
// expiry; lots without expiration are spent last.
const listLiveLots = `-- name: ListLiveLotsForUpdate
SELECT ` + lotColumns + ` FROM points_lots
WHERE user_id = $1
  AND points > 0
  AND (expires_at IS NULL OR expires_at > $2)
ORDER BY expires_at ASC NULLS LAST, created_at ASC
FOR UPDATE
`

func (r *PointsRepo) ListLiveLotsForUpdate(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointsLot, error) {
	rows, _ := r.DB.Query(ctx, listLiveLots, userID, now)
	lots, err := pgx.CollectRows(rows, rowToLot)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return lots, nil
}

const setLotPoints = `-- name: SetLotPoints
UPDATE points_lots
SET points = $2
WHERE id = $1
`

func (r *PointsRepo) SetLotPoints(ctx context.Context, lotID uuid.UUID, points int64) error {
	tag, err := r.DB.Exec(ctx, setLotPoints, lotID, points)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lot %s does not exist", lotID)
	}

	return nil
}

// Balance reads always exclude expired lots, whether or not the sweeper has
// zeroed them yet.
const getPointsBalance = `-- name: GetPointsBalance
SELECT
	COALESCE(SUM(points), 0),
	COALESCE(SUM(points) FILTER (WHERE expires_at IS NOT NULL AND expires_at <= $3), 0)
FROM points_lots
WHERE user_id = $1
  AND points > 0
  AND (expires_at IS NULL OR expires_at > $2)
`

func (r *PointsRepo) GetBalance(ctx context.Context, userID uuid.UUID, now time.Time, soonWindow time.Duration) (models.PointsBalance, error) {
	var b models.PointsBalance
	err := r.DB.QueryRow(ctx, getPointsBalance, userID, now, now.Add(soonWindow)).Scan(&b.Total, &b.ExpiringSoon)
	if err != nil {
		return b, fmt.Errorf("db error: %w", err)
	}

	return b, nil
}

const listHistory = `-- name: ListHistory
SELECT ` + lotColumns + ` FROM points_lots
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`

func (r *PointsRepo) ListHistory(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]models.PointsLot, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, _ := r.DB.Query(ctx, listHistory, userID, limit, offset)
	lots, err := pgx.CollectRows(rows, rowToLot)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return lots, nil
}

// SKIP LOCKED lets concurrent sweepers split the backlog instead of blocking
// on each other.
const listExpiredLots = `-- name: ListExpiredLots
SELECT ` + lotColumns + ` FROM points_lots
WHERE points > 0
  AND expires_at IS NOT NULL
  AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`

func (r *PointsRepo) ListExpiredLots(ctx context.Context, now time.Time, limit int) ([]models.PointsLot, error) {
	rows, _ := r.DB.Query(ctx, listExpiredLots, now, limit)
	lots, err := pgx.CollectRows(rows, rowToLot)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return lots, nil
}

func rowToLot(row pgx.CollectableRow) (models.PointsLot, error) {
	var l models.PointsLot
	err := row.Scan(&l.ID, &l.UserID, &l.Points, &l.Kind, &l.MerchantID, &l.TransactionID, &l.ExpiresAt, &l.CreatedAt)
	return l, err
}
