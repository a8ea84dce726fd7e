package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
	"github.com/tap2-payments/tap2-wallet/internal/testutil"
)

func TestPoints(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	now := time.Now().Truncate(time.Millisecond)
	expiry := func(d time.Duration) *time.Time {
		at := now.Add(d)
		return &at
	}

	seedLot := func(t *testing.T, storage repository.Storage, userID uuid.UUID, points int64, expiresAt *time.Time, createdAt time.Time) models.PointsLot {
		t.Helper()

		lot, err := storage.Points().CreateLot(t.Context(), models.PointsLot{
			UserID:    userID,
			Points:    points,
			Kind:      models.PointsKindEarn,
			ExpiresAt: expiresAt,
			CreatedAt: createdAt,
		})
		require.NoError(t, err)
		return lot
	}

	t.Run("ListLiveLotsForUpdate", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			noExpiry := seedLot(t, storage, userID, 10, nil, now.Add(-3*time.Hour))
			late := seedLot(t, storage, userID, 20, expiry(30*24*time.Hour), now.Add(-2*time.Hour))
			early := seedLot(t, storage, userID, 30, expiry(5*24*time.Hour), now.Add(-1*time.Hour))
			seedLot(t, storage, userID, 40, expiry(-time.Hour), now.Add(-4*time.Hour))        // expired
			seedLot(t, storage, uuid.New(), 50, expiry(24*time.Hour), now.Add(-1*time.Hour)) // other user

			lots, err := storage.Points().ListLiveLotsForUpdate(t.Context(), userID, now)

			require.NoError(t, err)
			require.Len(t, lots, 3, "expired and foreign lots must be excluded")
			require.Equal(t, early.ID, lots[0].ID, "earliest expiring lot comes first")
			require.Equal(t, late.ID, lots[1].ID)
			require.Equal(t, noExpiry.ID, lots[2].ID, "lots without expiry are consumed last")
		})
	})

	t.Run("GetBalance", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			seedLot(t, storage, userID, 100, expiry(5*24*time.Hour), now)   // expiring soon
			seedLot(t, storage, userID, 200, expiry(200*24*time.Hour), now) // far out
			seedLot(t, storage, userID, 300, nil, now)                      // never expires
			seedLot(t, storage, userID, 50, expiry(-time.Hour), now)        // already expired

			balance, err := storage.Points().GetBalance(t.Context(), userID, now, 30*24*time.Hour)

			require.NoError(t, err)
			require.Equal(t, int64(600), balance.Total, "expired lots must not count")
			require.Equal(t, int64(100), balance.ExpiringSoon, "only lots inside the soon window count")
		})
	})

	t.Run("SetLotPoints", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()
			lot := seedLot(t, storage, userID, 100, expiry(24*time.Hour), now)

			t.Run("partial decrement", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					err := storage.Points().SetLotPoints(t.Context(), lot.ID, 40)
					require.NoError(t, err)

					balance, err := storage.Points().GetBalance(t.Context(), userID, now, time.Hour)
					require.NoError(t, err)
					require.Equal(t, int64(40), balance.Total)
				})
			})

			t.Run("soft zero drops lot from live set", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					err := storage.Points().SetLotPoints(t.Context(), lot.ID, 0)
					require.NoError(t, err)

					lots, err := storage.Points().ListLiveLotsForUpdate(t.Context(), userID, now)
					require.NoError(t, err)
					require.Empty(t, lots, "zeroed lot cannot be redeemed again")

					history, err := storage.Points().ListHistory(t.Context(), userID, 10, 0)
					require.NoError(t, err)
					require.Len(t, history, 1, "zeroed lot stays visible in history")
				})
			})

			t.Run("nonexistent lot", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					err := storage.Points().SetLotPoints(t.Context(), uuid.New(), 0)

					require.Error(t, err, "updating unknown lot should fail")
				})
			})
		})
	})

	t.Run("ListHistory", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			seedLot(t, storage, userID, 100, expiry(24*time.Hour), now.Add(-2*time.Hour))
			redeem, err := storage.Points().CreateLot(t.Context(), models.PointsLot{
				UserID:    userID,
				Points:    -60,
				Kind:      models.PointsKindRedeem,
				CreatedAt: now.Add(-1 * time.Hour),
			})
			require.NoError(t, err)

			history, err := storage.Points().ListHistory(t.Context(), userID, 10, 0)

			require.NoError(t, err)
			require.Len(t, history, 2)
			require.Equal(t, redeem.ID, history[0].ID, "newest record first")
			require.Equal(t, int64(-60), history[0].Points, "audit records carry negative points")
		})
	})

	t.Run("ListExpiredLots", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			userID := uuid.New()

			stale := seedLot(t, storage, userID, 100, expiry(-48*time.Hour), now.Add(-30*24*time.Hour))
			seedLot(t, storage, userID, 200, expiry(24*time.Hour), now) // still live

			expired, err := storage.Points().ListExpiredLots(t.Context(), now, 100)

			require.NoError(t, err)
			require.Len(t, expired, 1, "only stale lots with points left are swept")
			require.Equal(t, stale.ID, expired[0].ID)
		})
	})
}
