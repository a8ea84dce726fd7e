package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
	"github.com/tap2-payments/tap2-wallet/internal/testutil"
)

func TestTransactionLog(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.InTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	t.Run("Append", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			account, err := storage.Account().CreateAccount(t.Context(), uuid.New(), "USD")
			require.NoError(t, err)

			t.Run("append ok with defaults", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					created, err := storage.Transaction().Append(t.Context(), models.Transaction{
						AccountID:   account.ID,
						Kind:        models.TransactionKindFund,
						AmountMinor: 25_00,
						ReferenceID: uuid.New(),
					})

					require.NoError(t, err, "append with defaults should be ok")
					require.NotEqual(t, uuid.Nil, created.ID, "id must be generated")
					require.Equal(t, models.TransactionStatusCompleted, created.Status, "status defaults to completed")
					require.False(t, created.CreatedAt.IsZero())
				})
			})

			t.Run("append keeps metadata", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					created, err := storage.Transaction().Append(t.Context(), models.Transaction{
						AccountID:   account.ID,
						Kind:        models.TransactionKindWithdraw,
						AmountMinor: -1_50,
						ReferenceID: uuid.New(),
						Metadata:    map[string]string{"fee_type": "instant_cashout"},
					})
					require.NoError(t, err)

					stored, err := storage.Transaction().GetTransaction(t.Context(), created.ID)
					require.NoError(t, err)
					require.Equal(t, "instant_cashout", stored.Metadata["fee_type"])
				})
			})

			t.Run("completed with zero amount rejected", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Transaction().Append(t.Context(), models.Transaction{
						AccountID:   account.ID,
						Kind:        models.TransactionKindPayment,
						AmountMinor: 0,
						Status:      models.TransactionStatusCompleted,
						ReferenceID: uuid.New(),
					})

					require.Error(t, err, "completed record must carry a nonzero amount")
					require.ErrorIs(t, err, apperrors.ErrValidation, "should return well known error")
				})
			})
		})
	})

	t.Run("GetTransaction", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			t.Run("get nonexistent", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Transaction().GetTransaction(t.Context(), uuid.New())

					require.Error(t, err, "getting nonexistent record should fail")
					require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "should return well known error")
				})
			})
		})
	})

	t.Run("ListTransactions", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			account, err := storage.Account().CreateAccount(t.Context(), uuid.New(), "USD")
			require.NoError(t, err)

			base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
			seed := []struct {
				kind   string
				amount int64
				at     time.Time
			}{
				{models.TransactionKindFund, 100_00, base},
				{models.TransactionKindP2P, -20_00, base.Add(10 * time.Minute)},
				{models.TransactionKindPayment, -30_00, base.Add(20 * time.Minute)},
				{models.TransactionKindWithdraw, -10_00, base.Add(30 * time.Minute)},
			}
			for _, s := range seed {
				_, err := storage.Transaction().Append(t.Context(), models.Transaction{
					AccountID:   account.ID,
					Kind:        s.kind,
					AmountMinor: s.amount,
					ReferenceID: uuid.New(),
					CreatedAt:   s.at,
				})
				require.NoError(t, err)
			}

			t.Run("newest first", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					listed, err := storage.Transaction().ListTransactions(t.Context(), account.ID, repository.ListTransactionsOpts{})

					require.NoError(t, err)
					require.Len(t, listed, 4)
					require.Equal(t, models.TransactionKindWithdraw, listed[0].Kind, "latest record must come first")
					require.Equal(t, models.TransactionKindFund, listed[3].Kind)
				})
			})

			t.Run("filter by kind", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					listed, err := storage.Transaction().ListTransactions(t.Context(), account.ID, repository.ListTransactionsOpts{
						Kinds: []string{models.TransactionKindP2P, models.TransactionKindPayment},
					})

					require.NoError(t, err)
					require.Len(t, listed, 2)
					for _, record := range listed {
						require.Contains(t, []string{models.TransactionKindP2P, models.TransactionKindPayment}, record.Kind)
					}
				})
			})

			t.Run("filter by time range", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					from := base.Add(5 * time.Minute)
					to := base.Add(25 * time.Minute)

					listed, err := storage.Transaction().ListTransactions(t.Context(), account.ID, repository.ListTransactionsOpts{
						From: &from,
						To:   &to,
					})

					require.NoError(t, err)
					require.Len(t, listed, 2, "range is inclusive start, exclusive end")
				})
			})

			t.Run("limit and offset", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					listed, err := storage.Transaction().ListTransactions(t.Context(), account.ID, repository.ListTransactionsOpts{
						Limit:  2,
						Offset: 1,
					})

					require.NoError(t, err)
					require.Len(t, listed, 2)
					require.Equal(t, models.TransactionKindPayment, listed[0].Kind)
					require.Equal(t, models.TransactionKindP2P, listed[1].Kind)
				})
			})

			t.Run("other account invisible", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					other, err := storage.Account().CreateAccount(t.Context(), uuid.New(), "USD")
					require.NoError(t, err)

					listed, err := storage.Transaction().ListTransactions(t.Context(), other.ID, repository.ListTransactionsOpts{})

					require.NoError(t, err)
					require.Empty(t, listed)
				})
			})
		})
	})
}
