package nonce

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/testutil"
)

func TestPostgresRegistry(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("claim once ok", func(t *testing.T) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			registry := NewPostgresRegistry(tx)

			err := registry.Claim(t.Context(), uuid.NewString())

			require.NoError(t, err, "fresh nonce has to be claimable")
		})
	})

	t.Run("second claim is a replay", func(t *testing.T) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			registry := NewPostgresRegistry(tx)
			nonce := uuid.NewString()

			err := registry.Claim(t.Context(), nonce)
			require.NoError(t, err)

			err = registry.Claim(t.Context(), nonce)

			require.Error(t, err, "claiming twice must fail")
			require.ErrorIs(t, err, apperrors.ErrDuplicateNonce, "should return well known error")
		})
	})
}
