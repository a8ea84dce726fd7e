package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tap2-payments/tap2-wallet/internal/handlers/userctx"
)

func TestIdentityMiddleware(t *testing.T) {
	var gotUserID uuid.UUID
	var gotOK bool

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, gotOK = userctx.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	middleware := IdentityMiddleware()
	srv := httptest.NewServer(middleware(h))
	defer srv.Close()

	t.Run("valid header passes identity", func(t *testing.T) {
		userID := uuid.New()

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/test", nil)
		require.NoError(t, err)
		req.Header.Set(UserIDHeader, userID.String())

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, gotOK, "handler must see the identity in context")
		require.Equal(t, userID, gotUserID)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/test")
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/test", nil)
		require.NoError(t, err)
		req.Header.Set(UserIDHeader, "not-a-uuid")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
