package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tap2-payments/tap2-wallet/internal/handlers/render"
	"github.com/tap2-payments/tap2-wallet/internal/handlers/userctx"
)

// UserIDHeader is set by the authenticating gateway in front of this
// service. The ledger trusts it as the already-resolved caller identity.
const UserIDHeader = "X-User-ID"

func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := uuid.Parse(r.Header.Get(UserIDHeader))
			if err != nil {
				render.ServiceError(w, "Missing or malformed user identity", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(userctx.NewContext(r.Context(), userID)))
		})
	}
}
