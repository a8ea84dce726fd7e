package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/handlers/render"
	"github.com/tap2-payments/tap2-wallet/internal/handlers/userctx"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
)

func handleMintQR(qrService qrService, l logger.Logger) http.Handler {
	type request struct {
		AmountMinor int64 `json:"amount_minor" validate:"required,gt=0"`
		TipMinor    int64 `json:"tip_minor" validate:"gte=0"`
	}

	type response struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		merchantID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		token, payload, err := qrService.Mint(merchantID, req.AmountMinor, req.TipMinor)
		if err != nil {
			l.Error("Failed to mint payment token", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Token: token, ExpiresAt: payload.ExpiresAt})
	})
}

func handleQRImage(qrService qrService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			render.ServiceError(w, "Query parameter 'token' is required", http.StatusBadRequest)
			return
		}

		size := 0
		if v := r.URL.Query().Get("size"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				render.ServiceError(w, "Query parameter 'size' must be a positive integer", http.StatusBadRequest)
				return
			}
			size = parsed
		}

		png, err := qrService.PNG(token, size)

		switch {
		case err == nil:
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(png); err != nil {
				l.Error("Failed to write QR image response", "error", err)
			}
		case errors.Is(err, apperrors.ErrQRPayloadInvalid):
			render.ServiceError(w, "Payment token is invalid or expired", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to render QR image", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
