package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/handlers/render"
	"github.com/tap2-payments/tap2-wallet/internal/handlers/userctx"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
)

func handlePointsBalance(rewardsService rewardsService, l logger.Logger) http.Handler {
	type response struct {
		Total        int64 `json:"total"`
		ExpiringSoon int64 `json:"expiring_soon"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		balance, err := rewardsService.Balance(r.Context(), userID)

		switch err {
		case nil:
			render.JSON(w, response{Total: balance.Total, ExpiringSoon: balance.ExpiringSoon})
		default:
			l.Error("Failed to get points balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handlePointsHistory(rewardsService rewardsService, l logger.Logger) http.Handler {
	type lot struct {
		ID        string     `json:"id"`
		Points    int64      `json:"points"`
		Kind      string     `json:"kind"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
		CreatedAt time.Time  `json:"created_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		limit, offset := 50, 0
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
			limit = v
		}
		if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
			offset = v
		}

		lots, err := rewardsService.History(r.Context(), userID, limit, offset)

		switch err {
		case nil:
			out := make([]lot, 0, len(lots))
			for _, item := range lots {
				out = append(out, lot{
					ID:        item.ID.String(),
					Points:    item.Points,
					Kind:      item.Kind,
					ExpiresAt: item.ExpiresAt,
					CreatedAt: item.CreatedAt,
				})
			}
			render.JSON(w, out)
		default:
			l.Error("Failed to get points history", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRedeem(rewardsService rewardsService, l logger.Logger) http.Handler {
	type request struct {
		DiscountDollars decimal.Decimal `json:"discount_dollars" validate:"required"`
	}

	type response struct {
		DiscountDollars decimal.Decimal `json:"discount_dollars"`
		PointsRedeemed  int64           `json:"points_redeemed"`
		RemainingPoints int64           `json:"remaining_points"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		result, err := rewardsService.Redeem(r.Context(), userID, req.DiscountDollars)

		switch {
		case err == nil:
			render.JSON(w, response{
				DiscountDollars: result.DiscountDollars,
				PointsRedeemed:  result.PointsRedeemed,
				RemainingPoints: result.RemainingPoints,
			})
		case errors.Is(err, apperrors.ErrInsufficientPoints):
			render.ServiceError(w, "Insufficient points", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrValidation):
			render.ServiceError(w, "Invalid redemption request", http.StatusBadRequest)
		default:
			l.Error("Failed to redeem points", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
