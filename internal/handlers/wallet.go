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
	"github.com/tap2-payments/tap2-wallet/internal/repository"
)

func handleCreateAccount(walletService walletService, l logger.Logger) http.Handler {
	type request struct {
		Currency string `json:"currency" validate:"omitempty,len=3"`
	}

	type response struct {
		ID           string `json:"id"`
		BalanceMinor int64  `json:"balance_minor"`
		Currency     string `json:"currency"`
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

		account, err := walletService.CreateAccount(r.Context(), userID, req.Currency)

		switch {
		case err == nil:
			render.JSON(w, response{
				ID:           account.ID.String(),
				BalanceMinor: account.BalanceMinor,
				Currency:     account.Currency,
			})
		case errors.Is(err, apperrors.ErrAccountAlreadyExists):
			render.ServiceError(w, "Account already exists", http.StatusConflict)
		default:
			l.Error("Failed to create account", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleWalletBalance(walletService walletService, l logger.Logger) http.Handler {
	type response struct {
		AccountID    string `json:"account_id"`
		BalanceMinor int64  `json:"balance_minor"`
		Currency     string `json:"currency"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		account, err := walletService.GetAccount(r.Context(), userID)

		switch {
		case err == nil:
			render.JSON(w, response{
				AccountID:    account.ID.String(),
				BalanceMinor: account.BalanceMinor,
				Currency:     account.Currency,
			})
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to get balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListTransactions(walletService walletService, l logger.Logger) http.Handler {
	type transaction struct {
		ID          string    `json:"id"`
		Kind        string    `json:"kind"`
		AmountMinor int64     `json:"amount_minor"`
		Status      string    `json:"status"`
		ReferenceID string    `json:"reference_id"`
		CreatedAt   time.Time `json:"created_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		opts := repository.ListTransactionsOpts{Limit: 50}
		q := r.URL.Query()
		if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
			opts.Limit = v
		}
		if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
			opts.Offset = v
		}
		if kind := q.Get("kind"); kind != "" {
			opts.Kinds = []string{kind}
		}
		if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
			opts.From = &from
		}
		if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
			opts.To = &to
		}

		transactions, err := walletService.ListTransactions(r.Context(), userID, opts)

		switch {
		case err == nil:
			out := make([]transaction, 0, len(transactions))
			for _, t := range transactions {
				out = append(out, transaction{
					ID:          t.ID.String(),
					Kind:        t.Kind,
					AmountMinor: t.AmountMinor,
					Status:      t.Status,
					ReferenceID: t.ReferenceID.String(),
					CreatedAt:   t.CreatedAt,
				})
			}
			render.JSON(w, out)
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to list transactions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
