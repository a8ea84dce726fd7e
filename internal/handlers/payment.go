package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/handlers/render"
	"github.com/tap2-payments/tap2-wallet/internal/handlers/userctx"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/service/payment"
)

// IdempotencyKeyHeader carries the client-supplied retry token.
const IdempotencyKeyHeader = "Idempotency-Key"

func handleP2PTransfer(paymentService paymentService, l logger.Logger) http.Handler {
	type request struct {
		RecipientID     string `json:"recipient_id" validate:"required,uuid"`
		AmountMinor     int64  `json:"amount_minor" validate:"required,gt=0"`
		Note            string `json:"note" validate:"omitempty,max=280"`
		PaymentMethodID string `json:"payment_method_id" validate:"omitempty,uuid"`
	}

	type response struct {
		TransferID            string `json:"transfer_id"`
		TransactionID         string `json:"transaction_id"`
		Status                string `json:"status"`
		SenderBalanceMinor    int64  `json:"sender_balance_minor"`
		RecipientBalanceMinor int64  `json:"recipient_balance_minor"`
		Replayed              bool   `json:"replayed"`
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

		params := payment.TransferParams{
			SenderID:       userID,
			RecipientID:    uuid.MustParse(req.RecipientID),
			AmountMinor:    req.AmountMinor,
			Note:           req.Note,
			IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		}
		if req.PaymentMethodID != "" {
			id := uuid.MustParse(req.PaymentMethodID)
			params.PaymentMethodID = &id
		}

		result, err := paymentService.ProcessP2PTransfer(r.Context(), params)

		switch {
		case err == nil:
			render.JSON(w, response{
				TransferID:            result.Transfer.ID.String(),
				TransactionID:         result.Transaction.ID.String(),
				Status:                result.Transfer.Status,
				SenderBalanceMinor:    result.SenderBalanceMinor,
				RecipientBalanceMinor: result.RecipientBalanceMinor,
				Replayed:              result.Replayed,
			})
		case errors.Is(err, apperrors.ErrInsufficientFunds):
			render.ServiceError(w, "Insufficient funds", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrInvalidRecipient):
			render.ServiceError(w, "Recipient is invalid", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrValidation):
			render.ServiceError(w, "Invalid transfer request", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrRequestInProgress):
			render.ServiceError(w, "Request is already in progress", http.StatusConflict)
		default:
			l.Error("Failed to process transfer", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleMerchantPayment(paymentService paymentService, qrService qrService, l logger.Logger) http.Handler {
	// A payment arrives either as an NFC tuple (merchant, amount, nonce all
	// explicit) or as a signed QR token that carries the tuple.
	type request struct {
		QRToken string `json:"qr_token" validate:"required_without=MerchantID"`

		MerchantID      string `json:"merchant_id" validate:"required_without=QRToken,omitempty,uuid"`
		AmountMinor     int64  `json:"amount_minor" validate:"gte=0"`
		TipMinor        int64  `json:"tip_minor" validate:"gte=0"`
		Nonce           string `json:"nonce" validate:"required_without=QRToken"`
		PaymentMethodID string `json:"payment_method_id" validate:"omitempty,uuid"`
	}

	type response struct {
		PaymentID         string `json:"payment_id"`
		TransactionID     string `json:"transaction_id"`
		TotalMinor        int64  `json:"total_minor"`
		PayerBalanceMinor int64  `json:"payer_balance_minor"`
		PointsEarned      int64  `json:"points_earned"`
		Replayed          bool   `json:"replayed"`
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

		params := payment.MerchantPaymentParams{
			UserID:         userID,
			TipMinor:       req.TipMinor,
			IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		}

		if req.QRToken != "" {
			payload, err := qrService.Verify(req.QRToken)
			if err != nil {
				render.ServiceError(w, "QR payload is invalid or expired", http.StatusBadRequest)
				return
			}
			params.MerchantID = payload.MerchantID
			params.AmountMinor = payload.AmountMinor
			if payload.TipMinor > 0 {
				params.TipMinor = payload.TipMinor
			}
			params.Nonce = payload.Nonce
			params.PaymentType = models.PaymentTypeQR
		} else {
			params.MerchantID = uuid.MustParse(req.MerchantID)
			params.AmountMinor = req.AmountMinor
			params.Nonce = req.Nonce
			params.PaymentType = models.PaymentTypeNFC
		}

		if req.PaymentMethodID != "" {
			id := uuid.MustParse(req.PaymentMethodID)
			params.PaymentMethodID = &id
		}

		result, err := paymentService.ProcessMerchantPayment(r.Context(), params)

		switch {
		case err == nil:
			render.JSON(w, response{
				PaymentID:         result.Payment.ID.String(),
				TransactionID:     result.Transaction.ID.String(),
				TotalMinor:        result.Payment.AmountMinor + result.Payment.TipMinor,
				PayerBalanceMinor: result.PayerBalanceMinor,
				PointsEarned:      result.PointsEarned,
				Replayed:          result.Replayed,
			})
		case errors.Is(err, apperrors.ErrInsufficientFunds):
			render.ServiceError(w, "Insufficient funds", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrInvalidMerchant):
			render.ServiceError(w, "Merchant is invalid", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrDuplicateNonce):
			render.ServiceError(w, "Payment token already used", http.StatusConflict)
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrValidation):
			render.ServiceError(w, "Invalid payment request", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrRequestInProgress):
			render.ServiceError(w, "Request is already in progress", http.StatusConflict)
		default:
			l.Error("Failed to process merchant payment", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleFund(paymentService paymentService, l logger.Logger) http.Handler {
	type request struct {
		AmountMinor     int64  `json:"amount_minor" validate:"required,gt=0"`
		PaymentMethodID string `json:"payment_method_id" validate:"omitempty,uuid"`
	}

	type response struct {
		TransactionID string `json:"transaction_id"`
		BalanceMinor  int64  `json:"balance_minor"`
		Replayed      bool   `json:"replayed"`
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

		params := payment.FundParams{
			UserID:         userID,
			AmountMinor:    req.AmountMinor,
			IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		}
		if req.PaymentMethodID != "" {
			id := uuid.MustParse(req.PaymentMethodID)
			params.PaymentMethodID = &id
		}

		result, err := paymentService.Fund(r.Context(), params)

		switch {
		case err == nil:
			render.JSON(w, response{
				TransactionID: result.Transaction.ID.String(),
				BalanceMinor:  result.BalanceMinor,
				Replayed:      result.Replayed,
			})
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrValidation):
			render.ServiceError(w, "Invalid funding request", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrRequestInProgress):
			render.ServiceError(w, "Request is already in progress", http.StatusConflict)
		default:
			l.Error("Failed to fund wallet", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleWithdraw(paymentService paymentService, l logger.Logger) http.Handler {
	type request struct {
		AmountMinor int64 `json:"amount_minor" validate:"required,gt=0"`
		Instant     bool  `json:"instant"`
	}

	type response struct {
		TransactionID string `json:"transaction_id"`
		FeeMinor      int64  `json:"fee_minor"`
		PayoutMinor   int64  `json:"payout_minor"`
		BalanceMinor  int64  `json:"balance_minor"`
		Replayed      bool   `json:"replayed"`
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

		result, err := paymentService.Withdraw(r.Context(), payment.WithdrawParams{
			UserID:         userID,
			AmountMinor:    req.AmountMinor,
			Instant:        req.Instant,
			IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		})

		switch {
		case err == nil:
			render.JSON(w, response{
				TransactionID: result.Transaction.ID.String(),
				FeeMinor:      result.FeeMinor,
				PayoutMinor:   result.PayoutMinor,
				BalanceMinor:  result.BalanceMinor,
				Replayed:      result.Replayed,
			})
		case errors.Is(err, apperrors.ErrInsufficientFunds):
			render.ServiceError(w, "Insufficient funds", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrValidation):
			render.ServiceError(w, "Invalid withdrawal request", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrRequestInProgress):
			render.ServiceError(w, "Request is already in progress", http.StatusConflict)
		default:
			l.Error("Failed to withdraw", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRefund(paymentService paymentService, l logger.Logger) http.Handler {
	type request struct {
		Reason             string `json:"reason" validate:"omitempty,max=280"`
		PartialAmountMinor *int64 `json:"partial_amount_minor" validate:"omitempty,gt=0"`
	}

	type response struct {
		RefundTransactionID string `json:"refund_transaction_id"`
		RefundedMinor       int64  `json:"refunded_minor"`
		PayerBalanceMinor   int64  `json:"payer_balance_minor"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		paymentID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Malformed payment id", http.StatusBadRequest)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		result, err := paymentService.RefundPayment(r.Context(), payment.RefundParams{
			PaymentID:          paymentID,
			RequestedBy:        userID,
			Reason:             req.Reason,
			PartialAmountMinor: req.PartialAmountMinor,
		})

		switch {
		case err == nil:
			render.JSON(w, response{
				RefundTransactionID: result.RefundTransaction.ID.String(),
				RefundedMinor:       result.Payment.RefundedAmountMinor,
				PayerBalanceMinor:   result.PayerBalanceMinor,
			})
		case errors.Is(err, apperrors.ErrPaymentNotFound):
			render.ServiceError(w, "Payment not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrInvalidRefundAmount):
			render.ServiceError(w, "Refund amount exceeds refundable remainder", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrInsufficientFunds):
			render.ServiceError(w, "Merchant balance can't cover the refund", http.StatusPaymentRequired)
		default:
			l.Error("Failed to refund payment", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handlePaymentStatus(paymentService paymentService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Malformed payment id", http.StatusBadRequest)
			return
		}

		status, err := paymentService.GetPaymentStatus(r.Context(), id)

		switch {
		case err == nil:
			render.JSON(w, status)
		case errors.Is(err, apperrors.ErrPaymentNotFound):
			render.ServiceError(w, "Payment not found", http.StatusNotFound)
		default:
			l.Error("Failed to get payment status", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleFeeQuote() http.Handler {
	type response struct {
		AmountMinor int64  `json:"amount_minor"`
		FeeType     string `json:"fee_type"`
		FeeMinor    int64  `json:"fee_minor"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		amountMinor, err := strconv.ParseInt(r.URL.Query().Get("amount_minor"), 10, 64)
		if err != nil || amountMinor < 0 {
			render.ServiceError(w, "Malformed amount", http.StatusBadRequest)
			return
		}

		feeType := payment.FeeType(r.URL.Query().Get("fee_type"))
		switch feeType {
		case payment.FeeP2P, payment.FeeMerchant, payment.FeeInstantCashout:
		default:
			render.ServiceError(w, "Unknown fee type", http.StatusBadRequest)
			return
		}

		render.JSON(w, response{
			AmountMinor: amountMinor,
			FeeType:     string(feeType),
			FeeMinor:    payment.CalculateFee(amountMinor, feeType),
		})
	})
}
