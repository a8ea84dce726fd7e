package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tap2-payments/tap2-wallet/internal/handlers/middleware"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
	"github.com/tap2-payments/tap2-wallet/internal/service/payment"
	"github.com/tap2-payments/tap2-wallet/internal/service/qrtoken"
	"github.com/tap2-payments/tap2-wallet/internal/service/rewards"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	walletService walletService,
	paymentService paymentService,
	rewardsService rewardsService,
	qrService qrService,
	logger logger.Logger,
) http.Handler {
	identityMiddleware := middleware.IdentityMiddleware()
	withIdentity := func(h http.Handler) http.Handler {
		return identityMiddleware(h)
	}

	api := http.NewServeMux()

	api.Handle("POST /accounts", withIdentity(handleCreateAccount(walletService, logger)))
	api.Handle("GET /wallet/balance", withIdentity(handleWalletBalance(walletService, logger)))
	api.Handle("GET /wallet/transactions", withIdentity(handleListTransactions(walletService, logger)))
	api.Handle("POST /wallet/fund", withIdentity(handleFund(paymentService, logger)))
	api.Handle("POST /wallet/withdraw", withIdentity(handleWithdraw(paymentService, logger)))

	api.Handle("POST /transfers", withIdentity(handleP2PTransfer(paymentService, logger)))
	api.Handle("POST /payments", withIdentity(handleMerchantPayment(paymentService, qrService, logger)))
	api.Handle("POST /payments/{id}/refund", withIdentity(handleRefund(paymentService, logger)))

	// Payment status is read-only and deliberately unauthenticated
	api.Handle("GET /payments/{id}", handlePaymentStatus(paymentService, logger))
	api.Handle("GET /fees/quote", handleFeeQuote())

	api.Handle("GET /rewards/balance", withIdentity(handlePointsBalance(rewardsService, logger)))
	api.Handle("GET /rewards/history", withIdentity(handlePointsHistory(rewardsService, logger)))
	api.Handle("POST /rewards/redeem", withIdentity(handleRedeem(rewardsService, logger)))

	api.Handle("POST /merchant/qr", withIdentity(handleMintQR(qrService, logger)))
	api.Handle("GET /merchant/qr/png", handleQRImage(qrService, logger))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type walletService interface {
	// Create account for owner
	// Has to return apperrors.ErrAccountAlreadyExists if owner has one
	CreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (models.Account, error)

	// Get account by owner
	// Has to return apperrors.ErrAccountNotFound if owner has none
	GetAccount(ctx context.Context, ownerID uuid.UUID) (models.Account, error)

	ListTransactions(ctx context.Context, ownerID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error)
}

type paymentService interface {
	ProcessP2PTransfer(ctx context.Context, params payment.TransferParams) (payment.TransferResult, error)
	ProcessMerchantPayment(ctx context.Context, params payment.MerchantPaymentParams) (payment.MerchantPaymentResult, error)
	Fund(ctx context.Context, params payment.FundParams) (payment.FundResult, error)
	Withdraw(ctx context.Context, params payment.WithdrawParams) (payment.WithdrawResult, error)
	RefundPayment(ctx context.Context, params payment.RefundParams) (payment.RefundResult, error)
	GetPaymentStatus(ctx context.Context, id uuid.UUID) (payment.PaymentStatus, error)
}

type rewardsService interface {
	Redeem(ctx context.Context, userID uuid.UUID, targetDiscountDollars decimal.Decimal) (rewards.RedeemResult, error)
	Balance(ctx context.Context, userID uuid.UUID) (models.PointsBalance, error)
	History(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]models.PointsLot, error)
}

type qrService interface {
	Mint(merchantID uuid.UUID, amountMinor int64, tipMinor int64) (string, qrtoken.Payload, error)
	Verify(tokenString string) (qrtoken.Payload, error)
	PNG(tokenString string, size int) ([]byte, error)
}
