package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tap2-payments/tap2-wallet/internal/db"
	"github.com/tap2-payments/tap2-wallet/internal/handlers"
	"github.com/tap2-payments/tap2-wallet/internal/idempotency"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
	"github.com/tap2-payments/tap2-wallet/internal/nonce"
	"github.com/tap2-payments/tap2-wallet/internal/repository/postgres"
	"github.com/tap2-payments/tap2-wallet/internal/service/payment"
	"github.com/tap2-payments/tap2-wallet/internal/service/qrtoken"
	"github.com/tap2-payments/tap2-wallet/internal/service/rewards"
	"github.com/tap2-payments/tap2-wallet/internal/service/wallet"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *rewards.Sweeper
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Idempotency keys and payment nonces live in redis when it is
	// configured, otherwise in postgres alongside the ledger
	var guard idempotency.Guard = idempotency.NewPostgresGuard(pool)
	var nonces nonce.Registry = nonce.NewPostgresRegistry(pool)
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("error while parsing redis url. Err: %w", err)
		}
		client := redis.NewClient(opts)
		guard = idempotency.NewRedisGuard(client)
		nonces = nonce.NewRedisRegistry(client)
	}

	// Initialize services
	qrManager, err := qrtoken.New(qrtoken.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating qr token manager. Err: %w", err)
	}
	walletService := wallet.NewService(storage)
	rewardsService := rewards.NewService(storage, logger)
	paymentService := payment.NewProcessor(storage, guard, nonces, rewardsService, logger)

	mux := handlers.NewRouter(
		walletService,
		paymentService,
		rewardsService,
		qrManager,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		sweeper:    rewards.NewSweeper(rewardsService, logger),
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	// Expired points sweep runs for the lifetime of the server
	sweeperStopped := s.sweeper.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server")
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}
