// Package wallet covers the account-level reads and onboarding: creating a
// wallet for a new owner, reading its balance and paging its ledger history.
package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
)

const defaultCurrency = "USD"

type Service struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) *Service {
	return &Service{storage: storage}
}

// CreateAccount opens a zero-balance wallet for the owner. Called once when
// onboarding completes; owners hold exactly one account.
func (s *Service) CreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (models.Account, error) {
	if currency == "" {
		currency = defaultCurrency
	}

	account, err := s.storage.Account().CreateAccount(ctx, ownerID, currency)
	if err != nil {
		return account, fmt.Errorf("can't create account. Err: %w", err)
	}

	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, ownerID uuid.UUID) (models.Account, error) {
	return s.storage.Account().GetAccountByOwner(ctx, ownerID)
}

// ListTransactions pages the owner's ledger history newest first.
func (s *Service) ListTransactions(ctx context.Context, ownerID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	account, err := s.storage.Account().GetAccountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	return s.storage.Transaction().ListTransactions(ctx, account.ID, opts)
}
