// Package rewards keeps the loyalty points ledger: points are earned in
// lots with individual expirations, redeemed earliest-expiring first and
// swept into expiry records once stale.
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
	"github.com/tap2-payments/tap2-wallet/internal/logger"
	"github.com/tap2-payments/tap2-wallet/internal/models"
	"github.com/tap2-payments/tap2-wallet/internal/repository"
)

const (
	// Earned lots live for a year.
	defaultLotLifetime = 365 * 24 * time.Hour

	// Window for the "expiring soon" part of the balance.
	expiringSoonWindow = 30 * 24 * time.Hour
)

// One point is worth one cent on redemption.
var pointValueDollars = decimal.New(1, -2)

type Service struct {
	storage repository.Storage
	logger  logger.Logger

	// multiplier scales points per cent charged. Base rate is 1; merchant
	// specific multipliers can be layered on top of this later.
	multiplier decimal.Decimal

	lotLifetime time.Duration
}

func NewService(storage repository.Storage, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage:     storage,
		logger:      l,
		multiplier:  decimal.NewFromInt(1),
		lotLifetime: defaultLotLifetime,
	}
}

// Earn creates a points lot for a charge of amountMinor cents.
func (s *Service) Earn(ctx context.Context, userID uuid.UUID, amountMinor int64, merchantID *uuid.UUID, transactionID *uuid.UUID) (models.PointsLot, error) {
	return s.EarnTx(ctx, s.storage, userID, amountMinor, merchantID, transactionID)
}

// EarnTx is Earn against an explicit storage handle, so the payment
// processor can earn points inside the payment's own transaction.
func (s *Service) EarnTx(ctx context.Context, storage repository.Storage, userID uuid.UUID, amountMinor int64, merchantID *uuid.UUID, transactionID *uuid.UUID) (models.PointsLot, error) {
	if amountMinor < 0 {
		return models.PointsLot{}, fmt.Errorf("%w: amount must not be negative", apperrors.ErrValidation)
	}

	points := decimal.NewFromInt(amountMinor).Mul(s.multiplier).Floor().IntPart()
	if points == 0 {
		// Nothing to record for sub-cent accruals
		return models.PointsLot{}, nil
	}

	expiresAt := time.Now().Add(s.lotLifetime)

	lot, err := storage.Points().CreateLot(ctx, models.PointsLot{
		UserID:        userID,
		Points:        points,
		Kind:          models.PointsKindEarn,
		MerchantID:    merchantID,
		TransactionID: transactionID,
		ExpiresAt:     &expiresAt,
	})
	if err != nil {
		return lot, fmt.Errorf("create earn lot: %w", err)
	}

	return lot, nil
}

type RedeemResult struct {
	DiscountDollars decimal.Decimal `json:"discount_dollars"`
	PointsRedeemed  int64           `json:"points_redeemed"`
	RemainingPoints int64           `json:"remaining_points"`
}

// Redeem burns points worth targetDiscountDollars, consuming the
// earliest-expiring lots first. A lot is either fully zeroed or partially
// decremented, never driven negative; a single negative audit lot records
// the redemption.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID, targetDiscountDollars decimal.Decimal) (RedeemResult, error) {
	pointsNeeded := targetDiscountDollars.Div(pointValueDollars).Ceil().IntPart()
	if pointsNeeded <= 0 {
		return RedeemResult{}, fmt.Errorf("%w: discount must be positive", apperrors.ErrValidation)
	}

	var result RedeemResult

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		now := time.Now()

		lots, err := st.Points().ListLiveLotsForUpdate(ctx, userID, now)
		if err != nil {
			return err
		}

		var available int64
		for _, lot := range lots {
			available += lot.Points
		}
		if available < pointsNeeded {
			return fmt.Errorf("%w: have %d, need %d", apperrors.ErrInsufficientPoints, available, pointsNeeded)
		}

		remaining := pointsNeeded
		for _, lot := range lots {
			if remaining == 0 {
				break
			}

			take := min(lot.Points, remaining)
			if err := st.Points().SetLotPoints(ctx, lot.ID, lot.Points-take); err != nil {
				return err
			}
			remaining -= take
		}

		_, err = st.Points().CreateLot(ctx, models.PointsLot{
			UserID: userID,
			Points: -pointsNeeded,
			Kind:   models.PointsKindRedeem,
		})
		if err != nil {
			return fmt.Errorf("create redemption record: %w", err)
		}

		result = RedeemResult{
			DiscountDollars: decimal.NewFromInt(pointsNeeded).Mul(pointValueDollars),
			PointsRedeemed:  pointsNeeded,
			RemainingPoints: available - pointsNeeded,
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

// Balance sums the user's unexpired lots. Expired lots are excluded by the
// query whether or not the sweeper has zeroed them yet.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (models.PointsBalance, error) {
	return s.storage.Points().GetBalance(ctx, userID, time.Now(), expiringSoonWindow)
}

// History lists the user's lots including redemption and expiry records,
// newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]models.PointsLot, error) {
	return s.storage.Points().ListHistory(ctx, userID, limit, offset)
}

// ExpireBatch zeroes up to limit stale lots, each with a negative audit
// record, and reports how many it touched. Zero means the backlog is drained.
func (s *Service) ExpireBatch(ctx context.Context, limit int) (int, error) {
	expired := 0

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		lots, err := st.Points().ListExpiredLots(ctx, time.Now(), limit)
		if err != nil {
			return err
		}

		for _, lot := range lots {
			if err := st.Points().SetLotPoints(ctx, lot.ID, 0); err != nil {
				return err
			}

			_, err := st.Points().CreateLot(ctx, models.PointsLot{
				UserID:        lot.UserID,
				Points:        -lot.Points,
				Kind:          models.PointsKindExpire,
				MerchantID:    lot.MerchantID,
				TransactionID: lot.TransactionID,
			})
			if err != nil {
				return fmt.Errorf("create expiry record: %w", err)
			}
		}

		expired = len(lots)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return expired, nil
}
