package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tap2-payments/tap2-wallet/internal/logger"
)

type expireBatchFunc func(ctx context.Context, limit int) (int, error)

func (f expireBatchFunc) ExpireBatch(ctx context.Context, limit int) (int, error) {
	return f(ctx, limit)
}

func TestSweeper(t *testing.T) {
	t.Parallel()

	t.Run("clears backlog before the first tick", func(t *testing.T) {
		drained := make(chan struct{})
		backlog := 3

		sweeper := &Sweeper{
			interval:  time.Hour,
			batchSize: 500,
			logger:    logger.NewNoOpLogger(),
			rewards: expireBatchFunc(func(ctx context.Context, limit int) (int, error) {
				if backlog == 0 {
					close(drained)
					return 0, nil
				}
				backlog = 0
				return 3, nil
			}),
		}

		stopped := sweeper.Run(t.Context())

		select {
		case <-drained:
		case <-time.After(time.Second):
			require.Fail(t, "backlog was not swept at startup")
		}

		select {
		case <-stopped:
			require.Fail(t, "sweeper must keep running after the startup sweep")
		default:
		}
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		sweeper := NewSweeper(NewService(nil, nil), nil)
		sweeper.rewards = expireBatchFunc(func(ctx context.Context, limit int) (int, error) {
			return 0, nil
		})

		ctx, cancel := context.WithCancel(t.Context())
		stopped := sweeper.Run(ctx)

		cancel()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			require.Fail(t, "sweeper did not stop after context cancellation")
		}
	})
}
