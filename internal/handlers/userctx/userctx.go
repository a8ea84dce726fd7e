// Package userctx carries the resolved caller identity through the request
// context. Authentication itself happens upstream; by the time a request
// reaches the ledger handlers it already carries a trusted user id.
package userctx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

func NewContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func FromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return userID, ok
}
