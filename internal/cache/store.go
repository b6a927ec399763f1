package cache

import (
	"context"

	"github.com/couchcryptid/flow-alert-service/internal/domain"
)

// Store is an optional durable backing for return-period tables, so the
// cache survives process restarts (and short-lived scheduled invocations).
// Load returns (nil, nil) on a miss.
type Store interface {
	Load(ctx context.Context, reachID string) (*domain.ReturnPeriodTable, error)
	Save(ctx context.Context, table *domain.ReturnPeriodTable) error
}
