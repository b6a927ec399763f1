// Package cache provides the time-to-live cache for per-reach flood
// frequency (return-period) tables.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/domain"
	"github.com/couchcryptid/flow-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Result is a cache lookup outcome. A nil Table with a nil error means the
// upstream has no return-period data for the reach. Stale marks a table
// served past its freshness window because a refresh failed; callers must
// be able to tell the two apart for observability.
type Result struct {
	Table *domain.ReturnPeriodTable
	Stale bool
}

// ReturnPeriodCache caches tables for a freshness window and coalesces
// concurrent refreshes per reach, so a sweep evaluating the same reach for
// many users issues at most one upstream fetch.
type ReturnPeriodCache struct {
	provider domain.ReturnPeriodProvider
	store    Store // optional durable backing
	ttl      time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*domain.ReturnPeriodTable
}

// New creates a ReturnPeriodCache. store may be nil for memory-only
// operation.
func New(provider domain.ReturnPeriodProvider, store Store, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *ReturnPeriodCache {
	return &ReturnPeriodCache{
		provider: provider,
		store:    store,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		entries:  make(map[string]*domain.ReturnPeriodTable),
	}
}

// Get returns the reach's return-period table, refreshing it when the
// freshness window has lapsed. On a failed refresh an expired entry is
// served flagged stale; with nothing cached at all the fetch error is
// returned. Concurrent calls for the same reach share one fetch.
func (c *ReturnPeriodCache) Get(ctx context.Context, reachID string) (Result, error) {
	if table, ok := c.lookup(reachID); ok && c.fresh(table) {
		c.metrics.CacheLookups.WithLabelValues("fresh").Inc()
		return Result{Table: table}, nil
	}

	v, err, _ := c.group.Do(reachID, func() (any, error) {
		return c.refresh(ctx, reachID)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// refresh runs inside the singleflight group: re-checks memory (another
// caller may have refreshed while this one waited), consults the durable
// store, then fetches upstream, falling back to whatever stale copy exists.
func (c *ReturnPeriodCache) refresh(ctx context.Context, reachID string) (Result, error) {
	if table, ok := c.lookup(reachID); ok && c.fresh(table) {
		c.metrics.CacheLookups.WithLabelValues("fresh").Inc()
		return Result{Table: table}, nil
	}

	stale, hasStale := c.lookup(reachID)

	if !hasStale && c.store != nil {
		stored, err := c.store.Load(ctx, reachID)
		if err != nil {
			c.logger.Warn("return-period store load failed", "reach_id", reachID, "error", err)
		} else if stored != nil {
			c.put(reachID, stored)
			if c.fresh(stored) {
				c.metrics.CacheLookups.WithLabelValues("fresh").Inc()
				return Result{Table: stored}, nil
			}
			stale, hasStale = stored, true
		}
	}

	start := c.clock.Now()
	table, err := c.provider.ReturnPeriod(ctx, reachID)
	c.metrics.CacheFetchDuration.Observe(c.clock.Since(start).Seconds())

	if err != nil {
		if hasStale {
			// Observable decision: alerting on thresholds past their
			// freshness window because the upstream is unreachable.
			c.logger.Warn("serving stale return-period table",
				"reach_id", reachID,
				"retrieved_at", stale.RetrievedAt,
				"error", err,
			)
			c.metrics.CacheLookups.WithLabelValues("stale").Inc()
			return Result{Table: stale, Stale: true}, nil
		}
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Result{}, fmt.Errorf("fetch return period for reach %s: %w", reachID, err)
	}

	if table == nil {
		// Upstream has no flood-frequency data for this reach.
		c.metrics.CacheLookups.WithLabelValues("none").Inc()
		return Result{}, nil
	}

	table.RetrievedAt = c.clock.Now()
	c.put(reachID, table)
	if c.store != nil {
		if err := c.store.Save(ctx, table); err != nil {
			c.logger.Warn("return-period store save failed", "reach_id", reachID, "error", err)
		}
	}

	c.metrics.CacheLookups.WithLabelValues("miss").Inc()
	return Result{Table: table}, nil
}

func (c *ReturnPeriodCache) fresh(table *domain.ReturnPeriodTable) bool {
	return c.clock.Since(table.RetrievedAt) < c.ttl
}

func (c *ReturnPeriodCache) lookup(reachID string) (*domain.ReturnPeriodTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	table, ok := c.entries[reachID]
	return table, ok
}

func (c *ReturnPeriodCache) put(reachID string, table *domain.ReturnPeriodTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[reachID] = table
}
