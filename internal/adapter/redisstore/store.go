// Package redisstore persists return-period tables in Redis so restarts do
// not refetch every reach from the upstream API.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/flow-alert-service/internal/domain"
)

const keyPrefix = "returnperiod:"

// Store implements cache.Store on a Redis client.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection. Keys expire server-side
// after ttl; the in-memory cache applies its own freshness window on top.
func New(ctx context.Context, addr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, ttl: ttl}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load returns the stored table for a reach, or nil when absent.
func (s *Store) Load(ctx context.Context, reachID string) (*domain.ReturnPeriodTable, error) {
	raw, err := s.client.Get(ctx, keyPrefix+reachID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", reachID, err)
	}
	var table domain.ReturnPeriodTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode stored table %q: %w", reachID, err)
	}
	return &table, nil
}

// Save stores a table under its reach ID with the configured expiry.
func (s *Store) Save(ctx context.Context, table *domain.ReturnPeriodTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode table %q: %w", table.ReachID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+table.ReachID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", table.ReachID, err)
	}
	return nil
}
