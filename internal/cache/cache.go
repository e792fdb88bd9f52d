// Package cache mirrors the committed limits record in memory so the
// focus path does not pay a storage round trip per tab activation.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/goodtune/mindful/internal/storage"
	"github.com/rs/zerolog"
)

// LimitCache is a read-through copy of the limits record. It is never
// written by callers; it only follows what the store has committed.
type LimitCache struct {
	store  storage.LimitStore
	limits storage.Limits
	loaded bool
	logger zerolog.Logger
	mu     sync.RWMutex
}

// New creates an empty cache over store.
func New(store storage.LimitStore, logger zerolog.Logger) *LimitCache {
	return &LimitCache{
		store:  store,
		limits: storage.Limits{},
		logger: logger.With().Str("component", "limit-cache").Logger(),
	}
}

// Load primes the cache from the store.
func (c *LimitCache) Load(ctx context.Context) error {
	limits, err := c.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load limits: %w", err)
	}
	c.replace(limits)
	return nil
}

// Watch subscribes the cache to store changes and returns the
// unsubscribe function.
func (c *LimitCache) Watch(store storage.Store) func() {
	return store.Subscribe(c.OnStoreChanged)
}

// OnStoreChanged replaces the snapshot when the limits record changed.
// Other keys are ignored.
func (c *LimitCache) OnStoreChanged(change storage.Change) {
	if change.Key != storage.KeyLimits {
		return
	}
	c.replace(change.Limits)
	c.logger.Debug().Int("sites", len(change.Limits)).Msg("Limit cache refreshed")
}

func (c *LimitCache) replace(limits storage.Limits) {
	next := limits.Clone()
	c.mu.Lock()
	c.limits = next
	c.loaded = true
	c.mu.Unlock()
}

// Get returns the record for hostname. If the cache was never loaded it
// reads through to the store once.
func (c *LimitCache) Get(ctx context.Context, hostname string) (storage.LimitRecord, bool) {
	c.mu.RLock()
	loaded := c.loaded
	record, ok := c.limits[hostname]
	c.mu.RUnlock()

	if loaded {
		return record, ok
	}

	if err := c.Load(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Read-through load failed")
		return storage.LimitRecord{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok = c.limits[hostname]
	return record, ok
}

// Snapshot returns a copy of every cached record.
func (c *LimitCache) Snapshot() storage.Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits.Clone()
}
