// Package memory is an in-process storage.Store, used by tests and by
// "storage.type: memory" for throwaway runs.
package memory

import (
	"context"
	"sync"

	"github.com/goodtune/mindful/internal/storage"
)

// Store keeps both records in memory.
type Store struct {
	storage.Broadcaster

	mu        sync.RWMutex
	limits    storage.Limits
	quotes    []storage.Quote
	hasQuotes bool

	limitStore *limitStore
	quoteStore *quoteStore
}

// New creates an empty store.
func New() *Store {
	s := &Store{limits: storage.Limits{}}
	s.limitStore = &limitStore{s: s}
	s.quoteStore = &quoteStore{s: s}
	return s
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Limits returns the LimitStore implementation
func (s *Store) Limits() storage.LimitStore {
	return s.limitStore
}

// Quotes returns the QuoteStore implementation
func (s *Store) Quotes() storage.QuoteStore {
	return s.quoteStore
}

type limitStore struct {
	s *Store
}

func (ls *limitStore) Get(ctx context.Context) (storage.Limits, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()
	return ls.s.limits.Clone(), nil
}

func (ls *limitStore) Set(ctx context.Context, limits storage.Limits) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ls.s.mu.Lock()
	ls.s.limits = limits.Clone()
	ls.s.mu.Unlock()

	ls.s.Publish(storage.Change{Key: storage.KeyLimits, Limits: limits.Clone()})
	return nil
}

// Update runs fn under the store lock, so no other write can interleave.
func (ls *limitStore) Update(ctx context.Context, fn storage.UpdateFunc) (storage.Limits, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ls.s.mu.Lock()
	next, err := fn(ls.s.limits.Clone())
	if err != nil {
		ls.s.mu.Unlock()
		return nil, err
	}
	ls.s.limits = next.Clone()
	ls.s.mu.Unlock()

	ls.s.Publish(storage.Change{Key: storage.KeyLimits, Limits: next.Clone()})
	return next.Clone(), nil
}

type quoteStore struct {
	s *Store
}

func (qs *quoteStore) Get(ctx context.Context) ([]storage.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qs.s.mu.RLock()
	defer qs.s.mu.RUnlock()
	if !qs.s.hasQuotes {
		return nil, storage.ErrNotFound
	}
	return append([]storage.Quote(nil), qs.s.quotes...), nil
}

func (qs *quoteStore) Set(ctx context.Context, quotes []storage.Quote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	qs.s.mu.Lock()
	qs.s.quotes = append([]storage.Quote(nil), quotes...)
	qs.s.hasQuotes = true
	qs.s.mu.Unlock()

	qs.s.Publish(storage.Change{Key: storage.KeyQuotes, Quotes: append([]storage.Quote(nil), quotes...)})
	return nil
}
