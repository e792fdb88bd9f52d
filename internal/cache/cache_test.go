package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/goodtune/mindful/internal/storage"
	"github.com/goodtune/mindful/internal/storage/memory"
	"github.com/rs/zerolog"
)

type failingLimitStore struct {
	gets int
}

func (f *failingLimitStore) Get(ctx context.Context) (storage.Limits, error) {
	f.gets++
	return nil, errors.New("store unavailable")
}

func (f *failingLimitStore) Set(ctx context.Context, limits storage.Limits) error {
	return errors.New("store unavailable")
}

func (f *failingLimitStore) Update(ctx context.Context, fn storage.UpdateFunc) (storage.Limits, error) {
	return nil, errors.New("store unavailable")
}

func TestLimitCache_ReadThroughOnFirstGet(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.Limits().Set(ctx, storage.Limits{"example.com": {Limit: 5, TimeSpent: 5}})

	c := New(store.Limits(), zerolog.Nop())
	record, ok := c.Get(ctx, "example.com")
	if !ok {
		t.Fatal("expected read-through to find example.com")
	}
	if !record.Exceeded() {
		t.Error("expected record to be over limit")
	}
}

func TestLimitCache_FollowsStoreChanges(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	c := New(store.Limits(), zerolog.Nop())
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	unsubscribe := c.Watch(store)
	defer unsubscribe()

	if _, ok := c.Get(ctx, "example.com"); ok {
		t.Fatal("expected empty cache")
	}

	_ = store.Limits().Set(ctx, storage.Limits{"example.com": {Limit: 5}})
	if _, ok := c.Get(ctx, "example.com"); !ok {
		t.Error("expected cache to pick up committed write")
	}

	// Wholesale replacement drops removed sites
	_ = store.Limits().Set(ctx, storage.Limits{"other.com": {Limit: 1}})
	if _, ok := c.Get(ctx, "example.com"); ok {
		t.Error("expected example.com to be gone after replacement")
	}
}

func TestLimitCache_IgnoresOtherKeys(t *testing.T) {
	c := New(memory.New().Limits(), zerolog.Nop())
	c.OnStoreChanged(storage.Change{Key: storage.KeyLimits, Limits: storage.Limits{"a.com": {Limit: 1}}})
	c.OnStoreChanged(storage.Change{Key: storage.KeyQuotes, Quotes: []storage.Quote{{Text: "x"}}})

	if len(c.Snapshot()) != 1 {
		t.Errorf("quotes change must not touch limits, got %v", c.Snapshot())
	}
}

func TestLimitCache_SnapshotIsCopy(t *testing.T) {
	c := New(memory.New().Limits(), zerolog.Nop())
	c.OnStoreChanged(storage.Change{Key: storage.KeyLimits, Limits: storage.Limits{"a.com": {Limit: 1}}})

	snap := c.Snapshot()
	snap["b.com"] = storage.LimitRecord{Limit: 2}

	if _, ok := c.Get(context.Background(), "b.com"); ok {
		t.Error("mutating a snapshot leaked into the cache")
	}
}

func TestLimitCache_StoreFailure(t *testing.T) {
	store := &failingLimitStore{}
	c := New(store, zerolog.Nop())

	if _, ok := c.Get(context.Background(), "example.com"); ok {
		t.Error("expected miss when store is unavailable")
	}
	if store.gets != 1 {
		t.Errorf("expected one read-through attempt, got %d", store.gets)
	}
}
