package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goodtune/mindful/internal/storage"
)

func TestStore_LimitsAreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()

	in := storage.Limits{"example.com": {Limit: 5}}
	if err := s.Limits().Set(ctx, in); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	in["example.com"] = storage.LimitRecord{Limit: 99}

	got, _ := s.Limits().Get(ctx)
	if got["example.com"].Limit != 5 {
		t.Errorf("store shares caller's map: got %v", got["example.com"].Limit)
	}

	got["other.com"] = storage.LimitRecord{Limit: 1}
	again, _ := s.Limits().Get(ctx)
	if _, ok := again["other.com"]; ok {
		t.Error("store shares returned map with caller")
	}
}

func TestStore_QuotesNotFound(t *testing.T) {
	s := New()
	if _, err := s.Quotes().Get(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Limits().Set(ctx, storage.Limits{}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestStore_UpdateConcurrentWriters(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Limits().Update(ctx, func(l storage.Limits) (storage.Limits, error) {
				l[fmt.Sprintf("site%d.com", i)] = storage.LimitRecord{Limit: 1}
				return l, nil
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Limits().Get(ctx)
	if len(got) != 20 {
		t.Errorf("expected 20 sites after concurrent updates, got %d", len(got))
	}
}

func TestStore_UpdateErrorLeavesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Limits().Set(ctx, storage.Limits{"example.com": {Limit: 5}})

	_, err := s.Limits().Update(ctx, func(l storage.Limits) (storage.Limits, error) {
		delete(l, "example.com")
		return nil, storage.ErrNotFound
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected fn's error, got %v", err)
	}
	got, _ := s.Limits().Get(ctx)
	if _, ok := got["example.com"]; !ok {
		t.Error("expected a failed update not to write")
	}
}
