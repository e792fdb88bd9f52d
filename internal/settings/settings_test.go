package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/mindful/internal/browser"
	"github.com/goodtune/mindful/internal/browser/browsertest"
	"github.com/goodtune/mindful/internal/clock"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/goodtune/mindful/internal/storage/memory"
	"github.com/rs/zerolog"
)

var now = time.Date(2026, time.October, 18, 9, 30, 0, 0, time.Local)

func setupService(t *testing.T, tabs ...browser.Tab) (*Service, *memory.Store, *browsertest.Host) {
	t.Helper()
	store := memory.New()
	host := browsertest.NewHost(tabs...)
	svc := NewService(store.Limits(), nil, store.Quotes(), host, clock.NewTestClock(now), zerolog.Nop())
	return svc, store, host
}

func TestSetLimit(t *testing.T) {
	svc, store, host := setupService(t,
		browser.Tab{ID: 1, URL: "https://www.youtube.com/", Hostname: "youtube.com"},
		browser.Tab{ID: 2, URL: "https://example.com/", Hostname: "example.com"},
	)
	ctx := context.Background()

	got, err := svc.SetLimit(ctx, "WWW.YouTube.com", 30)
	if err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	if got.Site != "youtube.com" {
		t.Errorf("expected normalized site, got %q", got.Site)
	}

	limits, _ := store.Limits().Get(ctx)
	want := storage.LimitRecord{Limit: 30, LastReset: storage.DateStamp(now)}
	if limits["youtube.com"] != want {
		t.Errorf("stored %+v, want %+v", limits["youtube.com"], want)
	}

	push, ok := host.Last("limitAdded")
	if !ok || push.TabID != 1 || push.Data.TimeSpent != 0 || push.Data.Limit != 30 {
		t.Errorf("expected limitAdded for tab 1, got %+v", push)
	}
	if host.Count("limitAdded", 2) != 0 {
		t.Error("unrelated tab must not be told")
	}
}

func TestSetLimit_ReplacesAndRestarts(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	_ = store.Limits().Set(ctx, storage.Limits{"reddit.com": {Limit: 10, TimeSpent: 8}})

	if _, err := svc.SetLimit(ctx, "reddit.com", 20); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	limits, _ := store.Limits().Get(ctx)
	if limits["reddit.com"].TimeSpent != 0 || limits["reddit.com"].Limit != 20 {
		t.Errorf("unexpected record %+v", limits["reddit.com"])
	}
}

func TestSetLimit_Invalid(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.SetLimit(ctx, "youtube.com", 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
	if _, err := svc.SetLimit(ctx, "  ", 5); err == nil {
		t.Error("expected error for empty site")
	}
}

func TestRemoveLimit(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	_ = store.Limits().Set(ctx, storage.Limits{"youtube.com": {Limit: 5}, "reddit.com": {Limit: 5}})

	if err := svc.RemoveLimit(ctx, "https://youtube.com/feed"); err != nil {
		t.Fatalf("RemoveLimit failed: %v", err)
	}
	if err := svc.RemoveLimit(ctx, "youtube.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := svc.ListLimits(ctx)
	if err != nil {
		t.Fatalf("ListLimits failed: %v", err)
	}
	if len(list) != 1 || list[0].Site != "reddit.com" {
		t.Errorf("unexpected limits %+v", list)
	}
}

func TestResetLimit(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	_ = store.Limits().Set(ctx, storage.Limits{
		"youtube.com": {Limit: 5, TimeSpent: 5},
		"reddit.com":  {Limit: 5, TimeSpent: 3},
	})

	if err := svc.ResetLimit(ctx, "youtube.com"); err != nil {
		t.Fatalf("ResetLimit failed: %v", err)
	}
	limits, _ := store.Limits().Get(ctx)
	if limits["youtube.com"].TimeSpent != 0 || limits["reddit.com"].TimeSpent != 3 {
		t.Errorf("unexpected limits after single reset %+v", limits)
	}

	if err := svc.ResetLimit(ctx, ""); err != nil {
		t.Fatalf("ResetLimit all failed: %v", err)
	}
	limits, _ = store.Limits().Get(ctx)
	if limits["reddit.com"].TimeSpent != 0 {
		t.Error("expected every site to be reset")
	}

	if err := svc.ResetLimit(ctx, "missing.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuotes(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	quotes, err := svc.ListQuotes(ctx)
	if err != nil {
		t.Fatalf("ListQuotes failed: %v", err)
	}
	if len(quotes) != len(storage.DefaultQuotes()) {
		t.Fatalf("expected defaults to be seeded, got %d quotes", len(quotes))
	}
	if _, err := store.Quotes().Get(ctx); err != nil {
		t.Errorf("expected seeded quotes to be stored: %v", err)
	}

	quotes, err = svc.AddQuote(ctx, storage.Quote{Text: "Less is more."})
	if err != nil {
		t.Fatalf("AddQuote failed: %v", err)
	}
	if quotes[len(quotes)-1].Text != "Less is more." {
		t.Errorf("expected quote appended, got %+v", quotes)
	}

	if _, err := svc.AddQuote(ctx, storage.Quote{Author: "nobody"}); err == nil {
		t.Error("expected error for quote without text")
	}
	if _, err := svc.RemoveQuote(ctx, 42); !errors.Is(err, ErrQuoteIndex) {
		t.Errorf("expected ErrQuoteIndex, got %v", err)
	}
}

func TestRemoveQuote_LastRestoresDefaults(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	_ = store.Quotes().Set(ctx, []storage.Quote{{Text: "only"}})

	quotes, err := svc.RemoveQuote(ctx, 0)
	if err != nil {
		t.Fatalf("RemoveQuote failed: %v", err)
	}
	if len(quotes) != len(storage.DefaultQuotes()) {
		t.Errorf("expected defaults after removing the last quote, got %+v", quotes)
	}
}

func TestStoreUpdater_KeepsConcurrentWrites(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.Limits().Set(ctx, storage.Limits{"youtube.com": {Limit: 15}})

	daemon := StoreUpdater{Store: store.Limits()}
	cli := NewService(store.Limits(), nil, store.Quotes(), nil, clock.NewTestClock(now), zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			err := daemon.Update(ctx, func(l storage.Limits) (storage.Limits, error) {
				r := l["youtube.com"]
				r.TimeSpent += 0.1
				l["youtube.com"] = r
				return l, nil
			})
			if err != nil {
				t.Errorf("daemon update failed: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := cli.SetLimit(ctx, "reddit.com", 30); err != nil {
			t.Errorf("SetLimit failed: %v", err)
		}
	}()
	wg.Wait()

	limits, _ := store.Limits().Get(ctx)
	if _, ok := limits["reddit.com"]; !ok {
		t.Error("site added while the daemon was writing was lost")
	}
	if got := limits["youtube.com"].TimeSpent; got < 9.99 || got > 10.01 {
		t.Errorf("expected 10 minutes charged, got %v", got)
	}
}

func TestStoreUpdater_ReturnsCallbackError(t *testing.T) {
	store := memory.New()
	boom := errors.New("boom")

	err := StoreUpdater{Store: store.Limits()}.Update(context.Background(), func(storage.Limits) (storage.Limits, error) {
		return nil, boom
	})
	if err != boom {
		t.Errorf("expected callback error unwrapped, got %v", err)
	}
}
