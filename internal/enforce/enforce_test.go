package enforce

import (
	"context"
	"errors"
	"testing"

	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/browser"
	"github.com/goodtune/mindful/internal/browser/browsertest"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/rs/zerolog"
)

type fakeLimits storage.Limits

func (f fakeLimits) Get(ctx context.Context, hostname string) (storage.LimitRecord, bool) {
	r, ok := f[hostname]
	return r, ok
}

type fixedPage struct {
	err error
}

func (p fixedPage) Page(ctx context.Context) (blockpage.Page, error) {
	page, _ := blockpage.Render(blockpage.DefaultQuote)
	return page, p.err
}

func newEngine(limits fakeLimits, host *browsertest.Host) *Engine {
	return NewEngine(limits, host, host, fixedPage{}, zerolog.Nop())
}

func TestCheckAndBlock(t *testing.T) {
	limits := fakeLimits{
		"youtube.com": {Limit: 5, TimeSpent: 5},
		"reddit.com":  {Limit: 30, TimeSpent: 10},
	}

	tests := []struct {
		name     string
		hostname string
		want     bool
	}{
		{"at limit", "youtube.com", true},
		{"under limit", "reddit.com", false},
		{"untracked", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := browsertest.NewHost()
			e := newEngine(limits, host)

			if got := e.CheckAndBlock(context.Background(), tt.hostname, 7); got != tt.want {
				t.Errorf("CheckAndBlock = %v, want %v", got, tt.want)
			}

			wantPushes := 0
			if tt.want {
				wantPushes = 1
			}
			if n := host.Count("replaceContent", 7); n != wantPushes {
				t.Errorf("expected %d replacements, got %d", wantPushes, n)
			}
			if host.NotificationCount() != 0 {
				t.Error("focus check must not notify")
			}
		})
	}
}

func TestCheckAndBlock_Idempotent(t *testing.T) {
	host := browsertest.NewHost()
	e := newEngine(fakeLimits{"youtube.com": {Limit: 1, TimeSpent: 2}}, host)

	for i := 0; i < 3; i++ {
		if !e.CheckAndBlock(context.Background(), "youtube.com", 1) {
			t.Fatal("expected tab to be blocked")
		}
	}

	push, ok := host.Last("replaceContent")
	if !ok {
		t.Fatal("expected a replacement")
	}
	if push.Page.Title != blockpage.Title {
		t.Errorf("expected title %q, got %q", blockpage.Title, push.Page.Title)
	}
}

func TestCheckAllTabsAndBlock(t *testing.T) {
	host := browsertest.NewHost(
		browser.Tab{ID: 1, URL: "https://youtube.com/watch", Hostname: "youtube.com"},
		browser.Tab{ID: 2, URL: "https://www.youtube.com/", Hostname: "youtube.com"},
		browser.Tab{ID: 3, URL: "https://example.com/", Hostname: "example.com"},
		browser.Tab{ID: 4, URL: "chrome://newtab", Hostname: ""},
	)
	e := newEngine(fakeLimits{}, host)

	e.CheckAllTabsAndBlock(context.Background(), "youtube.com")

	if host.Count("replaceContent", 1) != 1 || host.Count("replaceContent", 2) != 1 {
		t.Error("expected both youtube tabs to be replaced")
	}
	if host.Count("replaceContent", 3) != 0 || host.Count("replaceContent", 4) != 0 {
		t.Error("expected other tabs to be untouched")
	}
	if host.NotificationCount() != 1 {
		t.Fatalf("expected exactly one notification, got %d", host.NotificationCount())
	}
	if got := host.Notifications[0]; got != NotificationFor("youtube.com") {
		t.Errorf("unexpected notification: %+v", got)
	}
	if host.Notifications[0].Message != "You've reached your daily limit for youtube.com" {
		t.Errorf("unexpected message %q", host.Notifications[0].Message)
	}
	if host.Notifications[0].Site != "youtube.com" {
		t.Errorf("expected notification to name its site, got %q", host.Notifications[0].Site)
	}
}

func TestAfterFlush(t *testing.T) {
	tests := []struct {
		name         string
		before       float64
		after        float64
		wantBlocks   int
		wantNotifies int
	}{
		{"stays under", 1, 2, 0, 0},
		{"crosses", 4.9, 5.0666, 1, 1},
		{"lands exactly on limit", 4, 5, 1, 1},
		{"already over", 5.1, 5.2, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := browsertest.NewHost(browser.Tab{ID: 9, URL: "https://youtube.com/", Hostname: "youtube.com"})
			e := newEngine(fakeLimits{}, host)

			before := storage.LimitRecord{Limit: 5, TimeSpent: tt.before}
			after := storage.LimitRecord{Limit: 5, TimeSpent: tt.after}
			e.AfterFlush(context.Background(), "youtube.com", before, after)

			if n := host.Count("replaceContent", 9); n != tt.wantBlocks {
				t.Errorf("expected %d replacements, got %d", tt.wantBlocks, n)
			}
			if n := host.NotificationCount(); n != tt.wantNotifies {
				t.Errorf("expected %d notifications, got %d", tt.wantNotifies, n)
			}
		})
	}
}

func TestBlock_ToleratesMissingListenerAndQuoteErrors(t *testing.T) {
	host := browsertest.NewHost()
	host.Deaf[5] = true
	e := NewEngine(fakeLimits{"a.com": {Limit: 1, TimeSpent: 1}}, host, host,
		fixedPage{err: errors.New("quotes unavailable")}, zerolog.Nop())

	if !e.CheckAndBlock(context.Background(), "a.com", 5) {
		t.Error("expected over-limit site to report blocked")
	}
	if !e.CheckAndBlock(context.Background(), "a.com", 6) {
		t.Error("expected over-limit site to report blocked")
	}
	if host.Count("replaceContent", 6) != 1 {
		t.Error("expected page built from the default quote to be delivered")
	}
}
