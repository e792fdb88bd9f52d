package tracker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/browser"
	"github.com/goodtune/mindful/internal/browser/browsertest"
	"github.com/goodtune/mindful/internal/cache"
	"github.com/goodtune/mindful/internal/clock"
	"github.com/goodtune/mindful/internal/enforce"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/goodtune/mindful/internal/storage/memory"
	"github.com/rs/zerolog"
)

var start = time.Date(2026, time.October, 18, 14, 0, 0, 0, time.Local)

type fixture struct {
	tracker *Tracker
	store   *memory.Store
	host    *browsertest.Host
	clock   *clock.TestClock
}

func setup(t *testing.T, limits storage.Limits, tabs ...browser.Tab) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	if err := store.Limits().Set(ctx, limits); err != nil {
		t.Fatalf("failed to seed limits: %v", err)
	}

	lc := cache.New(store.Limits(), zerolog.Nop())
	if err := lc.Load(ctx); err != nil {
		t.Fatalf("failed to load cache: %v", err)
	}
	t.Cleanup(lc.Watch(store))

	host := browsertest.NewHost(tabs...)
	engine := enforce.NewEngine(lc, host, host, blockpage.NewRenderer(store.Quotes()), zerolog.Nop())
	clk := clock.NewTestClock(start)

	tr := NewTracker(store.Limits(), engine, host, Config{Clock: clk}, zerolog.Nop())
	return &fixture{tracker: tr, store: store, host: host, clock: clk}
}

func (f *fixture) record(t *testing.T, hostname string) storage.LimitRecord {
	t.Helper()
	limits, err := f.store.Limits().Get(context.Background())
	if err != nil {
		t.Fatalf("failed to read limits: %v", err)
	}
	return limits[hostname]
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func today() string {
	return storage.DateStamp(start)
}

func TestFlush_CrossesLimit(t *testing.T) {
	f := setup(t,
		storage.Limits{"youtube.com": {Limit: 5, TimeSpent: 4.9, LastReset: today()}},
		browser.Tab{ID: 1, URL: "https://www.youtube.com/watch?v=x", Hostname: "youtube.com"},
	)
	ctx := context.Background()

	f.tracker.OnFocusChange(ctx, "https://www.youtube.com/watch?v=x", 1)
	if f.host.Count("replaceContent", -1) != 0 {
		t.Fatal("site under its limit must not be blocked on focus")
	}

	f.clock.Advance(10 * time.Second)
	f.tracker.OnTick(ctx)

	got := f.record(t, "youtube.com")
	if !approx(got.TimeSpent, 4.9+10.0/60) {
		t.Errorf("expected timeSpent %.4f, got %.4f", 4.9+10.0/60, got.TimeSpent)
	}
	if got.LastUpdateTime != start.Add(10*time.Second).UnixMilli() {
		t.Errorf("unexpected lastUpdateTime %d", got.LastUpdateTime)
	}
	if storage.FormatMinutes(got.TimeSpent) != "5.0" {
		t.Errorf("expected display 5.0, got %s", storage.FormatMinutes(got.TimeSpent))
	}

	if n := f.host.NotificationCount(); n != 1 {
		t.Errorf("expected one notification, got %d", n)
	}
	if n := f.host.Count("replaceContent", 1); n != 1 {
		t.Errorf("expected one replacement, got %d", n)
	}
	update, ok := f.host.Last("timeUpdate")
	if !ok || update.TabID != 1 || !approx(update.Data.TimeSpent, got.TimeSpent) {
		t.Errorf("expected timeUpdate for tab 1, got %+v", update)
	}

	// Staying over the limit re-blocks but never notifies again
	f.clock.Advance(2 * time.Second)
	f.tracker.OnTick(ctx)
	if n := f.host.NotificationCount(); n != 1 {
		t.Errorf("expected notification count to stay at 1, got %d", n)
	}
}

func TestOnFocusChange_NonHTTPKeepsSession(t *testing.T) {
	f := setup(t, storage.Limits{"youtube.com": {Limit: 30}})
	ctx := context.Background()

	f.tracker.OnFocusChange(ctx, "https://youtube.com/", 1)
	f.tracker.OnFocusChange(ctx, "chrome://extensions", 2)
	f.tracker.OnFocusChange(ctx, "", 3)

	session, ok := f.tracker.Session()
	if !ok {
		t.Fatal("expected a session")
	}
	if session.Hostname != "youtube.com" || session.TabID != 1 || !session.StartTime.Equal(start) {
		t.Errorf("session changed by non-http focus: %+v", session)
	}
	if got := f.record(t, "youtube.com").TimeSpent; got != 0 {
		t.Errorf("non-http focus must not flush, timeSpent %v", got)
	}
}

func TestOnFocusChange_FlushesPreviousSite(t *testing.T) {
	f := setup(t, storage.Limits{
		"youtube.com": {Limit: 30},
		"reddit.com":  {Limit: 30},
	})
	ctx := context.Background()

	f.tracker.OnFocusChange(ctx, "https://youtube.com/", 1)
	f.clock.Advance(3 * time.Minute)
	f.tracker.OnFocusChange(ctx, "https://old.reddit.com/", 2)
	f.tracker.OnFocusChange(ctx, "https://reddit.com/r/golang", 2)
	f.clock.Advance(time.Minute)
	f.tracker.OnTick(ctx)

	if got := f.record(t, "youtube.com").TimeSpent; !approx(got, 3) {
		t.Errorf("expected 3 minutes on youtube.com, got %v", got)
	}
	if got := f.record(t, "reddit.com").TimeSpent; !approx(got, 1) {
		t.Errorf("expected 1 minute on reddit.com, got %v", got)
	}
}

func TestFlush_UntrackedIsNoOp(t *testing.T) {
	f := setup(t, storage.Limits{"youtube.com": {Limit: 30}},
		browser.Tab{ID: 4, URL: "https://example.com/", Hostname: "example.com"})
	ctx := context.Background()

	f.tracker.OnFocusChange(ctx, "https://example.com/", 4)
	f.clock.Advance(5 * time.Minute)
	f.tracker.OnTick(ctx)

	limits, _ := f.store.Limits().Get(ctx)
	if _, ok := limits["example.com"]; ok {
		t.Error("flush must not create records")
	}
	if len(f.host.Pushes) != 0 {
		t.Errorf("expected no pushes, got %+v", f.host.Pushes)
	}
}

func TestFlush_BroadcastsToEveryMatchingTab(t *testing.T) {
	f := setup(t, storage.Limits{"youtube.com": {Limit: 30}},
		browser.Tab{ID: 1, URL: "https://youtube.com/", Hostname: "youtube.com"},
		browser.Tab{ID: 2, URL: "https://www.youtube.com/feed", Hostname: "youtube.com"},
		browser.Tab{ID: 3, URL: "https://example.com/", Hostname: "example.com"},
	)
	ctx := context.Background()

	f.tracker.OnFocusChange(ctx, "https://youtube.com/", 1)
	f.clock.Advance(time.Minute)
	f.tracker.OnTick(ctx)

	if f.host.Count("timeUpdate", 1) != 1 || f.host.Count("timeUpdate", 2) != 1 {
		t.Error("expected a timeUpdate for both youtube tabs")
	}
	if f.host.Count("timeUpdate", 3) != 0 {
		t.Error("unexpected timeUpdate for unrelated tab")
	}
}

func TestFlush_MissingListenerIsSwallowed(t *testing.T) {
	f := setup(t, storage.Limits{"youtube.com": {Limit: 30}},
		browser.Tab{ID: 1, URL: "https://youtube.com/", Hostname: "youtube.com"},
		browser.Tab{ID: 2, URL: "https://youtube.com/", Hostname: "youtube.com"},
	)
	f.host.Deaf[1] = true
	ctx := context.Background()

	f.tracker.OnFocusChange(ctx, "https://youtube.com/", 1)
	f.clock.Advance(time.Minute)
	f.tracker.OnTick(ctx)

	if !approx(f.record(t, "youtube.com").TimeSpent, 1) {
		t.Error("expected time to be persisted")
	}
	if f.host.Count("timeUpdate", 2) != 1 {
		t.Error("expected delivery to continue past a deaf tab")
	}
}

func TestOnTick_Monotonic(t *testing.T) {
	f := setup(t, storage.Limits{"youtube.com": {Limit: 60}})
	ctx := context.Background()

	f.tracker.OnTick(ctx)
	f.tracker.OnFocusChange(ctx, "https://youtube.com/", 1)

	prev := 0.0
	for i := 0; i < 10; i++ {
		f.clock.Advance(time.Duration(i) * time.Second)
		f.tracker.OnTick(ctx)
		got := f.record(t, "youtube.com").TimeSpent
		if got < prev {
			t.Fatalf("timeSpent decreased from %v to %v", prev, got)
		}
		prev = got
	}
	if !approx(prev, 45.0/60) {
		t.Errorf("expected 0.75 minutes, got %v", prev)
	}
}

func TestOnFocusChange_OverLimitBlocksWithoutNotification(t *testing.T) {
	f := setup(t, storage.Limits{"youtube.com": {Limit: 5, TimeSpent: 6}})

	f.tracker.OnFocusChange(context.Background(), "https://m.youtube.com/", 8)
	f.tracker.OnFocusChange(context.Background(), "https://youtube.com/", 8)

	if n := f.host.Count("replaceContent", 8); n != 1 {
		t.Errorf("expected one replacement, got %d", n)
	}
	if f.host.NotificationCount() != 0 {
		t.Error("focus on an already exhausted site must not notify")
	}
}

func TestOnTabClosed(t *testing.T) {
	f := setup(t, storage.Limits{"youtube.com": {Limit: 30}})
	ctx := context.Background()

	f.tracker.OnFocusChange(ctx, "https://youtube.com/", 1)
	f.clock.Advance(time.Minute)
	f.tracker.OnTabClosed(ctx, 2)
	if _, ok := f.tracker.Session(); !ok {
		t.Fatal("closing another tab must keep the session")
	}

	f.tracker.OnTabClosed(ctx, 1)
	if _, ok := f.tracker.Session(); ok {
		t.Error("expected session to end with its tab")
	}
	if !approx(f.record(t, "youtube.com").TimeSpent, 1) {
		t.Error("expected the closing tab's time to be flushed")
	}

	f.clock.Advance(time.Minute)
	f.tracker.OnTick(ctx)
	if !approx(f.record(t, "youtube.com").TimeSpent, 1) {
		t.Error("tick without a session must not charge time")
	}
}

func TestTimeFor(t *testing.T) {
	f := setup(t, storage.Limits{
		"youtube.com": {Limit: 5, TimeSpent: 2, LastUpdateTime: 1000},
		"reddit.com":  {Limit: 10},
	})
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		want *browser.TimeData
	}{
		{"tracked", "https://www.youtube.com/watch", &browser.TimeData{TimeSpent: 2, Limit: 5, LastUpdateTime: 1000}},
		{"never updated", "https://reddit.com/", &browser.TimeData{Limit: 10, LastUpdateTime: start.UnixMilli()}},
		{"untracked", "https://example.com/", nil},
		{"non-http", "about:blank", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.tracker.TimeFor(ctx, tt.url)
			if err != nil {
				t.Fatalf("TimeFor failed: %v", err)
			}
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("TimeFor = %+v, want %+v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("TimeFor = %+v, want %+v", *got, *tt.want)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	f := setup(t, storage.Limits{})

	err := f.tracker.Update(context.Background(), func(l storage.Limits) (storage.Limits, error) {
		l["youtube.com"] = storage.LimitRecord{Limit: 15, LastReset: today()}
		return l, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if f.record(t, "youtube.com").Limit != 15 {
		t.Error("expected update to be persisted")
	}
}

func TestTracker_ConcurrentEvents(t *testing.T) {
	f := setup(t, storage.Limits{
		"youtube.com": {Limit: 600, LastReset: today()},
		"reddit.com":  {Limit: 600, LastReset: today()},
	})
	ctx := context.Background()

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			url := "https://www.youtube.com/"
			if i%2 == 1 {
				url = "https://reddit.com/r/golang"
			}
			f.tracker.OnFocusChange(ctx, url, i%3+1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			f.clock.Advance(time.Minute)
			f.tracker.OnTick(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if err := f.tracker.ResetDaily(ctx); err != nil {
				t.Errorf("ResetDaily failed: %v", err)
			}
		}
	}()
	// A second writer outside the tracker, as the CLI would be
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := f.store.Limits().Update(ctx, func(l storage.Limits) (storage.Limits, error) {
				l[fmt.Sprintf("site%d.com", i)] = storage.LimitRecord{Limit: 10, LastReset: today()}
				return l, nil
			})
			if err != nil {
				t.Errorf("external update %d failed: %v", i, err)
			}
		}
	}()
	wg.Wait()

	limits, err := f.store.Limits().Get(ctx)
	if err != nil {
		t.Fatalf("failed to read limits: %v", err)
	}
	if len(limits) != rounds+2 {
		t.Errorf("expected %d sites, got %d", rounds+2, len(limits))
	}
	for hostname, record := range limits {
		if record.TimeSpent < 0 || record.TimeSpent > rounds {
			t.Errorf("%s: time spent %v outside [0, %d]", hostname, record.TimeSpent, rounds)
		}
		if record.LastReset != today() {
			t.Errorf("%s: last reset %q, want %q", hostname, record.LastReset, today())
		}
	}
	if _, ok := f.tracker.Session(); !ok {
		t.Error("expected a session to remain open")
	}
}
