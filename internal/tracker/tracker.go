// Package tracker holds the active browsing session and charges its
// elapsed time against the focused site's daily budget.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/mindful/internal/browser"
	"github.com/goodtune/mindful/internal/clock"
	"github.com/goodtune/mindful/internal/metrics"
	"github.com/goodtune/mindful/internal/site"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/rs/zerolog"
)

// Enforcer is the part of the enforcement engine the tracker drives.
type Enforcer interface {
	CheckAndBlock(ctx context.Context, hostname string, tabID int) bool
	AfterFlush(ctx context.Context, hostname string, before, after storage.LimitRecord)
}

// Session is the site currently in focus.
type Session struct {
	Hostname  string    `json:"hostname"`
	TabID     int       `json:"tabId"`
	StartTime time.Time `json:"startTime"`
}

// Config holds tracker configuration
type Config struct {
	Resolver *site.Resolver // nil uses an uncached lookup
	Clock    clock.Clock    // nil uses the wall clock
}

// Tracker is the single writer of the limits record within the daemon.
// Every read-modify-write of limits goes through its mutex, either from its
// own event handlers or from Update, and commits with LimitStore.Update so
// writers in other processes are not lost.
type Tracker struct {
	store   storage.LimitStore
	engine  Enforcer
	tabs    browser.TabHost
	resolve func(string) (string, error)
	clock   clock.Clock
	session *Session
	logger  zerolog.Logger
	mu      sync.Mutex
}

// NewTracker creates a new session tracker
func NewTracker(store storage.LimitStore, engine Enforcer, tabs browser.TabHost, config Config, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		store:   store,
		engine:  engine,
		tabs:    tabs,
		resolve: site.Hostname,
		clock:   config.Clock,
		logger:  logger.With().Str("component", "tracker").Logger(),
	}
	if config.Resolver != nil {
		t.resolve = config.Resolver.Hostname
	}
	if t.clock == nil {
		t.clock = clock.RealClock{}
	}
	return t
}

// OnFocusChange handles a tab gaining focus or navigating. Pages that are
// not http(s) are ignored and leave the current session untouched.
func (t *Tracker) OnFocusChange(ctx context.Context, rawURL string, tabID int) {
	hostname, err := t.resolve(rawURL)
	if err != nil {
		metrics.FocusChanges.WithLabelValues("ignored").Inc()
		t.logger.Debug().Err(err).Int("tab_id", tabID).Msg("Ignoring focus change")
		return
	}
	metrics.FocusChanges.WithLabelValues("tracked").Inc()

	t.mu.Lock()
	now := t.clock.Now()
	if t.session != nil {
		t.flush(ctx, now)
	}
	t.session = &Session{Hostname: hostname, TabID: tabID, StartTime: now}
	metrics.ActiveSession.Set(1)
	t.mu.Unlock()

	t.logger.Debug().
		Str("site", hostname).
		Int("tab_id", tabID).
		Msg("Session started")

	t.engine.CheckAndBlock(ctx, hostname, tabID)
}

// OnTick charges the time since the last flush to the active session and
// keeps the session open.
func (t *Tracker) OnTick(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil {
		return
	}
	now := t.clock.Now()
	t.flush(ctx, now)
	t.session.StartTime = now
}

// OnTabClosed ends the session when the tab that opened it goes away.
func (t *Tracker) OnTabClosed(ctx context.Context, tabID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil || t.session.TabID != tabID {
		return
	}
	t.flush(ctx, t.clock.Now())
	t.logger.Debug().Str("site", t.session.Hostname).Int("tab_id", tabID).Msg("Session closed with its tab")
	t.session = nil
	metrics.ActiveSession.Set(0)
}

// Session returns a copy of the active session.
func (t *Tracker) Session() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil {
		return Session{}, false
	}
	return *t.session, true
}

// TimeFor answers an overlay's time request for the page at rawURL. It
// returns nil when the page's site has no limit.
func (t *Tracker) TimeFor(ctx context.Context, rawURL string) (*browser.TimeData, error) {
	hostname, err := t.resolve(rawURL)
	if errors.Is(err, site.ErrUnsupportedScheme) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	limits, err := t.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits: %w", err)
	}
	record, ok := limits[hostname]
	if !ok {
		return nil, nil
	}
	data := browser.TimeDataFor(record, t.clock.Now())
	return &data, nil
}

// Update applies fn to the limits record under the writer lock and
// persists the result.
func (t *Tracker) Update(ctx context.Context, fn func(storage.Limits) (storage.Limits, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.update(ctx, fn)
}

func (t *Tracker) update(ctx context.Context, fn func(storage.Limits) (storage.Limits, error)) error {
	var fnErr error
	_, err := t.store.Update(ctx, func(limits storage.Limits) (storage.Limits, error) {
		next, err := fn(limits)
		fnErr = err
		return next, err
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("failed to update limits: %w", err)
	}
	return nil
}

// errUntracked aborts a flush for a site that has no limit.
var errUntracked = errors.New("site has no limit")

// flush charges now - StartTime to the active session's site. Callers
// hold t.mu and t.session is non-nil. Failures are logged and the time is
// dropped.
func (t *Tracker) flush(ctx context.Context, now time.Time) {
	hostname := t.session.Hostname
	elapsed := now.Sub(t.session.StartTime).Minutes()
	if elapsed < 0 {
		elapsed = 0
	}

	var before, after storage.LimitRecord
	_, err := t.store.Update(ctx, func(limits storage.Limits) (storage.Limits, error) {
		record, ok := limits[hostname]
		if !ok {
			return nil, errUntracked
		}
		before, after = record, record
		after.TimeSpent += elapsed
		after.LastUpdateTime = now.UnixMilli()
		limits[hostname] = after
		return limits, nil
	})
	if errors.Is(err, errUntracked) {
		metrics.Flushes.WithLabelValues("untracked").Inc()
		return
	}
	if err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		t.logger.Error().Err(err).Str("site", hostname).Msg("Failed to persist time spent")
		return
	}
	metrics.Flushes.WithLabelValues("written").Inc()
	metrics.MinutesTracked.WithLabelValues(hostname).Add(elapsed)

	t.logger.Debug().
		Str("site", hostname).
		Float64("elapsed_minutes", elapsed).
		Float64("time_spent", after.TimeSpent).
		Float64("limit", after.Limit).
		Msg("Flushed session time")

	t.broadcast(ctx, hostname, after, now)
	t.engine.AfterFlush(ctx, hostname, before, after)
}

// broadcast pushes the record to every open tab of hostname.
func (t *Tracker) broadcast(ctx context.Context, hostname string, record storage.LimitRecord, now time.Time) {
	tabs, err := t.tabs.Tabs(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to list tabs for time update")
		return
	}

	data := browser.TimeDataFor(record, now)
	for _, tab := range browser.TabsFor(tabs, hostname) {
		if err := t.tabs.SendTimeUpdate(ctx, tab.ID, data); err != nil {
			if errors.Is(err, browser.ErrNoListener) {
				t.logger.Debug().Int("tab_id", tab.ID).Msg("No listener for time update")
				continue
			}
			t.logger.Warn().Err(err).Int("tab_id", tab.ID).Msg("Failed to send time update")
		}
	}
}
