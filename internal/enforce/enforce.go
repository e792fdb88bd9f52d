// Package enforce decides when a site's daily budget is used up and
// blocks its tabs.
package enforce

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/browser"
	"github.com/goodtune/mindful/internal/metrics"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/rs/zerolog"
)

// NotificationTitle is the title of the threshold notification.
const NotificationTitle = "Time Limit Reached"

// LimitReader looks up the committed record for a hostname.
type LimitReader interface {
	Get(ctx context.Context, hostname string) (storage.LimitRecord, bool)
}

// PageSource renders the replacement page for a blocked tab.
type PageSource interface {
	Page(ctx context.Context) (blockpage.Page, error)
}

// Engine blocks tabs of sites that are over their limit.
type Engine struct {
	limits   LimitReader
	tabs     browser.TabHost
	notifier browser.Notifier
	pages    PageSource
	logger   zerolog.Logger
}

// NewEngine creates a new enforcement engine
func NewEngine(limits LimitReader, tabs browser.TabHost, notifier browser.Notifier, pages PageSource, logger zerolog.Logger) *Engine {
	return &Engine{
		limits:   limits,
		tabs:     tabs,
		notifier: notifier,
		pages:    pages,
		logger:   logger.With().Str("component", "enforce").Logger(),
	}
}

// NotificationFor builds the threshold notification for hostname.
func NotificationFor(hostname string) browser.Notification {
	return browser.Notification{
		Title:   NotificationTitle,
		Message: fmt.Sprintf("You've reached your daily limit for %s", hostname),
		Site:    hostname,
	}
}

// CheckAndBlock replaces the content of tabID when hostname is over its
// limit. It reports whether the tab was blocked. Calling it again for an
// already blocked tab replaces the content again with no other effect.
func (e *Engine) CheckAndBlock(ctx context.Context, hostname string, tabID int) bool {
	record, ok := e.limits.Get(ctx, hostname)
	if !ok || !record.Exceeded() {
		return false
	}

	e.logger.Debug().
		Str("site", hostname).
		Int("tab_id", tabID).
		Float64("time_spent", record.TimeSpent).
		Float64("limit", record.Limit).
		Msg("Site over limit on focus")

	e.block(ctx, hostname, tabID, "focus")
	return true
}

// CheckAllTabsAndBlock blocks every open tab of hostname and raises a
// single notification.
func (e *Engine) CheckAllTabsAndBlock(ctx context.Context, hostname string) {
	e.blockAll(ctx, hostname)

	if err := e.notifier.Notify(ctx, NotificationFor(hostname)); err != nil {
		e.logger.Warn().Err(err).Str("site", hostname).Msg("Failed to raise notification")
	}
}

// AfterFlush runs once a flush has persisted after for hostname. A
// crossing blocks every matching tab and notifies once. A record that was
// already over the limit only has its tabs blocked again.
func (e *Engine) AfterFlush(ctx context.Context, hostname string, before, after storage.LimitRecord) {
	if !after.Exceeded() {
		return
	}

	if !before.Exceeded() {
		metrics.ThresholdCrossings.WithLabelValues(hostname).Inc()
		e.logger.Info().
			Str("site", hostname).
			Float64("time_spent", after.TimeSpent).
			Float64("limit", after.Limit).
			Msg("Daily limit reached")
		e.CheckAllTabsAndBlock(ctx, hostname)
		return
	}

	e.blockAll(ctx, hostname)
}

func (e *Engine) blockAll(ctx context.Context, hostname string) {
	tabs, err := e.tabs.Tabs(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("site", hostname).Msg("Failed to list tabs")
		return
	}
	for _, tab := range browser.TabsFor(tabs, hostname) {
		e.block(ctx, hostname, tab.ID, "flush")
	}
}

func (e *Engine) block(ctx context.Context, hostname string, tabID int, trigger string) {
	page, err := e.pages.Page(ctx)
	if err != nil {
		if page.HTML == "" {
			e.logger.Error().Err(err).Msg("Failed to render block page")
			return
		}
		// The page still carries the built-in quote
		e.logger.Warn().Err(err).Msg("Quote lookup failed")
	}

	if err := e.tabs.ReplaceContent(ctx, tabID, page); err != nil {
		if errors.Is(err, browser.ErrNoListener) {
			e.logger.Debug().Int("tab_id", tabID).Msg("No listener for page replacement")
			return
		}
		e.logger.Warn().Err(err).Int("tab_id", tabID).Msg("Failed to replace tab content")
		return
	}
	metrics.PagesBlocked.WithLabelValues(hostname, trigger).Inc()
}
