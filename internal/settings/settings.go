// Package settings implements the user-facing configuration operations:
// site limits and block page quotes.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goodtune/mindful/internal/browser"
	"github.com/goodtune/mindful/internal/clock"
	"github.com/goodtune/mindful/internal/site"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidLimit is returned for limits that are not positive.
	ErrInvalidLimit = errors.New("limit must be a positive number of minutes")

	// ErrInvalidSite is returned for site names that cannot be normalized.
	ErrInvalidSite = errors.New("invalid site")

	// ErrQuoteIndex is returned when removing a quote that does not exist.
	ErrQuoteIndex = errors.New("quote index out of range")
)

// Updater serializes read-modify-write cycles on the limits record.
type Updater interface {
	Update(ctx context.Context, fn func(storage.Limits) (storage.Limits, error)) error
}

// StoreUpdater updates the limits record directly. It is used when no
// daemon-side writer owns the record, such as from the CLI, and relies on
// LimitStore.Update to stay atomic against a running daemon.
type StoreUpdater struct {
	Store storage.LimitStore
}

// Update applies fn atomically. Errors from fn are returned unwrapped.
func (u StoreUpdater) Update(ctx context.Context, fn func(storage.Limits) (storage.Limits, error)) error {
	var fnErr error
	_, err := u.Store.Update(ctx, func(limits storage.Limits) (storage.Limits, error) {
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

// SiteLimit is one row of the limits listing.
type SiteLimit struct {
	Site string `json:"site"`
	storage.LimitRecord
}

// Service performs settings operations.
type Service struct {
	limits  storage.LimitStore
	updater Updater
	quotes  storage.QuoteStore
	tabs    browser.TabHost // optional
	clock   clock.Clock
	logger  zerolog.Logger
	quoteMu sync.Mutex
}

// NewService creates a new settings service. tabs may be nil when there
// is no browser to notify.
func NewService(limits storage.LimitStore, updater Updater, quotes storage.QuoteStore, tabs browser.TabHost, clk clock.Clock, logger zerolog.Logger) *Service {
	if updater == nil {
		updater = StoreUpdater{Store: limits}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		limits:  limits,
		updater: updater,
		quotes:  quotes,
		tabs:    tabs,
		clock:   clk,
		logger:  logger.With().Str("component", "settings").Logger(),
	}
}

// ListLimits returns every configured site ordered by name.
func (s *Service) ListLimits(ctx context.Context) ([]SiteLimit, error) {
	limits, err := s.limits.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits: %w", err)
	}

	out := make([]SiteLimit, 0, len(limits))
	for name, record := range limits {
		out = append(out, SiteLimit{Site: name, LimitRecord: record})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out, nil
}

// SetLimit configures a daily limit for name. An existing record for the
// site is replaced and its time spent starts again from zero. Open tabs of
// the site are told about the new limit.
func (s *Service) SetLimit(ctx context.Context, name string, minutes float64) (SiteLimit, error) {
	if minutes <= 0 {
		return SiteLimit{}, ErrInvalidLimit
	}
	key, err := site.Key(name)
	if err != nil {
		return SiteLimit{}, fmt.Errorf("%w %q: %v", ErrInvalidSite, name, err)
	}

	record := storage.LimitRecord{
		Limit:     minutes,
		LastReset: storage.DateStamp(s.clock.Now()),
	}
	err = s.updater.Update(ctx, func(limits storage.Limits) (storage.Limits, error) {
		limits[key] = record
		return limits, nil
	})
	if err != nil {
		return SiteLimit{}, err
	}

	s.logger.Info().Str("site", key).Float64("limit", minutes).Msg("Limit set")
	s.announce(ctx, key, record)
	return SiteLimit{Site: key, LimitRecord: record}, nil
}

// announce pushes limitAdded to every open tab of the site.
func (s *Service) announce(ctx context.Context, key string, record storage.LimitRecord) {
	if s.tabs == nil {
		return
	}
	tabs, err := s.tabs.Tabs(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list tabs")
		return
	}
	data := browser.TimeDataFor(record, s.clock.Now())
	for _, tab := range browser.TabsFor(tabs, key) {
		if err := s.tabs.SendLimitAdded(ctx, tab.ID, data); err != nil && !errors.Is(err, browser.ErrNoListener) {
			s.logger.Warn().Err(err).Int("tab_id", tab.ID).Msg("Failed to send limitAdded")
		}
	}
}

// RemoveLimit deletes the limit for name. It returns storage.ErrNotFound
// when the site has none.
func (s *Service) RemoveLimit(ctx context.Context, name string) error {
	key, err := site.Key(name)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSite, name, err)
	}

	err = s.updater.Update(ctx, func(limits storage.Limits) (storage.Limits, error) {
		if _, ok := limits[key]; !ok {
			return nil, storage.ErrNotFound
		}
		delete(limits, key)
		return limits, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("site", key).Msg("Limit removed")
	return nil
}

// ResetLimit zeroes today's time spent for name, or for every site when
// name is empty.
func (s *Service) ResetLimit(ctx context.Context, name string) error {
	key := ""
	if name != "" {
		var err error
		if key, err = site.Key(name); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidSite, name, err)
		}
	}

	today := storage.DateStamp(s.clock.Now())
	return s.updater.Update(ctx, func(limits storage.Limits) (storage.Limits, error) {
		if key != "" {
			if _, ok := limits[key]; !ok {
				return nil, storage.ErrNotFound
			}
		}
		for name, record := range limits {
			if key != "" && name != key {
				continue
			}
			record.TimeSpent = 0
			record.LastReset = today
			limits[name] = record
		}
		return limits, nil
	})
}

// ListQuotes returns the configured quotes. The default set is stored and
// returned when none have been configured yet.
func (s *Service) ListQuotes(ctx context.Context) ([]storage.Quote, error) {
	s.quoteMu.Lock()
	defer s.quoteMu.Unlock()
	return s.listQuotes(ctx)
}

func (s *Service) listQuotes(ctx context.Context) ([]storage.Quote, error) {
	quotes, err := s.quotes.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		quotes = storage.DefaultQuotes()
		if err := s.quotes.Set(ctx, quotes); err != nil {
			return nil, fmt.Errorf("failed to seed quotes: %w", err)
		}
		return quotes, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quotes: %w", err)
	}
	return quotes, nil
}

// AddQuote appends a quote.
func (s *Service) AddQuote(ctx context.Context, quote storage.Quote) ([]storage.Quote, error) {
	if err := quote.Validate(); err != nil {
		return nil, err
	}
	s.quoteMu.Lock()
	defer s.quoteMu.Unlock()

	quotes, err := s.listQuotes(ctx)
	if err != nil {
		return nil, err
	}
	quotes = append(quotes, quote)
	if err := s.quotes.Set(ctx, quotes); err != nil {
		return nil, fmt.Errorf("failed to write quotes: %w", err)
	}
	return quotes, nil
}

// RemoveQuote deletes the quote at index. Removing the last quote
// restores the default set.
func (s *Service) RemoveQuote(ctx context.Context, index int) ([]storage.Quote, error) {
	s.quoteMu.Lock()
	defer s.quoteMu.Unlock()

	quotes, err := s.listQuotes(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(quotes) {
		return nil, ErrQuoteIndex
	}

	quotes = append(quotes[:index], quotes[index+1:]...)
	if len(quotes) == 0 {
		quotes = storage.DefaultQuotes()
	}
	if err := s.quotes.Set(ctx, quotes); err != nil {
		return nil, fmt.Errorf("failed to write quotes: %w", err)
	}
	return quotes, nil
}
