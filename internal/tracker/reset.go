package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/mindful/internal/metrics"
	"github.com/goodtune/mindful/internal/storage"
)

// ResetDaily starts a new day: the active session is flushed so its time
// lands on the old day, then every site's time spent goes back to zero.
func (t *Tracker) ResetDaily(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.session != nil {
		t.flush(ctx, now)
		t.session.StartTime = now
	}

	return t.reset(ctx, now, func(storage.LimitRecord) bool { return true })
}

// ResetStale resets only the records whose last reset was not today. It
// covers rollovers missed while the daemon was not running.
func (t *Tracker) ResetStale(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	today := storage.DateStamp(now)
	return t.reset(ctx, now, func(r storage.LimitRecord) bool { return r.LastReset != today })
}

// errNothingDue aborts a reset that would change no record.
var errNothingDue = errors.New("no record due for reset")

func (t *Tracker) reset(ctx context.Context, now time.Time, due func(storage.LimitRecord) bool) error {
	today := storage.DateStamp(now)

	var sites []string
	limits, err := t.store.Update(ctx, func(limits storage.Limits) (storage.Limits, error) {
		sites = sites[:0]
		for hostname, record := range limits {
			if !due(record) {
				continue
			}
			record.TimeSpent = 0
			record.LastReset = today
			limits[hostname] = record
			sites = append(sites, hostname)
		}
		if len(sites) == 0 {
			return nil, errNothingDue
		}
		return limits, nil
	})
	if errors.Is(err, errNothingDue) {
		return nil
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to persist reset")
		return fmt.Errorf("failed to update limits: %w", err)
	}

	metrics.DailyResets.Inc()
	t.logger.Info().
		Str("date", today).
		Int("sites", len(sites)).
		Msg("Daily counters reset")

	for _, hostname := range sites {
		t.broadcast(ctx, hostname, limits[hostname], now)
	}
	return nil
}
