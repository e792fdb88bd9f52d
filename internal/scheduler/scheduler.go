// Package scheduler runs named periodic alarms.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/mindful/internal/clock"
	"github.com/goodtune/mindful/internal/metrics"
	"github.com/rs/zerolog"
)

// Alarm names used by the daemon.
const (
	CheckTimeLimit = "checkTimeLimit"
	UpdateSeconds  = "updateSeconds"
	ResetDaily     = "resetDaily"
)

// Schedule computes when an alarm fires next.
type Schedule interface {
	Next(now time.Time) time.Time
	String() string
}

type every time.Duration

// Every fires every d, measured from the previous firing.
func Every(d time.Duration) Schedule {
	return every(d)
}

func (e every) Next(now time.Time) time.Time {
	return now.Add(time.Duration(e))
}

func (e every) String() string {
	return "every " + time.Duration(e).String()
}

type daily struct {
	hour, minute int
}

// DailyAt fires once a day at hhmm ("15:04" layout) local time.
func DailyAt(hhmm string) (Schedule, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return nil, fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}
	return daily{hour: t.Hour(), minute: t.Minute()}, nil
}

// Next returns today's firing time, or tomorrow's if it has passed. The
// anchor is recomputed from the wall clock on every call so DST changes
// and suspended hosts do not drift the schedule.
func (d daily) Next(now time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), d.hour, d.minute, 0, 0, now.Location())
	if now.Before(today) {
		return today
	}
	return time.Date(now.Year(), now.Month(), now.Day()+1, d.hour, d.minute, 0, 0, now.Location())
}

func (d daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.hour, d.minute)
}

// Func is run each time an alarm fires.
type Func func(ctx context.Context)

type alarm struct {
	name     string
	schedule Schedule
	fn       Func
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns a set of alarms keyed by name.
type Scheduler struct {
	alarms  map[string]*alarm
	clock   clock.Clock
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	logger  zerolog.Logger
	mu      sync.Mutex
}

// New creates a new scheduler. A nil clock uses the wall clock.
func New(clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		alarms: make(map[string]*alarm),
		clock:  clk,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds an alarm. An alarm already registered under name is
// stopped and replaced, so registering twice leaves one alarm.
func (s *Scheduler) Register(name string, schedule Schedule, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.alarms[name]; ok {
		s.stopAlarm(old)
		s.logger.Debug().Str("alarm", name).Msg("Replacing alarm")
	}

	a := &alarm{name: name, schedule: schedule, fn: fn}
	s.alarms[name] = a
	if s.started {
		s.startAlarm(a)
	}
}

// Remove stops and forgets the alarm registered under name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.alarms[name]; ok {
		s.stopAlarm(a)
		delete(s.alarms, name)
	}
}

// Names returns the registered alarm names in order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.alarms))
	for name := range s.alarms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running every registered alarm.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, a := range s.alarms {
		s.startAlarm(a)
	}
	s.logger.Info().Int("alarms", len(s.alarms)).Msg("Scheduler started")
}

// Stop halts every alarm and waits for running callbacks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	for _, a := range s.alarms {
		s.stopAlarm(a)
	}
	s.cancel()
	s.started = false
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) startAlarm(a *alarm) {
	ctx, cancel := context.WithCancel(s.ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go s.run(ctx, a)
}

func (s *Scheduler) stopAlarm(a *alarm) {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil
}

// run is the alarm loop
func (s *Scheduler) run(ctx context.Context, a *alarm) {
	defer close(a.done)

	for {
		now := s.clock.Now()
		next := a.schedule.Next(now)
		wait := next.Sub(now)

		s.logger.Debug().
			Str("alarm", a.name).
			Time("next", next).
			Dur("wait", wait).
			Msg("Alarm scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			metrics.AlarmFirings.WithLabelValues(a.name).Inc()
			a.fn(ctx)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
