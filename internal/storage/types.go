package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// DateStampLayout formats LimitRecord.LastReset. It produces the same
// text as JavaScript's Date.toDateString ("Sun Oct 18 2026").
const DateStampLayout = "Mon Jan 02 2006"

// LimitRecord is the per-site budget state.
type LimitRecord struct {
	Limit          float64 `json:"limit"`          // minutes allowed per day
	TimeSpent      float64 `json:"timeSpent"`      // minutes used today
	LastReset      string  `json:"lastReset"`      // DateStamp of the last rollover
	LastUpdateTime int64   `json:"lastUpdateTime"` // unix millis of the last accumulation
}

// Exceeded reports whether the daily budget is used up.
func (r LimitRecord) Exceeded() bool {
	return r.TimeSpent >= r.Limit
}

// Remaining returns the minutes left today, never negative.
func (r LimitRecord) Remaining() float64 {
	return math.Max(0, r.Limit-r.TimeSpent)
}

// LastUpdate returns LastUpdateTime as a time, or the zero time.
func (r LimitRecord) LastUpdate() time.Time {
	if r.LastUpdateTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.LastUpdateTime)
}

// Limits maps a normalized hostname to its record.
type Limits map[string]LimitRecord

// Clone returns a copy that can be mutated without affecting l.
func (l Limits) Clone() Limits {
	out := make(Limits, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// ErrInvalidQuote is returned for quotes without text.
var ErrInvalidQuote = errors.New("quote text is required")

// Quote is shown on the block page.
type Quote struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

// Validate checks that the quote has text.
func (q Quote) Validate() error {
	if q.Text == "" {
		return ErrInvalidQuote
	}
	return nil
}

// DateStamp formats t for LimitRecord.LastReset.
func DateStamp(t time.Time) string {
	return t.Format(DateStampLayout)
}

// TruncateMinutes truncates minutes to one decimal place. Stored values
// keep full precision; this is for display only, so short flushes are
// never lost to rounding.
func TruncateMinutes(minutes float64) float64 {
	return math.Floor(minutes*10) / 10
}

// FormatMinutes renders minutes the way the overlay banner does ("4.9").
func FormatMinutes(minutes float64) string {
	return fmt.Sprintf("%.1f", TruncateMinutes(minutes))
}

// DefaultQuotes seeds the quotes record when none has been configured.
func DefaultQuotes() []Quote {
	return []Quote{
		{Text: "The only way to do great work is to love what you do.", Author: "Steve Jobs"},
		{Text: "Time you enjoy wasting is not wasted time.", Author: "Marthe Troly-Curtin"},
		{Text: "Life is what happens while you're busy making other plans.", Author: "John Lennon"},
		{Text: "The future depends on what you do today.", Author: "Mahatma Gandhi"},
		{Text: "Time is the most valuable thing a man can spend.", Author: "Theophrastus"},
	}
}

// MarshalLimits encodes limits for backends that store the record as a
// single document.
func MarshalLimits(limits Limits) ([]byte, error) {
	if limits == nil {
		limits = Limits{}
	}
	return json.Marshal(limits)
}

// UnmarshalLimits decodes a limits document. Empty input yields an empty
// map.
func UnmarshalLimits(data []byte) (Limits, error) {
	limits := Limits{}
	if len(data) == 0 {
		return limits, nil
	}
	if err := json.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("failed to decode limits: %w", err)
	}
	return limits, nil
}

// MarshalQuotes encodes the quotes record.
func MarshalQuotes(quotes []Quote) ([]byte, error) {
	if quotes == nil {
		quotes = []Quote{}
	}
	return json.Marshal(quotes)
}

// UnmarshalQuotes decodes the quotes record.
func UnmarshalQuotes(data []byte) ([]Quote, error) {
	var quotes []Quote
	if err := json.Unmarshal(data, &quotes); err != nil {
		return nil, fmt.Errorf("failed to decode quotes: %w", err)
	}
	return quotes, nil
}
