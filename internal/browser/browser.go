// Package browser describes the browser-side collaborators the daemon
// drives: open tabs that receive pushed updates and page replacements,
// and the user-facing notification surface.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/storage"
)

// ErrNoListener is returned when a tab has nobody to receive a message.
// It is an expected condition, not a fault.
var ErrNoListener = errors.New("browser: no listener for tab")

// Tab is an open browser tab. Hostname is the normalized hostname, empty
// for pages that are not http(s).
type Tab struct {
	ID       int    `json:"tabId"`
	URL      string `json:"url"`
	Hostname string `json:"hostname,omitempty"`
}

// TimeData is the payload of getTime responses and timeUpdate pushes.
type TimeData struct {
	TimeSpent      float64 `json:"timeSpent"`
	Limit          float64 `json:"limit"`
	LastUpdateTime int64   `json:"lastUpdateTime"`
}

// TimeDataFor builds TimeData from a record. A record that was never
// written reports now as its last update, so the overlay has something to
// extrapolate from.
func TimeDataFor(r storage.LimitRecord, now time.Time) TimeData {
	last := r.LastUpdateTime
	if last == 0 {
		last = now.UnixMilli()
	}
	return TimeData{TimeSpent: r.TimeSpent, Limit: r.Limit, LastUpdateTime: last}
}

// Notification is a user-facing alert. Site, when set, is the hostname the
// alert is about and picks the browser that raises it.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Site    string `json:"site,omitempty"`
}

// TabHost is the set of open tabs.
type TabHost interface {
	Tabs(ctx context.Context) ([]Tab, error)
	SendTimeUpdate(ctx context.Context, tabID int, data TimeData) error
	SendLimitAdded(ctx context.Context, tabID int, data TimeData) error
	ReplaceContent(ctx context.Context, tabID int, page blockpage.Page) error
}

// Notifier raises user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TabsFor returns the tabs whose normalized hostname equals hostname.
func TabsFor(tabs []Tab, hostname string) []Tab {
	var out []Tab
	for _, tab := range tabs {
		if tab.Hostname != "" && tab.Hostname == hostname {
			out = append(out, tab)
		}
	}
	return out
}
