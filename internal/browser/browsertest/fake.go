// Package browsertest provides an in-memory browser.TabHost and
// browser.Notifier for tests.
package browsertest

import (
	"context"
	"sync"

	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/browser"
)

// Push records one message sent to a tab.
type Push struct {
	TabID int
	Type  string
	Data  browser.TimeData
	Page  blockpage.Page
}

// Host is a fake TabHost. Tabs listed in Deaf accept no messages and
// return browser.ErrNoListener.
type Host struct {
	mu            sync.Mutex
	tabs          []browser.Tab
	Deaf          map[int]bool
	Pushes        []Push
	Notifications []browser.Notification
}

// NewHost creates a host with the given open tabs.
func NewHost(tabs ...browser.Tab) *Host {
	return &Host{tabs: tabs, Deaf: map[int]bool{}}
}

// SetTabs replaces the open tabs.
func (h *Host) SetTabs(tabs ...browser.Tab) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs = tabs
}

func (h *Host) Tabs(ctx context.Context) ([]browser.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]browser.Tab(nil), h.tabs...), nil
}

func (h *Host) record(p Push) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Deaf[p.TabID] {
		return browser.ErrNoListener
	}
	h.Pushes = append(h.Pushes, p)
	return nil
}

func (h *Host) SendTimeUpdate(ctx context.Context, tabID int, data browser.TimeData) error {
	return h.record(Push{TabID: tabID, Type: "timeUpdate", Data: data})
}

func (h *Host) SendLimitAdded(ctx context.Context, tabID int, data browser.TimeData) error {
	return h.record(Push{TabID: tabID, Type: "limitAdded", Data: data})
}

func (h *Host) ReplaceContent(ctx context.Context, tabID int, page blockpage.Page) error {
	return h.record(Push{TabID: tabID, Type: "replaceContent", Page: page})
}

func (h *Host) Notify(ctx context.Context, n browser.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Notifications = append(h.Notifications, n)
	return nil
}

// Count returns how many pushes of type typ were recorded, optionally
// restricted to one tab (tabID < 0 means any tab).
func (h *Host) Count(typ string, tabID int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, p := range h.Pushes {
		if p.Type == typ && (tabID < 0 || p.TabID == tabID) {
			n++
		}
	}
	return n
}

// NotificationCount returns how many notifications were raised.
func (h *Host) NotificationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Notifications)
}

// Last returns the last push of type typ.
func (h *Host) Last(typ string) (Push, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.Pushes) - 1; i >= 0; i-- {
		if h.Pushes[i].Type == typ {
			return h.Pushes[i], true
		}
	}
	return Push{}, false
}

// Reset forgets recorded pushes and notifications.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Pushes = nil
	h.Notifications = nil
}
