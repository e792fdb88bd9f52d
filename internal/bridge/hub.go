// Package bridge connects the daemon to the browser extension over a
// WebSocket. The extension reports its tabs and focus changes; the daemon
// pushes time updates, page replacements and notifications back.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/browser"
	"github.com/goodtune/mindful/internal/metrics"
	"github.com/goodtune/mindful/internal/site"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 1 << 20
)

// Handler receives browser events from the hub.
type Handler interface {
	OnFocusChange(ctx context.Context, rawURL string, tabID int)
	OnTabClosed(ctx context.Context, tabID int)
	TimeFor(ctx context.Context, rawURL string) (*browser.TimeData, error)
}

type client struct {
	id   string
	conn *websocket.Conn
}

type tabEntry struct {
	tab      browser.Tab
	clientID string
}

// Hub tracks connected extension clients and the tabs they report. It
// implements browser.TabHost and browser.Notifier.
//
// Tab IDs are only unique within one browser profile, so a later report
// of a tab ID moves it to the reporting client.
type Hub struct {
	handler  Handler
	resolver *site.Resolver
	origins  []string
	clients  map[string]*client
	tabs     map[int]tabEntry
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewHub creates a new hub. A nil resolver looks up every URL uncached.
// origins are path.Match patterns checked
// against the Origin header; requests without one are accepted.
func NewHub(resolver *site.Resolver, origins []string, logger zerolog.Logger) *Hub {
	return &Hub{
		resolver: resolver,
		origins:  origins,
		clients:  make(map[string]*client),
		tabs:     make(map[int]tabEntry),
		logger:   logger.With().Str("component", "bridge").Logger(),
	}
}

// SetHandler sets the receiver of browser events. It must be called
// before the hub serves connections.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// ServeHTTP upgrades the request and serves the connection until it
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was checked above against the configured patterns
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to accept WebSocket")
		return
	}
	conn.SetReadLimit(readLimit)

	c := &client{id: uuid.NewString(), conn: conn}
	h.register(c)
	defer func() {
		h.unregister(r.Context(), c)
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			h.logger.Debug().Err(err).Str("client_id", c.id).Msg("Failed to close WebSocket")
		}
	}()

	h.logger.Info().
		Str("client_id", c.id).
		Str("origin", r.Header.Get("Origin")).
		Msg("Extension connected")

	h.readLoop(r.Context(), c)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pattern := range h.origins {
		if ok, err := path.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Strs("allowed", h.origins).Msg("WebSocket origin rejected")
	return false
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.BridgeConnections.Inc()
}

// unregister drops the client and ends sessions on the tabs it owned.
func (h *Hub) unregister(ctx context.Context, c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	var closed []int
	for id, entry := range h.tabs {
		if entry.clientID == c.id {
			closed = append(closed, id)
			delete(h.tabs, id)
		}
	}
	h.mu.Unlock()
	metrics.BridgeConnections.Dec()

	h.logger.Info().Str("client_id", c.id).Int("tabs", len(closed)).Msg("Extension disconnected")

	ctx = context.WithoutCancel(ctx)
	for _, id := range closed {
		h.handler.OnTabClosed(ctx, id)
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug().Str("client_id", c.id).Msg("WebSocket closed by client")
			} else if ctx.Err() == nil {
				h.logger.Warn().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn().Err(err).Str("client_id", c.id).Msg("Ignoring malformed message")
			continue
		}
		metrics.BridgeMessages.WithLabelValues("in", msg.Type).Inc()
		h.dispatch(ctx, c, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, msg inbound) {
	switch msg.Type {
	case TypeTabsSnapshot:
		h.replaceTabs(c, msg.Tabs)
	case TypeTabActivated, TypeTabUpdated:
		h.upsertTab(c, msg.TabID, msg.URL)
		h.handler.OnFocusChange(ctx, msg.URL, msg.TabID)
	case TypeTabRemoved:
		h.mu.Lock()
		delete(h.tabs, msg.TabID)
		h.mu.Unlock()
		h.handler.OnTabClosed(ctx, msg.TabID)
	case TypeGetTime:
		h.answerGetTime(ctx, c, msg)
	default:
		h.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
	}
}

func (h *Hub) answerGetTime(ctx context.Context, c *client, msg inbound) {
	rawURL := msg.URL
	if rawURL == "" {
		h.mu.RLock()
		rawURL = h.tabs[msg.TabID].tab.URL
		h.mu.RUnlock()
	}

	var data *browser.TimeData
	if rawURL != "" {
		var err error
		data, err = h.handler.TimeFor(ctx, rawURL)
		if err != nil {
			h.logger.Error().Err(err).Int("tab_id", msg.TabID).Msg("Failed to look up time")
			data = nil
		}
	}

	reply := timeResultMessage{Type: TypeGetTimeResult, RequestID: msg.RequestID, Data: data}
	if reply.RequestID == nil {
		reply.RequestID = json.RawMessage("null")
	}
	if err := h.write(ctx, c, TypeGetTimeResult, reply); err != nil {
		h.logger.Debug().Err(err).Str("client_id", c.id).Msg("Failed to answer getTime")
	}
}

func (h *Hub) hostname(rawURL string) string {
	resolve := site.Hostname
	if h.resolver != nil {
		resolve = h.resolver.Hostname
	}
	hostname, err := resolve(rawURL)
	if err != nil {
		return ""
	}
	return hostname
}

func (h *Hub) replaceTabs(c *client, tabs []browser.Tab) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, entry := range h.tabs {
		if entry.clientID == c.id {
			delete(h.tabs, id)
		}
	}
	for _, tab := range tabs {
		tab.Hostname = h.hostname(tab.URL)
		h.tabs[tab.ID] = tabEntry{tab: tab, clientID: c.id}
	}
	h.logger.Debug().Str("client_id", c.id).Int("tabs", len(tabs)).Msg("Tab snapshot received")
}

func (h *Hub) upsertTab(c *client, tabID int, rawURL string) {
	tab := browser.Tab{ID: tabID, URL: rawURL, Hostname: h.hostname(rawURL)}
	h.mu.Lock()
	h.tabs[tabID] = tabEntry{tab: tab, clientID: c.id}
	h.mu.Unlock()
}

// Tabs returns the open tabs ordered by ID.
func (h *Hub) Tabs(ctx context.Context) ([]browser.Tab, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tabs := make([]browser.Tab, 0, len(h.tabs))
	for _, entry := range h.tabs {
		tabs = append(tabs, entry.tab)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, nil
}

// SendTimeUpdate pushes the latest totals to a tab's overlay.
func (h *Hub) SendTimeUpdate(ctx context.Context, tabID int, data browser.TimeData) error {
	return h.sendToTab(ctx, tabID, TypeTimeUpdate, timeMessage{Type: TypeTimeUpdate, TabID: tabID, TimeData: data})
}

// SendLimitAdded tells a tab's overlay that its site just got a limit.
func (h *Hub) SendLimitAdded(ctx context.Context, tabID int, data browser.TimeData) error {
	return h.sendToTab(ctx, tabID, TypeLimitAdded, timeMessage{Type: TypeLimitAdded, TabID: tabID, TimeData: data})
}

// ReplaceContent swaps a tab's page for the block page.
func (h *Hub) ReplaceContent(ctx context.Context, tabID int, page blockpage.Page) error {
	return h.sendToTab(ctx, tabID, TypeReplaceContent, replaceMessage{Type: TypeReplaceContent, TabID: tabID, Page: page})
}

// Notify raises a notification once. The client owning a tab of n.Site is
// preferred; any other client is the fallback when none can take it.
func (h *Hub) Notify(ctx context.Context, n browser.Notification) error {
	msg := notificationMessage{Type: TypeNotification, Notification: n}
	for _, c := range h.notifyCandidates(n.Site) {
		if err := h.write(ctx, c, TypeNotification, msg); err != nil {
			h.logger.Debug().Err(err).Str("client_id", c.id).Msg("Failed to deliver notification")
			continue
		}
		return nil
	}
	return browser.ErrNoListener
}

// notifyCandidates orders clients for a notification about hostname:
// owners of a matching tab first, then the rest, each group by ID.
func (h *Hub) notifyCandidates(hostname string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	owners := make(map[string]bool)
	if hostname != "" {
		for _, entry := range h.tabs {
			if entry.tab.Hostname == hostname {
				owners[entry.clientID] = true
			}
		}
	}

	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		a, b := clients[i], clients[j]
		if owners[a.id] != owners[b.id] {
			return owners[a.id]
		}
		return a.id < b.id
	})
	return clients
}

func (h *Hub) sendToTab(ctx context.Context, tabID int, typ string, v any) error {
	h.mu.RLock()
	entry, ok := h.tabs[tabID]
	var c *client
	if ok {
		c = h.clients[entry.clientID]
	}
	h.mu.RUnlock()

	if c == nil {
		return browser.ErrNoListener
	}
	if err := h.write(ctx, c, typ, v); err != nil {
		return fmt.Errorf("failed to send %s to tab %d: %w", typ, tabID, err)
	}
	return nil
}

func (h *Hub) write(ctx context.Context, c *client, typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		metrics.BridgeDeliveryFailures.Inc()
		return err
	}
	metrics.BridgeMessages.WithLabelValues("out", typ).Inc()
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
