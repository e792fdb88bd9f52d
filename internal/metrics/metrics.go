package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	FocusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindful_focus_changes_total",
			Help: "Total focus change events received",
		},
		[]string{"result"}, // "tracked", "ignored"
	)

	Flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindful_flushes_total",
			Help: "Total session flushes",
		},
		[]string{"result"}, // "written", "untracked", "error"
	)

	MinutesTracked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindful_minutes_tracked_total",
			Help: "Total minutes accumulated against site limits",
		},
		[]string{"site"},
	)

	ActiveSession = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mindful_active_session",
			Help: "1 while a web page has focus",
		},
	)

	// Enforcement metrics
	ThresholdCrossings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindful_threshold_crossings_total",
			Help: "Times a site's daily budget was used up",
		},
		[]string{"site"},
	)

	PagesBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindful_pages_blocked_total",
			Help: "Total page replacements requested",
		},
		[]string{"site", "trigger"}, // trigger: "focus", "flush"
	)

	// Scheduler metrics
	AlarmFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindful_alarm_firings_total",
			Help: "Total scheduler alarm firings",
		},
		[]string{"alarm"},
	)

	DailyResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mindful_daily_resets_total",
			Help: "Total daily counter resets performed",
		},
	)

	// Bridge metrics
	BridgeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mindful_bridge_connections",
			Help: "Number of connected extension clients",
		},
	)

	BridgeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindful_bridge_messages_total",
			Help: "Messages exchanged with extension clients",
		},
		[]string{"direction", "type"},
	)

	BridgeDeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mindful_bridge_delivery_failures_total",
			Help: "Push messages that could not be delivered to a tab",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		FocusChanges,
		Flushes,
		MinutesTracked,
		ActiveSession,
		ThresholdCrossings,
		PagesBlocked,
		AlarmFirings,
		DailyResets,
		BridgeConnections,
		BridgeMessages,
		BridgeDeliveryFailures,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
