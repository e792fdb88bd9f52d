package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/mindful/internal/api"
	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/bridge"
	"github.com/goodtune/mindful/internal/cache"
	"github.com/goodtune/mindful/internal/config"
	"github.com/goodtune/mindful/internal/enforce"
	"github.com/goodtune/mindful/internal/metrics"
	"github.com/goodtune/mindful/internal/scheduler"
	"github.com/goodtune/mindful/internal/settings"
	"github.com/goodtune/mindful/internal/site"
	"github.com/goodtune/mindful/internal/storage/sqlite"
	"github.com/goodtune/mindful/internal/systemd"
	"github.com/goodtune/mindful/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// sqlitePollInterval bounds how long a CLI edit takes to reach a daemon
// using the sqlite backend.
const sqlitePollInterval = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mindful daemon",
	Long:  `Start the daemon: the extension WebSocket bridge, the settings API, the tracking alarms and the metrics endpoint.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting mindful")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	if db, ok := store.(*sqlite.Store); ok {
		go db.PollChanges(ctx, sqlitePollInterval, logger)
	}

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	// Limit cache follows committed writes
	limitCache := cache.New(store.Limits(), logger)
	if err := limitCache.Load(ctx); err != nil {
		return err
	}
	unwatch := limitCache.Watch(store)
	defer unwatch()

	resolver, err := site.NewResolver(cfg.Tracking.HostnameCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create hostname cache: %w", err)
	}

	// Core: bridge hub, enforcement, tracker
	hub := bridge.NewHub(resolver, cfg.Server.AllowedOrigins, logger)
	engine := enforce.NewEngine(limitCache, hub, hub, blockpage.NewRenderer(store.Quotes()), logger)
	sessionTracker := tracker.NewTracker(store.Limits(), engine, hub, tracker.Config{Resolver: resolver}, logger)
	hub.SetHandler(sessionTracker)

	// Catch up on rollovers missed while the daemon was down
	if err := sessionTracker.ResetStale(ctx); err != nil {
		logger.Warn().Err(err).Msg("Startup reset failed")
	}

	svc := settings.NewService(store.Limits(), sessionTracker, store.Quotes(), hub, nil, logger)

	// Initialize API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.BridgePort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:     apiAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, svc, sessionTracker, hub, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Bridge != nil {
		apiServer.SetListener(sdListeners.Bridge)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Alarms
	alarms := scheduler.New(nil, logger)
	if err := registerAlarms(alarms, cfg.Tracking, sessionTracker, logger); err != nil {
		return err
	}
	alarms.Start(ctx)

	logger.Info().Msg("mindful startup complete")
	logger.Info().Msgf("Bridge: ws://%s/ws", apiAddr)
	logger.Info().Msgf("Settings API: http://%s/api", apiAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}
	go func() {
		if err := systemd.RunWatchdog(ctx); err != nil {
			logger.Warn().Err(err).Msg("systemd watchdog stopped")
		}
	}()

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading limits and alarms...")
		if err := limitCache.Load(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to reload limits")
		}
		if reloaded, err := config.Load(configPath); err != nil {
			logger.Error().Err(err).Msg("Failed to reload configuration")
		} else if err := registerAlarms(alarms, reloaded.Tracking, sessionTracker, logger); err != nil {
			logger.Error().Err(err).Msg("Failed to re-register alarms")
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	alarms.Stop()

	// Charge the open session up to now before going away
	sessionTracker.OnTick(ctx)

	hub.Close()
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("mindful stopped")
	return nil
}

// registerAlarms installs the tracking alarms. Registration replaces
// alarms of the same name, so it is safe to call again on reload.
func registerAlarms(s *scheduler.Scheduler, cfg config.TrackingConfig, t *tracker.Tracker, logger zerolog.Logger) error {
	tick := config.ParseDuration(cfg.TickInterval, time.Minute)
	s.Register(scheduler.CheckTimeLimit, scheduler.Every(tick), t.OnTick)

	if fast := config.ParseDuration(cfg.FastTick, 0); fast > 0 {
		s.Register(scheduler.UpdateSeconds, scheduler.Every(fast), t.OnTick)
	} else {
		s.Remove(scheduler.UpdateSeconds)
	}

	daily, err := scheduler.DailyAt(cfg.DailyResetTime)
	if err != nil {
		return fmt.Errorf("invalid daily reset time: %w", err)
	}
	s.Register(scheduler.ResetDaily, daily, func(ctx context.Context) {
		if err := t.ResetDaily(ctx); err != nil {
			logger.Error().Err(err).Msg("Daily reset failed")
		}
	})

	logger.Info().
		Dur("tick", tick).
		Str("fast_tick", cfg.FastTick).
		Str("daily_reset", daily.String()).
		Msg("Alarms registered")
	return nil
}
