package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
}

// ServerConfig defines listener addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	BridgePort     int      `mapstructure:"bridge_port"`     // WebSocket bridge and settings API
	MetricsPort    int      `mapstructure:"metrics_port"`    // 0 disables the metrics server
	AllowedOrigins []string `mapstructure:"allowed_origins"` // WebSocket origin patterns
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "redis", "sqlite" or "memory"
	Path  string      `mapstructure:"path"` // sqlite database file
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines session tracking and scheduling
type TrackingConfig struct {
	TickInterval      string `mapstructure:"tick_interval"`       // checkTimeLimit alarm period
	FastTick          string `mapstructure:"fast_tick"`           // updateSeconds alarm period, "0" disables
	DailyResetTime    string `mapstructure:"daily_reset_time"`    // HH:MM local time
	HostnameCacheSize int    `mapstructure:"hostname_cache_size"` // URL to hostname LRU size
}

// Load loads configuration from file and environment variables. A .env
// file in the working directory is loaded first, if present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("MINDFUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.bridge_port", 7345)
	v.SetDefault("server.metrics_port", 9345)
	v.SetDefault("server.allowed_origins", []string{"chrome-extension://*", "moz-extension://*"})

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "mindful")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "1m")
	v.SetDefault("tracking.fast_tick", "2s")
	v.SetDefault("tracking.daily_reset_time", "00:00")
	v.SetDefault("tracking.hostname_cache_size", 512)
}

// Defaults returns the configuration produced by defaults alone, without
// reading a file or the environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Keys returns every configuration key mindful understands.
func Keys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := map[string]bool{
		// No default, so viper does not list it
		"storage.redis.password": true,
	}
	for _, k := range v.AllKeys() {
		keys[k] = true
	}
	return keys
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "mindful.db")
	}
	return filepath.Join(dir, "mindful", "mindful.db")
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	if cfg.Server.BridgePort <= 0 || cfg.Server.BridgePort > 65535 {
		return fmt.Errorf("invalid bridge port: %d", cfg.Server.BridgePort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "sqlite"
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s (must be redis, sqlite or memory)", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "sqlite" {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for sqlite")
		}
		// Ensure storage directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	if cfg.Storage.Type == "redis" && cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("storage.redis.host is required")
	}

	tick, err := time.ParseDuration(cfg.Tracking.TickInterval)
	if err != nil {
		return fmt.Errorf("invalid tracking.tick_interval: %w", err)
	}
	if tick <= 0 {
		return fmt.Errorf("tracking.tick_interval must be positive")
	}

	if cfg.Tracking.FastTick != "" {
		fast, err := time.ParseDuration(cfg.Tracking.FastTick)
		if err != nil {
			return fmt.Errorf("invalid tracking.fast_tick: %w", err)
		}
		if fast < 0 {
			return fmt.Errorf("tracking.fast_tick must not be negative")
		}
	}

	if _, err := time.Parse("15:04", cfg.Tracking.DailyResetTime); err != nil {
		return fmt.Errorf("invalid tracking.daily_reset_time %q (want HH:MM): %w", cfg.Tracking.DailyResetTime, err)
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
