package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for WebDog.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	Patrol    PatrolConfig    `mapstructure:"patrol"    toml:"patrol"`
	Fetch     FetchConfig     `mapstructure:"fetch"     toml:"fetch"`
	Limits    LimitsConfig    `mapstructure:"limits"    toml:"limits"`
	Breaker   BreakerConfig   `mapstructure:"breaker"   toml:"breaker"`
	Store     StoreConfig     `mapstructure:"store"     toml:"store"`
	History   HistoryConfig   `mapstructure:"history"   toml:"history"`
	Defaults  MonitorDefaults `mapstructure:"defaults"  toml:"defaults"`
	Telegram  TelegramConfig  `mapstructure:"telegram"  toml:"telegram"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard"`
	Tracing   TracingConfig   `mapstructure:"tracing"   toml:"tracing"`
}

// ServerConfig holds the core daemon settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" toml:"log_level"`
	DataDir  string `mapstructure:"data_dir"  toml:"data_dir"`
}

// PatrolConfig controls the monitor walk loop.
type PatrolConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"        toml:"interval_seconds"`
	InitialDelaySeconds   int `mapstructure:"initial_delay_seconds"   toml:"initial_delay_seconds"`
	CleanupIntervalMins   int `mapstructure:"cleanup_interval_minutes" toml:"cleanup_interval_minutes"`
	ExportMaxAgeMins      int `mapstructure:"export_max_age_minutes"  toml:"export_max_age_minutes"`
	RateLimitStrikeNotice int `mapstructure:"rate_limit_strike_notice" toml:"rate_limit_strike_notice"`
}

// FetchConfig controls the request manager.
type FetchConfig struct {
	HardTimeoutSeconds int     `mapstructure:"hard_timeout_seconds" toml:"hard_timeout_seconds"`
	CacheTTLSeconds    int     `mapstructure:"cache_ttl_seconds"    toml:"cache_ttl_seconds"`
	JitterMinSeconds   float64 `mapstructure:"jitter_min_seconds"   toml:"jitter_min_seconds"`
	JitterMaxSeconds   float64 `mapstructure:"jitter_max_seconds"   toml:"jitter_max_seconds"`
	RobotsTimeoutSecs  int     `mapstructure:"robots_timeout_seconds" toml:"robots_timeout_seconds"`
	VerifyTLS          bool    `mapstructure:"verify_tls"           toml:"verify_tls"`
}

// HardTimeout returns the fetch ceiling as a time.Duration.
func (f FetchConfig) HardTimeout() time.Duration {
	if f.HardTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(f.HardTimeoutSeconds) * time.Second
}

// LimitsConfig controls the global token buckets.
type LimitsConfig struct {
	WebRate             float64 `mapstructure:"web_rate"             toml:"web_rate"`
	WebBurst            int     `mapstructure:"web_burst"            toml:"web_burst"`
	AlertRate           float64 `mapstructure:"alert_rate"           toml:"alert_rate"`
	AlertBurst          int     `mapstructure:"alert_burst"          toml:"alert_burst"`
	CongestionThreshold int     `mapstructure:"congestion_threshold" toml:"congestion_threshold"`
}

// BreakerConfig controls the per-host circuit breakers.
type BreakerConfig struct {
	FailureThreshold   int `mapstructure:"failure_threshold"        toml:"failure_threshold"`
	RecoveryTimeoutSec int `mapstructure:"recovery_timeout_seconds" toml:"recovery_timeout_seconds"`
}

// RecoveryTimeout returns the breaker cooldown as a time.Duration.
func (b BreakerConfig) RecoveryTimeout() time.Duration {
	if b.RecoveryTimeoutSec <= 0 {
		return time.Hour
	}
	return time.Duration(b.RecoveryTimeoutSec) * time.Second
}

// StoreConfig controls the persistence layer.
type StoreConfig struct {
	Path        string `mapstructure:"path"          toml:"path"`
	BackupCount int    `mapstructure:"backup_count"  toml:"backup_count"`
	MinFreeMB   int    `mapstructure:"min_free_mb"   toml:"min_free_mb"`
}

// HistoryConfig controls retention and exports.
type HistoryConfig struct {
	RetentionDays int    `mapstructure:"retention_days" toml:"retention_days"`
	ExportsDir    string `mapstructure:"exports_dir"    toml:"exports_dir"`
}

// MonitorDefaults holds the user-level monitor defaults applied to new users.
type MonitorDefaults struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" toml:"similarity_threshold"`
	CheckInterval       int     `mapstructure:"check_interval"       toml:"check_interval"`
	IncludeDiff         bool    `mapstructure:"include_diff"         toml:"include_diff"`
}

// TelegramConfig controls the bot surface.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"   toml:"enabled"`
	TokenRef string `mapstructure:"token_ref" toml:"token_ref"`
}

// DashboardConfig controls the health/status HTTP endpoint.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Host    string `mapstructure:"host"    toml:"host"`
	Port    int    `mapstructure:"port"    toml:"port"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "webdog"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (WEBDOG_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.webdog/webdog.toml
//  4. ./webdog.toml
//  5. Built-in defaults
//
// The loaded config is validated, clamped, and stored in the global atomic
// pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: WEBDOG_PATROL_INTERVAL_SECONDS etc.
	v.SetEnvPrefix("WEBDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The bare PORT variable is honored for the dashboard to keep parity
	// with container platforms that inject it.
	_ = v.BindEnv("dashboard.port", "PORT", "WEBDOG_DASHBOARD_PORT")
	_ = v.BindEnv("telegram.token_ref", "WEBDOG_TELEGRAM_TOKEN_REF")

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".webdog"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("webdog")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in path-like fields.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.History.ExportsDir = expandHome(cfg.History.ExportsDir)

	clampDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.webdog/webdog.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".webdog")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	clampDefaults(cfg)
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	// Persist to the active config file so changes survive restart.
	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)

	// Patrol
	v.SetDefault("patrol.interval_seconds", d.Patrol.IntervalSeconds)
	v.SetDefault("patrol.initial_delay_seconds", d.Patrol.InitialDelaySeconds)
	v.SetDefault("patrol.cleanup_interval_minutes", d.Patrol.CleanupIntervalMins)
	v.SetDefault("patrol.export_max_age_minutes", d.Patrol.ExportMaxAgeMins)
	v.SetDefault("patrol.rate_limit_strike_notice", d.Patrol.RateLimitStrikeNotice)

	// Fetch
	v.SetDefault("fetch.hard_timeout_seconds", d.Fetch.HardTimeoutSeconds)
	v.SetDefault("fetch.cache_ttl_seconds", d.Fetch.CacheTTLSeconds)
	v.SetDefault("fetch.jitter_min_seconds", d.Fetch.JitterMinSeconds)
	v.SetDefault("fetch.jitter_max_seconds", d.Fetch.JitterMaxSeconds)
	v.SetDefault("fetch.robots_timeout_seconds", d.Fetch.RobotsTimeoutSecs)
	v.SetDefault("fetch.verify_tls", d.Fetch.VerifyTLS)

	// Limits
	v.SetDefault("limits.web_rate", d.Limits.WebRate)
	v.SetDefault("limits.web_burst", d.Limits.WebBurst)
	v.SetDefault("limits.alert_rate", d.Limits.AlertRate)
	v.SetDefault("limits.alert_burst", d.Limits.AlertBurst)
	v.SetDefault("limits.congestion_threshold", d.Limits.CongestionThreshold)

	// Breaker
	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.recovery_timeout_seconds", d.Breaker.RecoveryTimeoutSec)

	// Store
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.backup_count", d.Store.BackupCount)
	v.SetDefault("store.min_free_mb", d.Store.MinFreeMB)

	// History
	v.SetDefault("history.retention_days", d.History.RetentionDays)
	v.SetDefault("history.exports_dir", d.History.ExportsDir)

	// Defaults
	v.SetDefault("defaults.similarity_threshold", d.Defaults.SimilarityThreshold)
	v.SetDefault("defaults.check_interval", d.Defaults.CheckInterval)
	v.SetDefault("defaults.include_diff", d.Defaults.IncludeDiff)

	// Telegram
	v.SetDefault("telegram.enabled", d.Telegram.Enabled)
	v.SetDefault("telegram.token_ref", d.Telegram.TokenRef)

	// Dashboard
	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.host", d.Dashboard.Host)
	v.SetDefault("dashboard.port", d.Dashboard.Port)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
