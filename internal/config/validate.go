package config

import (
	"fmt"
	"strings"
)

// clampDefaults normalizes the monitor defaults the same way user-level
// settings are normalized at load: check intervals below the floor are raised
// to it, and similarity thresholds outside (0, 1] are pulled into [0.01, 1.0].
func clampDefaults(cfg *Config) {
	if cfg.Defaults.CheckInterval < MinCheckInterval {
		cfg.Defaults.CheckInterval = MinCheckInterval
	}
	if cfg.Defaults.SimilarityThreshold <= 0 || cfg.Defaults.SimilarityThreshold > 1 {
		t := cfg.Defaults.SimilarityThreshold
		if t > 1 {
			t = 1.0
		}
		if t < 0.01 {
			t = 0.01
		}
		cfg.Defaults.SimilarityThreshold = t
	}
}

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}

	// Patrol validation
	if cfg.Patrol.IntervalSeconds < 1 {
		errs = append(errs, fmt.Sprintf("patrol.interval_seconds must be at least 1, got %d", cfg.Patrol.IntervalSeconds))
	}
	if cfg.Patrol.InitialDelaySeconds < 0 {
		errs = append(errs, fmt.Sprintf("patrol.initial_delay_seconds must be non-negative, got %d", cfg.Patrol.InitialDelaySeconds))
	}
	if cfg.Patrol.CleanupIntervalMins < 1 {
		errs = append(errs, fmt.Sprintf("patrol.cleanup_interval_minutes must be at least 1, got %d", cfg.Patrol.CleanupIntervalMins))
	}
	if cfg.Patrol.ExportMaxAgeMins < 1 {
		errs = append(errs, fmt.Sprintf("patrol.export_max_age_minutes must be at least 1, got %d", cfg.Patrol.ExportMaxAgeMins))
	}
	if cfg.Patrol.RateLimitStrikeNotice < 1 {
		errs = append(errs, fmt.Sprintf("patrol.rate_limit_strike_notice must be at least 1, got %d", cfg.Patrol.RateLimitStrikeNotice))
	}

	// Fetch validation
	if cfg.Fetch.HardTimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf("fetch.hard_timeout_seconds must be at least 1, got %d", cfg.Fetch.HardTimeoutSeconds))
	}
	if cfg.Fetch.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("fetch.cache_ttl_seconds must be non-negative, got %d", cfg.Fetch.CacheTTLSeconds))
	}
	if cfg.Fetch.JitterMinSeconds < 0 {
		errs = append(errs, fmt.Sprintf("fetch.jitter_min_seconds must be non-negative, got %f", cfg.Fetch.JitterMinSeconds))
	}
	if cfg.Fetch.JitterMaxSeconds < cfg.Fetch.JitterMinSeconds {
		errs = append(errs, fmt.Sprintf("fetch.jitter_max_seconds must be at least jitter_min_seconds, got %f < %f", cfg.Fetch.JitterMaxSeconds, cfg.Fetch.JitterMinSeconds))
	}
	if cfg.Fetch.RobotsTimeoutSecs < 1 {
		errs = append(errs, fmt.Sprintf("fetch.robots_timeout_seconds must be at least 1, got %d", cfg.Fetch.RobotsTimeoutSecs))
	}

	// Limits validation
	if cfg.Limits.WebRate <= 0 {
		errs = append(errs, fmt.Sprintf("limits.web_rate must be positive, got %f", cfg.Limits.WebRate))
	}
	if cfg.Limits.WebBurst < 1 {
		errs = append(errs, fmt.Sprintf("limits.web_burst must be at least 1, got %d", cfg.Limits.WebBurst))
	}
	if cfg.Limits.AlertRate <= 0 {
		errs = append(errs, fmt.Sprintf("limits.alert_rate must be positive, got %f", cfg.Limits.AlertRate))
	}
	if cfg.Limits.AlertBurst < 1 {
		errs = append(errs, fmt.Sprintf("limits.alert_burst must be at least 1, got %d", cfg.Limits.AlertBurst))
	}
	if cfg.Limits.CongestionThreshold < 1 {
		errs = append(errs, fmt.Sprintf("limits.congestion_threshold must be at least 1, got %d", cfg.Limits.CongestionThreshold))
	}

	// Breaker validation
	if cfg.Breaker.FailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("breaker.failure_threshold must be at least 1, got %d", cfg.Breaker.FailureThreshold))
	}
	if cfg.Breaker.RecoveryTimeoutSec <= 0 {
		errs = append(errs, fmt.Sprintf("breaker.recovery_timeout_seconds must be positive, got %d", cfg.Breaker.RecoveryTimeoutSec))
	}

	// Store validation
	if cfg.Store.Path == "" {
		errs = append(errs, "store.path must not be empty")
	}
	if cfg.Store.BackupCount < 0 {
		errs = append(errs, fmt.Sprintf("store.backup_count must be non-negative, got %d", cfg.Store.BackupCount))
	}
	if cfg.Store.MinFreeMB < 0 {
		errs = append(errs, fmt.Sprintf("store.min_free_mb must be non-negative, got %d", cfg.Store.MinFreeMB))
	}

	// History validation
	if cfg.History.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("history.retention_days must be at least 1, got %d", cfg.History.RetentionDays))
	}
	if cfg.History.ExportsDir == "" {
		errs = append(errs, "history.exports_dir must not be empty")
	}

	// Telegram validation
	if cfg.Telegram.Enabled && cfg.Telegram.TokenRef == "" {
		errs = append(errs, "telegram.token_ref must be set when telegram.enabled is true")
	}

	// Dashboard validation
	if cfg.Dashboard.Enabled {
		if cfg.Dashboard.Port < 1 || cfg.Dashboard.Port > 65535 {
			errs = append(errs, fmt.Sprintf("dashboard.port must be between 1 and 65535, got %d", cfg.Dashboard.Port))
		}
		if cfg.Dashboard.Host == "" {
			errs = append(errs, "dashboard.host must not be empty when dashboard.enabled is true")
		}
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
