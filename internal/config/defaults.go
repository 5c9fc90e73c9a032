package config

// DefaultBindAddress is the default dashboard bind address. The dashboard
// has no authentication, so it binds to loopback unless configured otherwise.
const DefaultBindAddress = "127.0.0.1"

// DefaultDashboardPort is the default port for the dashboard server.
const DefaultDashboardPort = 8866

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.webdog"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "webdog.toml"

// DefaultSimilarityThreshold is the default alert threshold for new users.
const DefaultSimilarityThreshold = 0.85

// DefaultCheckInterval is the default per-monitor check interval in seconds.
const DefaultCheckInterval = 60

// MinCheckInterval is the floor for per-monitor check intervals in seconds.
const MinCheckInterval = 30

// DefaultPatrolInterval is the default patrol loop period in seconds.
const DefaultPatrolInterval = 60

// DefaultInitialDelay is the default startup delay before the first patrol in seconds.
const DefaultInitialDelay = 10

// DefaultCleanupIntervalMins is the default housekeeping period in minutes.
const DefaultCleanupIntervalMins = 60

// DefaultExportMaxAgeMins is the default age after which export files are removed, in minutes.
const DefaultExportMaxAgeMins = 60

// DefaultRateLimitStrikeNotice is the number of consecutive 429 responses before the user is notified.
const DefaultRateLimitStrikeNotice = 3

// DefaultHardTimeoutSeconds is the default upper bound on a single fetch in seconds.
const DefaultHardTimeoutSeconds = 15

// DefaultCacheTTLSeconds is the default fetch response cache TTL in seconds.
const DefaultCacheTTLSeconds = 30

// DefaultJitterMinSeconds is the default minimum pre-request delay in seconds.
const DefaultJitterMinSeconds = 1.0

// DefaultJitterMaxSeconds is the default maximum pre-request delay in seconds.
const DefaultJitterMaxSeconds = 5.0

// DefaultRobotsTimeoutSecs is the default timeout for robots.txt retrieval in seconds.
const DefaultRobotsTimeoutSecs = 5

// DefaultWebRate is the default global outbound request rate in requests per second.
const DefaultWebRate = 5.0

// DefaultWebBurst is the default outbound request bucket capacity.
const DefaultWebBurst = 5

// DefaultAlertRate is the default alert delivery rate in messages per second.
const DefaultAlertRate = 25.0

// DefaultAlertBurst is the default alert bucket capacity.
const DefaultAlertBurst = 25

// DefaultCongestionThreshold is the queued-alert depth above which the system reports congestion.
const DefaultCongestionThreshold = 50

// DefaultFailureThreshold is the default number of consecutive fetch failures before a host's circuit opens.
const DefaultFailureThreshold = 3

// DefaultRecoveryTimeoutSec is the default circuit breaker cooldown in seconds.
const DefaultRecoveryTimeoutSec = 3600

// DefaultStorePath is the default database file path (before tilde expansion).
const DefaultStorePath = "~/.webdog/db.json"

// DefaultBackupCount is the default number of rolling database backups to keep.
const DefaultBackupCount = 5

// DefaultMinFreeMB is the default minimum free disk space in MB required for writes.
const DefaultMinFreeMB = 10

// DefaultRetentionDays is the default history retention in days.
const DefaultRetentionDays = 30

// DefaultExportsDir is the default directory for history exports (before tilde expansion).
const DefaultExportsDir = "~/.webdog/exports"

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "stdout"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "webdog"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed tracing exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: DefaultLogLevel,
			DataDir:  DefaultDataDir,
		},
		Patrol: PatrolConfig{
			IntervalSeconds:       DefaultPatrolInterval,
			InitialDelaySeconds:   DefaultInitialDelay,
			CleanupIntervalMins:   DefaultCleanupIntervalMins,
			ExportMaxAgeMins:      DefaultExportMaxAgeMins,
			RateLimitStrikeNotice: DefaultRateLimitStrikeNotice,
		},
		Fetch: FetchConfig{
			HardTimeoutSeconds: DefaultHardTimeoutSeconds,
			CacheTTLSeconds:    DefaultCacheTTLSeconds,
			JitterMinSeconds:   DefaultJitterMinSeconds,
			JitterMaxSeconds:   DefaultJitterMaxSeconds,
			RobotsTimeoutSecs:  DefaultRobotsTimeoutSecs,
			VerifyTLS:          true,
		},
		Limits: LimitsConfig{
			WebRate:             DefaultWebRate,
			WebBurst:            DefaultWebBurst,
			AlertRate:           DefaultAlertRate,
			AlertBurst:          DefaultAlertBurst,
			CongestionThreshold: DefaultCongestionThreshold,
		},
		Breaker: BreakerConfig{
			FailureThreshold:   DefaultFailureThreshold,
			RecoveryTimeoutSec: DefaultRecoveryTimeoutSec,
		},
		Store: StoreConfig{
			Path:        DefaultStorePath,
			BackupCount: DefaultBackupCount,
			MinFreeMB:   DefaultMinFreeMB,
		},
		History: HistoryConfig{
			RetentionDays: DefaultRetentionDays,
			ExportsDir:    DefaultExportsDir,
		},
		Defaults: MonitorDefaults{
			SimilarityThreshold: DefaultSimilarityThreshold,
			CheckInterval:       DefaultCheckInterval,
			IncludeDiff:         true,
		},
		Telegram: TelegramConfig{
			Enabled:  true,
			TokenRef: "keyring://webdog/telegram",
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    DefaultBindAddress,
			Port:    DefaultDashboardPort,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
	}
}
