package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/alert"
	"github.com/allaspectsdev/webdog/internal/bot"
	"github.com/allaspectsdev/webdog/internal/config"
	"github.com/allaspectsdev/webdog/internal/diffdetect"
	"github.com/allaspectsdev/webdog/internal/fetch"
	"github.com/allaspectsdev/webdog/internal/fingerprint"
	"github.com/allaspectsdev/webdog/internal/governor"
	"github.com/allaspectsdev/webdog/internal/history"
	"github.com/allaspectsdev/webdog/internal/metrics"
	"github.com/allaspectsdev/webdog/internal/patrol"
	"github.com/allaspectsdev/webdog/internal/similarity"
	"github.com/allaspectsdev/webdog/internal/store"
	"github.com/allaspectsdev/webdog/internal/tracing"
	"github.com/allaspectsdev/webdog/internal/vault"
	"github.com/allaspectsdev/webdog/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the patrol loop, Telegram bot and dashboard server, and blocks
// until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "webdog.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "webdog").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("webdog starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("webdog is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Create metrics collector. It measures free disk against the data
	// directory and doubles as the fetch latency recorder.
	collector := metrics.NewCollector(dataDir)

	// 4. Open the store and start its write worker. Write latencies feed
	// the collector through the observer hook.
	storePath := expandHome(cfg.Store.Path)
	if storePath == "" {
		storePath = filepath.Join(dataDir, "db.json")
	}
	st, err := store.Open(storePath,
		store.WithBackupCount(cfg.Store.BackupCount),
		store.WithMinFreeMB(cfg.Store.MinFreeMB),
		store.WithWriteObserver(func(d time.Duration, err error) {
			if err == nil {
				collector.RecordDBOperation(d)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	log.Info().Str("db_path", storePath).Msg("store opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeDone := make(chan struct{})
	go func() {
		defer close(storeDone)
		if err := st.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("store write worker exited")
		}
	}()

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Server.LogLevel)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Init tracing if enabled.
	var traceShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdown, traceErr := tracing.Init(ctx, tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
		})
		if traceErr != nil {
			log.Warn().Err(traceErr).Msg("tracing init failed; continuing without traces")
		} else {
			traceShutdown = shutdown
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
		}
	}

	// ---------------------------------------------------------------
	// 8. Wire up the watch stack.
	// ---------------------------------------------------------------

	// 8a. Rate governor and alert throttler.
	gov := governor.New(cfg.Limits.WebRate, cfg.Limits.WebBurst, cfg.Limits.AlertRate, cfg.Limits.AlertBurst)
	thr := alert.NewThrottler(gov, cfg.Limits.CongestionThreshold)

	throttlerDone := make(chan struct{})
	go func() {
		defer close(throttlerDone)
		if err := thr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("alert throttler exited")
		}
	}()

	// 8b. Fetch manager with the collector recording request latencies.
	fetcher, err := fetch.NewManager(fetch.FromConfig(cfg), collector)
	if err != nil {
		return fmt.Errorf("creating fetch manager: %w", err)
	}

	// 8c. History manager for per-monitor logs and exports.
	hist := history.NewManager(expandHome(cfg.History.ExportsDir), cfg.History.RetentionDays)

	// 8d. Telegram bot, if enabled and a token can be resolved. The daemon
	// keeps watching without it; alerts just have nowhere to go.
	var notifier patrol.Notifier
	var botDone chan struct{}
	if cfg.Telegram.Enabled {
		token, tokenErr := vault.New().ResolveRef(cfg.Telegram.TokenRef)
		if tokenErr != nil {
			log.Warn().Err(tokenErr).Msg("telegram token unavailable; running without bot")
		} else {
			b, botErr := bot.New(token, bot.Deps{
				Store:     st,
				Fetcher:   fetcher,
				History:   hist,
				Throttler: thr,
				Collector: collector,
			})
			if botErr != nil {
				log.Warn().Err(botErr).Msg("telegram bot init failed; running without bot")
			} else {
				notifier = b
				botDone = make(chan struct{})
				go func() {
					defer close(botDone)
					if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Error().Err(err).Msg("bot update loop exited")
					}
				}()
				log.Info().Str("username", b.Username()).Msg("telegram bot connected")
			}
		}
	}

	// 8e. Patrol loop.
	p := patrol.New(patrol.FromConfig(cfg), patrol.Deps{
		Store:     st,
		Fetcher:   fetcher,
		Generator: fingerprint.NewGenerator(),
		Engine:    similarity.NewEngine(),
		Detector:  diffdetect.NewDetector(),
		History:   hist,
		Throttler: thr,
		Governor:  gov,
		Collector: collector,
		Notifier:  notifier,
	})

	errCh := make(chan error, 2)

	patrolDone := make(chan struct{})
	go func() {
		defer close(patrolDone)
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("patrol: %w", err)
		}
	}()

	// 9. Create and start dashboard server (if enabled).
	var dashServer *metrics.DashboardServer
	if cfg.Dashboard.Enabled {
		dashAddr := fmt.Sprintf("%s:%d", cfg.Dashboard.Host, cfg.Dashboard.Port)
		dashServer = metrics.NewDashboardServer(collector, st, dashAddr)

		go func() {
			if err := dashServer.Start(); err != nil {
				errCh <- err
			}
		}()

		log.Info().
			Int("interval_seconds", cfg.Patrol.IntervalSeconds).
			Bool("telegram", notifier != nil).
			Str("dashboard", dashAddr).
			Msg("webdog is ready")

		if foreground {
			fmt.Printf("\n  WebDog is running!\n")
			fmt.Printf("  Dashboard: http://%s\n", dashAddr)
			fmt.Printf("  Log file:  %s\n\n", logPath)
		}
	} else {
		log.Info().
			Int("interval_seconds", cfg.Patrol.IntervalSeconds).
			Bool("telegram", notifier != nil).
			Msg("webdog is ready (dashboard disabled)")

		if foreground {
			fmt.Printf("\n  WebDog is running!\n")
			fmt.Printf("  Log file: %s\n\n", logPath)
		}
	}

	// 10. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		cancel()
		return err
	}

	// 11. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if dashServer != nil {
		if err := dashServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("dashboard server shutdown error")
		}
	}

	// 12. Stop the workers and wait for them to drain. The store worker
	// goes last so any final state write still lands on disk.
	cancel()
	<-patrolDone
	if botDone != nil {
		<-botDone
	}
	<-throttlerDone
	<-storeDone

	fetcher.Close()

	if traceShutdown != nil {
		if err := traceShutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown error")
		}
	}

	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("webdog stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("webdog does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("webdog is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to webdog (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("webdog is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("webdog is running (PID %d)\n", pid)

	// Try to fetch stats from the dashboard API.
	dashURL := fmt.Sprintf("http://localhost:%d/api/stats", cfg.Dashboard.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(dashURL)
	if err != nil {
		fmt.Println("  (dashboard unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var stats metrics.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Uptime:        %s\n", stats.Uptime)
	fmt.Printf("  Total Fetches: %d\n", stats.TotalRequests)
	fmt.Printf("  Avg Latency:   %.2fs\n", stats.AvgLatencySec)
	fmt.Printf("  Store Writes:  %d\n", stats.DBWritesSampled)
	fmt.Printf("  Workers:       %d/%d active\n", stats.ActiveWorkers, stats.TotalWorkers)

	return nil
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
