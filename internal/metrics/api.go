package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/config"
	"github.com/allaspectsdev/webdog/internal/store"
	"github.com/allaspectsdev/webdog/internal/tracing"
	"github.com/allaspectsdev/webdog/web"
)

// DashboardServer serves the web dashboard and JSON API endpoints for the
// live health report, monitor roster, and redacted configuration.
type DashboardServer struct {
	router    chi.Router
	collector *Collector
	store     *store.Store
	addr      string
	server    *http.Server
}

// NewDashboardServer creates a DashboardServer wired to the given
// collector, store, and listen address.
func NewDashboardServer(collector *Collector, st *store.Store, addr string) *DashboardServer {
	d := &DashboardServer{
		collector: collector,
		store:     st,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(tracing.HTTPMiddleware)
	r.Use(corsMiddleware)

	// API routes.
	r.Get("/api/health", d.handleHealth)
	r.Get("/api/status", d.handleStatus)
	r.Get("/api/stats", d.handleStats)
	r.Get("/api/monitors", d.handleMonitors)
	r.Get("/api/config", d.handleGetConfig)

	// Prometheus metrics endpoint.
	r.Get("/metrics", PrometheusHandler(collector))

	// Static file serving from embedded filesystem.
	staticFS := http.FileServer(http.FS(web.Static))
	r.Handle("/static/*", http.StripPrefix("/static/", staticFS))

	// Dashboard HTML (catch-all).
	r.Get("/", d.handleDashboard)
	r.Get("/*", d.handleDashboard)

	d.router = r
	return d
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (d *DashboardServer) Start() error {
	d.server = &http.Server{
		Addr:         d.addr,
		Handler:      d.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", d.addr).Msg("dashboard server starting")
	if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the dashboard server.
func (d *DashboardServer) Shutdown(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

// handleHealth returns a simple liveness response.
func (d *DashboardServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the full system health report.
func (d *DashboardServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.collector.SystemStatus())
}

// handleStats returns the lifetime counter snapshot.
func (d *DashboardServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.collector.Stats())
}

// handleMonitors returns the full monitor roster across all users,
// flattened into one list with operational counters. Users and monitors
// come back in a stable order so the dashboard table does not reshuffle
// between polls.
func (d *DashboardServer) handleMonitors(w http.ResponseWriter, _ *http.Request) {
	state, err := d.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load store for monitor roster")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store error"})
		return
	}

	type monitorEntry struct {
		User           string  `json:"user"`
		URL            string  `json:"url"`
		CreatedAt      string  `json:"created_at"`
		LastCheck      string  `json:"last_check,omitempty"`
		CheckCount     int     `json:"check_count"`
		FailureCount   int     `json:"failure_count"`
		RateLimitCount int     `json:"rate_limit_count"`
		CircuitState   string  `json:"circuit_state"`
		SnoozeUntil    string  `json:"snooze_until,omitempty"`
		HasBaseline    bool    `json:"has_baseline"`
		HistoryEntries int     `json:"history_entries"`
		Threshold      float64 `json:"similarity_threshold"`
		CheckInterval  int     `json:"check_interval"`
	}

	users := make([]string, 0, len(state))
	for id := range state {
		users = append(users, id)
	}
	sort.Strings(users)

	entries := []monitorEntry{}
	for _, id := range users {
		ud := state[id]
		for _, m := range ud.Monitors {
			cfg := m.EffectiveConfig(ud.UserConfig)
			entries = append(entries, monitorEntry{
				User:           id,
				URL:            m.URL,
				CreatedAt:      m.Metadata.CreatedAt,
				LastCheck:      m.Metadata.LastCheck,
				CheckCount:     m.Metadata.CheckCount,
				FailureCount:   m.Metadata.FailureCount,
				RateLimitCount: m.Metadata.RateLimitCount,
				CircuitState:   m.Metadata.CircuitBreakerState,
				SnoozeUntil:    m.Metadata.SnoozeUntil,
				HasBaseline:    m.Fingerprint != nil,
				HistoryEntries: len(m.HistoryLog),
				Threshold:      cfg.SimilarityThreshold,
				CheckInterval:  cfg.CheckInterval,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(entries),
		"monitors": entries,
	})
}

// handleGetConfig returns the current configuration with sensitive keys redacted.
func (d *DashboardServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := config.Get()

	// Serialise to map then redact keys.
	data, err := json.Marshal(cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	var cfgMap map[string]interface{}
	if err := json.Unmarshal(data, &cfgMap); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	redactKeys(cfgMap)
	writeJSON(w, http.StatusOK, cfgMap)
}

// handleDashboard serves the embedded HTML dashboard.
func (d *DashboardServer) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	data, err := web.IndexHTML()
	if err != nil {
		http.Error(w, "dashboard not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// --- helpers ---

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// redactKeys recursively walks a map and replaces any string value whose
// key contains "key", "secret", or "token" (case-insensitive) with "****".
func redactKeys(m map[string]interface{}) {
	for k, v := range m {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "key") || strings.Contains(lower, "secret") || strings.Contains(lower, "token") {
			if _, ok := v.(string); ok {
				m[k] = "****"
				continue
			}
		}
		switch child := v.(type) {
		case map[string]interface{}:
			redactKeys(child)
		case []interface{}:
			for _, item := range child {
				if sub, ok := item.(map[string]interface{}); ok {
					redactKeys(sub)
				}
			}
		}
	}
}

// corsMiddleware adds permissive CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
