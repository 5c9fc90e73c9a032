package store

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/allaspectsdev/webdog/internal/fingerprint"
)

// ChangeType classifies how far a page has drifted from its baseline.
type ChangeType string

const (
	ChangeUITweak         ChangeType = "UI_TWEAK"
	ChangeContentUpdate   ChangeType = "CONTENT_UPDATE"
	ChangeMajorOverhaul   ChangeType = "MAJOR_OVERHAUL"
	ChangeInitialBaseline ChangeType = "INITIAL_BASELINE"
)

// MinCheckInterval is the floor for per-monitor check intervals in seconds.
const MinCheckInterval = 30

// NowStamp returns the current time as a canonical UTC ISO 8601 string.
// All timestamps in the store document use this form.
func NowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// WatchConfig holds the tunable settings for change detection. It appears
// twice in the document: once per user as the defaults, and optionally per
// monitor as an override.
type WatchConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold"`
	CheckInterval       int     `json:"check_interval"`
	IncludeDiff         bool    `json:"include_diff"`
	CustomSelector      string  `json:"custom_selector,omitempty"`
}

// DefaultWatchConfig returns the built-in watch settings.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		SimilarityThreshold: 0.85,
		CheckInterval:       60,
		IncludeDiff:         true,
	}
}

// Clamp pulls out-of-range values back into their legal domains. Intervals
// below the floor are raised to it; thresholds outside (0, 1] are clamped
// into [0.01, 1.0]. Values are corrected, never rejected.
func (c *WatchConfig) Clamp() {
	if c.CheckInterval < MinCheckInterval {
		c.CheckInterval = MinCheckInterval
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		t := c.SimilarityThreshold
		if t > 1 {
			t = 1.0
		}
		if t < 0.01 {
			t = 0.01
		}
		c.SimilarityThreshold = t
	}
}

// HistoryEntry is one row in a monitor's event log. ChangeType here is a
// free-form label ("CHANGE", "MINOR", or a classification name), not
// restricted to the ChangeType constants.
type HistoryEntry struct {
	Timestamp       string  `json:"timestamp"`
	ChangeType      string  `json:"change_type"`
	SimilarityScore float64 `json:"similarity_score"`
	Summary         string  `json:"summary"`
}

// MonitorMetadata carries the operational counters for a monitor.
type MonitorMetadata struct {
	CreatedAt           string `json:"created_at"`
	LastCheck           string `json:"last_check,omitempty"`
	CheckCount          int    `json:"check_count"`
	FailureCount        int    `json:"failure_count"`
	CircuitBreakerState string `json:"circuit_breaker_state"`
	RateLimitCount      int    `json:"rate_limit_count"`
	SnoozeUntil         string `json:"snooze_until,omitempty"`
}

// NewMonitorMetadata returns metadata for a freshly created monitor.
func NewMonitorMetadata() MonitorMetadata {
	return MonitorMetadata{
		CreatedAt:           NowStamp(),
		CircuitBreakerState: "CLOSED",
	}
}

// Snapshot is a compressed copy of a page body retained for diffing and
// last-known-good recovery. The content is zlib-compressed and base64
// encoded for JSON storage.
type Snapshot struct {
	Timestamp         string     `json:"timestamp"`
	ChangeType        ChangeType `json:"change_type"`
	CompressedContent string     `json:"compressed_content"`
}

// NewSnapshot compresses content into a Snapshot stamped with the current
// time.
func NewSnapshot(content string, changeType ChangeType) (Snapshot, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(content)); err != nil {
		zw.Close()
		return Snapshot{}, fmt.Errorf("store: compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Snapshot{}, fmt.Errorf("store: compress snapshot: %w", err)
	}

	return Snapshot{
		Timestamp:         NowStamp(),
		ChangeType:        changeType,
		CompressedContent: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Decompress recovers the original page body from the snapshot.
func (s Snapshot) Decompress() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s.CompressedContent)
	if err != nil {
		return "", fmt.Errorf("store: decode snapshot: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("store: decompress snapshot: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("store: decompress snapshot: %w", err)
	}
	return string(out), nil
}

// Monitor is one watched URL with its baseline fingerprint, operational
// metadata, retained snapshots, event history, and optional per-monitor
// settings override.
type Monitor struct {
	URL               string                   `json:"url"`
	Fingerprint       *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	Metadata          MonitorMetadata          `json:"metadata"`
	ForensicSnapshots []Snapshot               `json:"forensic_snapshots"`
	HistoryLog        []HistoryEntry           `json:"history_log"`
	HistoryArchive    []string                 `json:"history_archive"`
	Config            *WatchConfig             `json:"config,omitempty"`
}

// NewMonitor creates a monitor for url with fresh metadata and no baseline.
func NewMonitor(url string) *Monitor {
	return &Monitor{
		URL:               url,
		Metadata:          NewMonitorMetadata(),
		ForensicSnapshots: []Snapshot{},
		HistoryLog:        []HistoryEntry{},
		HistoryArchive:    []string{},
	}
}

// EffectiveConfig resolves the settings for this monitor: the per-monitor
// override when present, otherwise the user's defaults. The result is
// clamped.
func (m *Monitor) EffectiveConfig(userDefaults WatchConfig) WatchConfig {
	cfg := userDefaults
	if m.Config != nil {
		cfg = *m.Config
	}
	cfg.Clamp()
	return cfg
}

// UserData is everything stored for one chat: the user's default watch
// settings and their list of monitors.
type UserData struct {
	UserConfig WatchConfig `json:"user_config"`
	Monitors   []*Monitor  `json:"monitors"`
}

// NewUserData returns an empty UserData with default settings.
func NewUserData() *UserData {
	return &UserData{
		UserConfig: DefaultWatchConfig(),
		Monitors:   []*Monitor{},
	}
}

// FindMonitor returns the monitor watching url, or nil.
func (u *UserData) FindMonitor(url string) *Monitor {
	for _, m := range u.Monitors {
		if m.URL == url {
			return m
		}
	}
	return nil
}

// RemoveMonitor deletes the monitor watching url. It reports whether a
// monitor was removed.
func (u *UserData) RemoveMonitor(url string) bool {
	for i, m := range u.Monitors {
		if m.URL == url {
			u.Monitors = append(u.Monitors[:i], u.Monitors[i+1:]...)
			return true
		}
	}
	return false
}
