// Package history manages monitor event logs: retention, compressed
// archival, and file exports.
package history

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/store"
)

// DefaultRetentionDays is how long entries stay in the active log before
// being moved to the compressed archive.
const DefaultRetentionDays = 30

// Manager applies retention policy to monitor history and writes exports.
type Manager struct {
	exportsDir    string
	retentionDays int
}

// NewManager creates a history manager writing exports under exportsDir.
func NewManager(exportsDir string, retentionDays int) *Manager {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Manager{exportsDir: exportsDir, retentionDays: retentionDays}
}

// Add appends an event stamped now to the monitor's history, then runs
// archive-and-prune so the active log cannot grow unbounded.
func (h *Manager) Add(m *store.Monitor, changeType string, score float64, summary string) {
	m.HistoryLog = append(m.HistoryLog, store.HistoryEntry{
		Timestamp:       store.NowStamp(),
		ChangeType:      changeType,
		SimilarityScore: score,
		Summary:         summary,
	})
	h.ArchiveAndPrune(m)
}

// ArchiveAndPrune moves entries older than the retention window into a
// compressed block on the monitor's archive. Entries whose timestamps do
// not parse are kept active rather than risk losing them; if the archive
// block cannot be built the log is left untouched.
func (h *Manager) ArchiveAndPrune(m *store.Monitor) {
	if len(m.HistoryLog) == 0 {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -h.retentionDays)

	active := []store.HistoryEntry{}
	var old []store.HistoryEntry
	for _, entry := range m.HistoryLog {
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil || !ts.Before(cutoff) {
			active = append(active, entry)
			continue
		}
		old = append(old, entry)
	}

	if len(old) > 0 {
		block, err := encodeArchive(old)
		if err != nil {
			log.Warn().Str("url", m.URL).Err(err).Msg("history archival failed, keeping entries active")
			return
		}
		m.HistoryArchive = append(m.HistoryArchive, block)
		log.Info().Str("url", m.URL).Int("entries", len(old)).Msg("archived history entries")
	}

	m.HistoryLog = active
}

// ExportCSV writes the monitor's active history as a CSV file and returns
// its path.
func (h *Manager) ExportCSV(m *store.Monitor) (string, error) {
	path := filepath.Join(h.exportsDir, exportFilename(m.URL, "csv"))
	if err := os.MkdirAll(h.exportsDir, 0o755); err != nil {
		return "", fmt.Errorf("history: creating exports dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("history: creating CSV export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Timestamp (UTC)", "Change Type", "Similarity Score", "Summary"}); err != nil {
		return "", fmt.Errorf("history: writing CSV header: %w", err)
	}
	for _, entry := range m.HistoryLog {
		record := []string{
			entry.Timestamp,
			entry.ChangeType,
			fmt.Sprintf("%.2f", entry.SimilarityScore),
			entry.Summary,
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("history: writing CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("history: flushing CSV export: %w", err)
	}

	return path, nil
}

// ExportJSON writes the monitor's active history as a JSON document and
// returns its path.
func (h *Manager) ExportJSON(m *store.Monitor) (string, error) {
	path := filepath.Join(h.exportsDir, exportFilename(m.URL, "json"))
	if err := os.MkdirAll(h.exportsDir, 0o755); err != nil {
		return "", fmt.Errorf("history: creating exports dir: %w", err)
	}

	entries := m.HistoryLog
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	payload := struct {
		URL        string               `json:"url"`
		ExportedAt string               `json:"exported_at"`
		History    []store.HistoryEntry `json:"history"`
	}{m.URL, store.NowStamp(), entries}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("history: encoding JSON export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("history: writing JSON export: %w", err)
	}

	return path, nil
}

// CleanupExports deletes export files older than maxAge. It returns how
// many files were removed. A missing exports directory is not an error.
func (h *Manager) CleanupExports(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(h.exportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("history: reading exports dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(h.exportsDir, entry.Name())); err != nil {
				log.Warn().Str("file", entry.Name()).Err(err).Msg("failed to remove stale export")
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// DecodeArchive expands one compressed archive block back into entries.
func DecodeArchive(block string) ([]store.HistoryEntry, error) {
	raw, err := base64.StdEncoding.DecodeString(block)
	if err != nil {
		return nil, fmt.Errorf("history: decoding archive block: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("history: decompressing archive block: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("history: decompressing archive block: %w", err)
	}
	var entries []store.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("history: parsing archive block: %w", err)
	}
	return entries, nil
}

func encodeArchive(entries []store.HistoryEntry) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("history: encoding archive block: %w", err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return "", fmt.Errorf("history: compressing archive block: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("history: compressing archive block: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// exportFilename derives a filesystem-safe name from a URL, keeping it
// recognizable.
func exportFilename(url, ext string) string {
	name := strings.ReplaceAll(url, "://", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return name + "_history." + ext
}
