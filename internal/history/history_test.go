package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/allaspectsdev/webdog/internal/store"
)

func stampDaysAgo(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
}

func TestAdd_AppendsStampedEntry(t *testing.T) {
	h := NewManager(t.TempDir(), 30)
	m := store.NewMonitor("https://a.test")

	h.Add(m, "CHANGE", 0.42, "Alerted")

	if len(m.HistoryLog) != 1 {
		t.Fatalf("history log: got %d entries", len(m.HistoryLog))
	}
	entry := m.HistoryLog[0]
	if entry.ChangeType != "CHANGE" || entry.SimilarityScore != 0.42 || entry.Summary != "Alerted" {
		t.Errorf("entry: %+v", entry)
	}
	if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}

func TestArchiveAndPrune_MovesOldEntries(t *testing.T) {
	h := NewManager(t.TempDir(), 30)
	m := store.NewMonitor("https://a.test")
	m.HistoryLog = []store.HistoryEntry{
		{Timestamp: stampDaysAgo(40), ChangeType: "CHANGE", SimilarityScore: 0.5, Summary: "old"},
		{Timestamp: stampDaysAgo(35), ChangeType: "MINOR", SimilarityScore: 0.9, Summary: "also old"},
		{Timestamp: stampDaysAgo(1), ChangeType: "CHANGE", SimilarityScore: 0.3, Summary: "recent"},
	}

	h.ArchiveAndPrune(m)

	if len(m.HistoryLog) != 1 || m.HistoryLog[0].Summary != "recent" {
		t.Errorf("active log after prune: %+v", m.HistoryLog)
	}
	if len(m.HistoryArchive) != 1 {
		t.Fatalf("archive blocks: got %d, want 1", len(m.HistoryArchive))
	}

	restored, err := DecodeArchive(m.HistoryArchive[0])
	if err != nil {
		t.Fatalf("DecodeArchive: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored entries: got %d, want 2", len(restored))
	}
	if restored[0].Summary != "old" || restored[1].Summary != "also old" {
		t.Errorf("restored: %+v", restored)
	}
}

func TestArchiveAndPrune_KeepsUnparseableTimestamps(t *testing.T) {
	h := NewManager(t.TempDir(), 30)
	m := store.NewMonitor("https://a.test")
	m.HistoryLog = []store.HistoryEntry{
		{Timestamp: "not a time", Summary: "mystery"},
		{Timestamp: stampDaysAgo(1), Summary: "recent"},
	}

	h.ArchiveAndPrune(m)

	if len(m.HistoryLog) != 2 {
		t.Errorf("entries with bad stamps must stay active: %+v", m.HistoryLog)
	}
	if len(m.HistoryArchive) != 0 {
		t.Errorf("nothing should be archived: %v", m.HistoryArchive)
	}
}

func TestArchiveAndPrune_NoOldEntriesNoArchive(t *testing.T) {
	h := NewManager(t.TempDir(), 30)
	m := store.NewMonitor("https://a.test")
	m.HistoryLog = []store.HistoryEntry{
		{Timestamp: stampDaysAgo(2), Summary: "a"},
		{Timestamp: stampDaysAgo(3), Summary: "b"},
	}

	h.ArchiveAndPrune(m)

	if len(m.HistoryLog) != 2 || len(m.HistoryArchive) != 0 {
		t.Errorf("log %d archive %d, want 2 and 0", len(m.HistoryLog), len(m.HistoryArchive))
	}
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	h := NewManager(dir, 30)
	m := store.NewMonitor("https://shop.test/deals")
	m.HistoryLog = []store.HistoryEntry{
		{Timestamp: "2024-06-01T10:00:00Z", ChangeType: "CHANGE", SimilarityScore: 0.8512, Summary: "Alerted"},
	}

	path, err := h.ExportCSV(m)
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if filepath.Base(path) != "https_shop.test_deals_history.csv" {
		t.Errorf("filename: got %q", filepath.Base(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(raw)
	if !strings.Contains(content, "Timestamp (UTC),Change Type,Similarity Score,Summary") {
		t.Errorf("missing header:\n%s", content)
	}
	if !strings.Contains(content, "0.85") {
		t.Errorf("score should be formatted to 2 decimals:\n%s", content)
	}
	if !strings.Contains(content, "Alerted") {
		t.Errorf("missing summary:\n%s", content)
	}
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	h := NewManager(dir, 30)
	m := store.NewMonitor("https://a.test/page")
	m.HistoryLog = []store.HistoryEntry{
		{Timestamp: "2024-06-01T10:00:00Z", ChangeType: "MINOR", SimilarityScore: 0.97, Summary: "Silent Update"},
	}

	path, err := h.ExportJSON(m)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc struct {
		URL        string               `json:"url"`
		ExportedAt string               `json:"exported_at"`
		History    []store.HistoryEntry `json:"history"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.URL != "https://a.test/page" {
		t.Errorf("url: got %q", doc.URL)
	}
	if _, err := time.Parse(time.RFC3339Nano, doc.ExportedAt); err != nil {
		t.Errorf("exported_at: %v", err)
	}
	if len(doc.History) != 1 || doc.History[0].Summary != "Silent Update" {
		t.Errorf("history: %+v", doc.History)
	}
}

func TestCleanupExports(t *testing.T) {
	dir := t.TempDir()
	h := NewManager(dir, 30)

	oldFile := filepath.Join(dir, "old_export.csv")
	newFile := filepath.Join(dir, "new_export.csv")
	if err := os.WriteFile(oldFile, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newFile, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldFile, stale, stale); err != nil {
		t.Fatal(err)
	}

	removed, err := h.CleanupExports(time.Hour)
	if err != nil {
		t.Fatalf("CleanupExports: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed: got %d, want 1", removed)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("old file should be deleted")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("new file should be kept")
	}
}

func TestCleanupExports_MissingDir(t *testing.T) {
	h := NewManager(filepath.Join(t.TempDir(), "never-created"), 30)
	removed, err := h.CleanupExports(time.Hour)
	if err != nil || removed != 0 {
		t.Errorf("missing dir: removed %d err %v", removed, err)
	}
}
