package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/webdog/internal/fingerprint"
)

func TestLoad_MigratesLegacyShapes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")

	// Raw pre-2.0 file: one dict-form user, one list-form user, no envelope.
	seed := `{
		"12345": {"url": "https://example.com", "hash": "abc123hash"},
		"67890": [{"url": "https://google.com", "hash": "xyz789hash"}]
	}`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st := openTestStoreAt(t, path)

	state, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ud, ok := state["12345"]
	if !ok {
		t.Fatal("user 12345 missing")
	}
	if len(ud.Monitors) != 1 {
		t.Fatalf("user 12345 monitors: got %d, want 1", len(ud.Monitors))
	}
	m := ud.Monitors[0]
	if m.URL != "https://example.com" {
		t.Errorf("URL: got %q", m.URL)
	}
	if m.Fingerprint == nil {
		t.Fatal("migrated monitor has no fingerprint")
	}
	if m.Fingerprint.Hash != "abc123hash" {
		t.Errorf("Hash: got %q, want %q", m.Fingerprint.Hash, "abc123hash")
	}
	if m.Fingerprint.Version != fingerprint.LegacyVersion {
		t.Errorf("Version: got %q, want %q", m.Fingerprint.Version, fingerprint.LegacyVersion)
	}

	other, ok := state["67890"]
	if !ok {
		t.Fatal("user 67890 missing")
	}
	if len(other.Monitors) != 1 || other.Monitors[0].URL != "https://google.com" {
		t.Errorf("user 67890 monitors: got %+v", other.Monitors)
	}

	// Writing back materializes the 2.0 envelope.
	if err := st.Write(context.Background(), state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc["schema_version"] != SchemaVersion {
		t.Errorf("schema_version after write: got %v", doc["schema_version"])
	}
	data, _ := doc["data"].(map[string]any)
	user, _ := data["12345"].(map[string]any)
	if _, ok := user["monitors"]; !ok {
		t.Errorf("persisted user 12345 lacks monitors key: %v", user)
	}
}

func TestMigrate_CurrentShapePassthrough(t *testing.T) {
	payload := []byte(`{
		"1": {
			"user_config": {"similarity_threshold": 0.9, "check_interval": 90, "include_diff": true},
			"monitors": [{"url": "https://a.test", "metadata": {"created_at": "2024-01-01T00:00:00Z"}}]
		}
	}`)

	state, err := migrate(payload)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ud := state["1"]
	if ud == nil {
		t.Fatal("user 1 missing")
	}
	if ud.UserConfig.SimilarityThreshold != 0.9 {
		t.Errorf("threshold: got %v", ud.UserConfig.SimilarityThreshold)
	}
	if ud.UserConfig.CheckInterval != 90 {
		t.Errorf("interval: got %v", ud.UserConfig.CheckInterval)
	}
	if len(ud.Monitors) != 1 || ud.Monitors[0].URL != "https://a.test" {
		t.Errorf("monitors: got %+v", ud.Monitors)
	}
	// Repair fills nil slices so later appends are safe.
	if ud.Monitors[0].HistoryLog == nil || ud.Monitors[0].ForensicSnapshots == nil {
		t.Error("monitor slices not initialized")
	}
}

func TestMigrate_PartialUserConfigKeepsDefaults(t *testing.T) {
	payload := []byte(`{
		"2": {
			"user_config": {"similarity_threshold": 0.5},
			"monitors": []
		}
	}`)

	state, err := migrate(payload)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := state["2"].UserConfig
	if cfg.SimilarityThreshold != 0.5 {
		t.Errorf("threshold: got %v, want 0.5", cfg.SimilarityThreshold)
	}
	if cfg.CheckInterval != 60 {
		t.Errorf("interval should keep default: got %v", cfg.CheckInterval)
	}
	if !cfg.IncludeDiff {
		t.Error("include_diff should keep default true")
	}
}

func TestMigrate_UnreadableEntryDropped(t *testing.T) {
	payload := []byte(`{
		"good": {"url": "https://ok.test", "hash": "h1"},
		"bad": 42
	}`)

	state, err := migrate(payload)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, ok := state["good"]; !ok {
		t.Error("good entry lost")
	}
	if _, ok := state["bad"]; ok {
		t.Error("unreadable entry should be dropped")
	}
}

func TestMigrate_OutOfRangeConfigClamped(t *testing.T) {
	payload := []byte(`{
		"3": {
			"user_config": {"similarity_threshold": 1.7, "check_interval": 5, "include_diff": true},
			"monitors": []
		}
	}`)

	state, err := migrate(payload)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := state["3"].UserConfig
	if cfg.SimilarityThreshold != 1.0 {
		t.Errorf("threshold: got %v, want clamped 1.0", cfg.SimilarityThreshold)
	}
	if cfg.CheckInterval != MinCheckInterval {
		t.Errorf("interval: got %v, want clamped %d", cfg.CheckInterval, MinCheckInterval)
	}
}
