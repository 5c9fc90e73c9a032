package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
log_level = "debug"
data_dir = "` + dir + `"

[patrol]
interval_seconds = 120

[defaults]
similarity_threshold = 0.9
check_interval = 300
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Patrol.IntervalSeconds != 120 {
		t.Errorf("IntervalSeconds: got %d, want 120", cfg.Patrol.IntervalSeconds)
	}
	if cfg.Defaults.SimilarityThreshold != 0.9 {
		t.Errorf("SimilarityThreshold: got %f, want 0.9", cfg.Defaults.SimilarityThreshold)
	}
	if cfg.Defaults.CheckInterval != 300 {
		t.Errorf("CheckInterval: got %d, want 300", cfg.Defaults.CheckInterval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("WEBDOG_PATROL_INTERVAL_SECONDS", "90")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Patrol.IntervalSeconds != 90 {
		t.Errorf("IntervalSeconds with env override: got %d, want 90", cfg.Patrol.IntervalSeconds)
	}
}

func TestLoad_BarePortEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("PORT", "9191")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Dashboard.Port != 9191 {
		t.Errorf("Dashboard.Port with PORT env: got %d, want 9191", cfg.Dashboard.Port)
	}
}

func TestLoad_ClampsLowCheckInterval(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "low.toml")

	content := `
[server]
log_level = "info"
data_dir = "` + dir + `"

[defaults]
check_interval = 5
similarity_threshold = 1.5
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Defaults.CheckInterval != MinCheckInterval {
		t.Errorf("CheckInterval: got %d, want clamped to %d", cfg.Defaults.CheckInterval, MinCheckInterval)
	}
	if cfg.Defaults.SimilarityThreshold != 1.0 {
		t.Errorf("SimilarityThreshold: got %f, want clamped to 1.0", cfg.Defaults.SimilarityThreshold)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
log_level = "info"
data_dir = "` + dir + `"

[dashboard]
enabled = true
port = 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Defaults.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("SimilarityThreshold: got %f, want %f", cfg.Defaults.SimilarityThreshold, DefaultSimilarityThreshold)
	}
	if cfg.Defaults.CheckInterval != DefaultCheckInterval {
		t.Errorf("CheckInterval: got %d, want %d", cfg.Defaults.CheckInterval, DefaultCheckInterval)
	}
	if cfg.Patrol.IntervalSeconds != DefaultPatrolInterval {
		t.Errorf("IntervalSeconds: got %d, want %d", cfg.Patrol.IntervalSeconds, DefaultPatrolInterval)
	}
	if cfg.Breaker.FailureThreshold != DefaultFailureThreshold {
		t.Errorf("FailureThreshold: got %d, want %d", cfg.Breaker.FailureThreshold, DefaultFailureThreshold)
	}
	if cfg.Fetch.VerifyTLS != true {
		t.Error("VerifyTLS: got false, want true")
	}
	if cfg.Store.BackupCount != DefaultBackupCount {
		t.Errorf("BackupCount: got %d, want %d", cfg.Store.BackupCount, DefaultBackupCount)
	}
}

func TestFetchConfig_HardTimeout(t *testing.T) {
	tests := []struct {
		seconds int
		wantSec int
	}{
		{0, 15},  // default
		{-1, 15}, // negative defaults
		{30, 30},
		{5, 5},
	}

	for _, tt := range tests {
		f := FetchConfig{HardTimeoutSeconds: tt.seconds}
		got := f.HardTimeout().Seconds()
		if int(got) != tt.wantSec {
			t.Errorf("HardTimeout(%d): got %v, want %ds", tt.seconds, got, tt.wantSec)
		}
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	// Reset to ensure clean state.
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	// Set a known config.
	cfg := DefaultConfig()
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
log_level = "warn"
data_dir = "` + dir + `"

[patrol]
interval_seconds = 45
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Patrol.IntervalSeconds != 45 {
		t.Errorf("IntervalSeconds after import: got %d, want 45", cfg.Patrol.IntervalSeconds)
	}

	// Reset to default to not affect other tests.
	set(DefaultConfig())
}
