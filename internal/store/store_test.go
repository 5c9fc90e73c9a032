package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/allaspectsdev/webdog/internal/fingerprint"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.json")
	return openTestStoreAt(t, path, opts...)
}

func openTestStoreAt(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	st, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go st.Run(ctx)
	t.Cleanup(cancel)
	return st
}

func TestOpen_InitializesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if st.Path() != path {
		t.Errorf("Path: got %q, want %q", st.Path(), path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("fresh document is not valid JSON: %v", err)
	}
	if doc["schema_version"] != SchemaVersion {
		t.Errorf("schema_version: got %v, want %q", doc["schema_version"], SchemaVersion)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "db.json")
	if _, err := Open(path); err != nil {
		t.Fatalf("Open with nested dir: %v", err)
	}
}

func TestLoad_EmptyStore(t *testing.T) {
	st := openTestStore(t)

	state, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state) != 0 {
		t.Errorf("fresh store: got %d users, want 0", len(state))
	}
}

func TestWrite_LoadRoundTrip(t *testing.T) {
	st := openTestStore(t)

	mon := NewMonitor("https://example.com/page")
	mon.Fingerprint = &fingerprint.Fingerprint{
		Hash:           "deadbeef",
		Version:        fingerprint.Version,
		Algorithm:      fingerprint.Algorithm,
		ContentWeights: map[string]float64{"div": 3, "p": 7},
	}
	mon.HistoryLog = append(mon.HistoryLog, HistoryEntry{
		Timestamp:       NowStamp(),
		ChangeType:      "CHANGE",
		SimilarityScore: 0.42,
		Summary:         "Alerted",
	})
	mon.Config = &WatchConfig{SimilarityThreshold: 0.7, CheckInterval: 120, IncludeDiff: false}

	state := State{"42": {UserConfig: DefaultWatchConfig(), Monitors: []*Monitor{mon}}}

	if err := st.Write(context.Background(), state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ud, ok := got["42"]
	if !ok {
		t.Fatal("user 42 missing after round trip")
	}
	if len(ud.Monitors) != 1 {
		t.Fatalf("monitors: got %d, want 1", len(ud.Monitors))
	}
	m := ud.Monitors[0]
	if m.URL != "https://example.com/page" {
		t.Errorf("URL: got %q", m.URL)
	}
	if m.Fingerprint == nil || m.Fingerprint.Hash != "deadbeef" {
		t.Errorf("Fingerprint: got %+v", m.Fingerprint)
	}
	if m.Fingerprint.ContentWeights["p"] != 7 {
		t.Errorf("ContentWeights[p]: got %v, want 7", m.Fingerprint.ContentWeights["p"])
	}
	if len(m.HistoryLog) != 1 || m.HistoryLog[0].ChangeType != "CHANGE" {
		t.Errorf("HistoryLog: got %+v", m.HistoryLog)
	}
	if m.Config == nil || m.Config.CheckInterval != 120 {
		t.Errorf("Config: got %+v", m.Config)
	}
}

func TestWrite_StampsSchemaAndUpdatedAt(t *testing.T) {
	st := openTestStore(t)

	if err := st.Write(context.Background(), State{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc["schema_version"] != SchemaVersion {
		t.Errorf("schema_version: got %v", doc["schema_version"])
	}
	updated, _ := doc["updated_at"].(string)
	if _, err := time.Parse(time.RFC3339Nano, updated); err != nil {
		t.Errorf("updated_at %q is not canonical: %v", updated, err)
	}
}

func TestWrite_NormalizesTimestamps(t *testing.T) {
	st := openTestStore(t)

	mon := NewMonitor("https://example.com")
	mon.Metadata.CreatedAt = "2024-01-02 03:04:05"

	state := State{"7": {UserConfig: DefaultWatchConfig(), Monitors: []*Monitor{mon}}}
	if err := st.Write(context.Background(), state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "2024-01-02T03:04:05Z") {
		t.Errorf("naive created_at not canonicalized:\n%s", raw)
	}
}

func TestWrite_ConcurrentCallersSerialized(t *testing.T) {
	st := openTestStore(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			mon := NewMonitor("https://example.com")
			state := State{"1": {UserConfig: DefaultWatchConfig(), Monitors: []*Monitor{mon}}}
			errs[n] = st.Write(context.Background(), state)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("writer %d: %v", i, err)
		}
	}

	// The final file must be a complete, parseable document.
	if _, err := st.Load(); err != nil {
		t.Fatalf("Load after concurrent writes: %v", err)
	}
}

func TestWrite_InsufficientStorage(t *testing.T) {
	st := openTestStore(t, WithMinFreeMB(1<<30))

	err := st.Write(context.Background(), State{})
	if !errors.Is(err, ErrInsufficientStorage) {
		t.Fatalf("got %v, want ErrInsufficientStorage", err)
	}
}

func TestWrite_LeftoverTmpIgnoredByLoad(t *testing.T) {
	st := openTestStore(t)

	state := State{"9": {UserConfig: DefaultWatchConfig(), Monitors: []*Monitor{NewMonitor("https://a.test")}}}
	if err := st.Write(context.Background(), state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Simulate a crash that left a partial temp file behind.
	if err := os.WriteFile(st.Path()+".tmp", []byte(`{"schema_version":"2.0","da`), 0o600); err != nil {
		t.Fatalf("seed tmp: %v", err)
	}

	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load with leftover tmp: %v", err)
	}
	if _, ok := got["9"]; !ok {
		t.Error("last committed document lost")
	}
}

func TestRotateBackups_PrunesBeyondLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")
	st := openTestStoreAt(t, path, WithBackupCount(3))

	// Seed stale backups with staggered mtimes.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		name := path + ".backup_2024010" + string(rune('1'+i)) + "_000000"
		if err := os.WriteFile(name, []byte("{}"), 0o600); err != nil {
			t.Fatalf("seed backup: %v", err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(name, mt, mt); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	if err := st.Write(context.Background(), State{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matches, err := filepath.Glob(path + ".backup_*")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) > 3 {
		t.Errorf("backups after rotation: got %d, want <= 3: %v", len(matches), matches)
	}

	// The oldest seeded backup must be among the pruned.
	for _, m := range matches {
		if strings.HasSuffix(m, "20240101_000000") {
			t.Errorf("oldest backup survived pruning: %v", matches)
		}
	}
}

func TestRun_DrainsQueueOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx) }()

	if err := st.Write(context.Background(), State{"5": NewUserData()}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got["5"]; !ok {
		t.Error("write lost on shutdown")
	}
}

func TestWrite_ObserverSeesLatency(t *testing.T) {
	var mu sync.Mutex
	var calls int
	var lastErr error

	obs := func(d time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		lastErr = err
		if d < 0 {
			t.Errorf("negative duration %v", d)
		}
	}

	st := openTestStore(t, WithWriteObserver(obs))
	if err := st.Write(context.Background(), State{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("observer calls: got %d, want 1", calls)
	}
	if lastErr != nil {
		t.Errorf("observer error: %v", lastErr)
	}
}
