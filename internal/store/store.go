package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SchemaVersion is the current store document schema.
const SchemaVersion = "2.0"

// Default operational limits. Overridable through Options.
const (
	DefaultBackupCount = 5
	DefaultMinFreeMB   = 10
)

// ErrInsufficientStorage is returned by Write when free disk space is
// below the configured threshold. The write is refused before touching
// the queue.
var ErrInsufficientStorage = errors.New("store: insufficient storage")

// State is the full in-memory document: chat id to user data.
type State = map[string]*UserData

// envelope is the on-disk document wrapper.
type envelope struct {
	SchemaVersion string          `json:"schema_version"`
	UpdatedAt     string          `json:"updated_at,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// writeOp carries one queued write and its completion signal.
type writeOp struct {
	state State
	done  chan error
}

// WriteObserver is called after every attempted write with its duration
// and outcome. Wired to the metrics collector by the daemon.
type WriteObserver func(d time.Duration, err error)

// Option configures a Store.
type Option func(*Store)

// WithBackupCount overrides the number of rolling backups retained.
func WithBackupCount(n int) Option {
	return func(s *Store) { s.backupCount = n }
}

// WithMinFreeMB overrides the free-disk threshold for the write
// pre-flight check.
func WithMinFreeMB(mb int) Option {
	return func(s *Store) { s.minFreeMB = mb }
}

// WithWriteObserver registers a callback observing write latency.
func WithWriteObserver(fn WriteObserver) Option {
	return func(s *Store) { s.observer = fn }
}

// Store persists the whole monitor document as a single JSON file with
// atomic replacement semantics. All writes funnel through one background
// worker; callers block until their write commits or fails.
type Store struct {
	path        string
	backupCount int
	minFreeMB   int
	observer    WriteObserver

	queue chan writeOp
}

// Open creates a Store backed by the JSON document at path. The parent
// directory is created if needed, and a fresh empty document is written
// when none exists. The write worker is not started; call Run.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
	}

	s := &Store{
		path:        path,
		backupCount: DefaultBackupCount,
		minFreeMB:   DefaultMinFreeMB,
		queue:       make(chan writeOp, 64),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.initEmpty(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// initEmpty writes a fresh document with the current schema and no data.
func (s *Store) initEmpty() error {
	doc := map[string]any{
		"schema_version": SchemaVersion,
		"data":           map[string]any{},
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("store: marshal empty document: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store: initialize %s: %w", s.path, err)
	}
	return nil
}

// Path returns the filesystem path of the document.
func (s *Store) Path() string {
	return s.path
}

// Run drains the write queue until ctx is cancelled. Queued writes present
// at cancellation are still committed so no caller is left hanging.
func (s *Store) Run(ctx context.Context) error {
	log.Info().Str("path", s.path).Msg("store: write worker started")
	for {
		select {
		case op := <-s.queue:
			op.done <- s.perform(op.state)
		case <-ctx.Done():
			// Drain anything already queued, then stop.
			for {
				select {
				case op := <-s.queue:
					op.done <- s.perform(op.state)
				default:
					log.Info().Msg("store: write worker stopped")
					return ctx.Err()
				}
			}
		}
	}
}

// Load reads the document from disk and returns the data payload, running
// the migration pipeline for pre-2.0 shapes. A missing file yields an
// empty state.
func (s *Store) Load() (State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", s.path, err)
	}

	payload := env.Data
	if len(payload) == 0 {
		// Pre-2.0 files carried the data map at the top level with no
		// envelope. The whole file is the payload.
		payload = raw
	} else if env.SchemaVersion != "" && env.SchemaVersion != SchemaVersion {
		log.Info().
			Str("found", env.SchemaVersion).
			Str("expected", SchemaVersion).
			Msg("store: schema mismatch, migrating on load")
	}

	state, err := migrate(payload)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Write enqueues an atomic write of state and blocks until it commits or
// fails. The pre-flight disk check runs before enqueueing.
func (s *Store) Write(ctx context.Context, state State) error {
	free, err := FreeMB(filepath.Dir(s.path))
	if err != nil {
		log.Warn().Err(err).Msg("store: disk space check failed, proceeding")
	} else if free < int64(s.minFreeMB) {
		return fmt.Errorf("%w: available disk space is below %dMB", ErrInsufficientStorage, s.minFreeMB)
	}

	op := writeOp{state: state, done: make(chan error, 1)}
	select {
	case s.queue <- op:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// perform executes the atomic write sequence: backup rotation, envelope
// wrapping, timestamp normalization, tmp-fsync-rename.
func (s *Store) perform(state State) error {
	start := time.Now()
	err := s.writeAtomic(state)
	if s.observer != nil {
		s.observer(time.Since(start), err)
	}
	if err != nil {
		log.Error().Err(err).Msg("store: write failed")
	}
	return err
}

func (s *Store) writeAtomic(state State) error {
	payload := map[string]any{
		"schema_version": SchemaVersion,
		"updated_at":     NowStamp(),
		"data":           state,
	}

	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return fmt.Errorf("store: marshal document: %w", err)
	}

	// Canonicalize every timestamp-like field before it hits disk.
	data, err = normalizeDocument(data)
	if err != nil {
		return fmt.Errorf("store: normalize timestamps: %w", err)
	}

	s.rotateBackups()

	tmp := s.path + ".tmp"
	if err := s.writeTmp(tmp, data); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}

// writeTmp writes data to path and forces it to durable storage.
func (s *Store) writeTmp(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("store: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	return nil
}

// rotateBackups snapshots the current document and prunes old backups
// beyond the retention count. Backup failures are logged, never fatal.
func (s *Store) rotateBackups() {
	if _, err := os.Stat(s.path); err != nil {
		return
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	backup := fmt.Sprintf("%s.backup_%s", s.path, stamp)

	if err := copyFile(s.path, backup); err != nil {
		log.Error().Err(err).Msg("store: backup failed")
		return
	}

	pattern := filepath.Base(s.path) + ".backup_*"
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.path), pattern))
	if err != nil {
		return
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return strings.Compare(matches[i], matches[j]) < 0
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	for len(matches) > s.backupCount {
		oldest := matches[0]
		matches = matches[1:]
		if err := os.Remove(oldest); err != nil {
			log.Error().Err(err).Str("backup", oldest).Msg("store: prune backup failed")
		}
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
