// Package testutil provides store helpers shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/webdog/internal/store"
)

// NewTestStore opens a throwaway store rooted in a temp dir and starts its
// write worker. The worker is stopped and drained when the test finishes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return st
}

// SeedState writes a state holding one user with a default-config monitor
// per url, and returns it for further mutation.
func SeedState(t *testing.T, st *store.Store, userID string, urls ...string) store.State {
	t.Helper()

	user := &store.UserData{UserConfig: store.DefaultWatchConfig()}
	for _, u := range urls {
		user.Monitors = append(user.Monitors, store.NewMonitor(u))
	}
	state := store.State{userID: user}
	if err := st.Write(context.Background(), state); err != nil {
		t.Fatalf("store.Write: %v", err)
	}
	return state
}
