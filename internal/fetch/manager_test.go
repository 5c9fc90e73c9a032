package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordedCall struct {
	latency time.Duration
	ok      bool
}

type captureRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (c *captureRecorder) RecordRequest(latency time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{latency, ok})
}

func (c *captureRecorder) snapshot() []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedCall(nil), c.calls...)
}

func newTestManager(t *testing.T, cfg Config, rec Recorder) *Manager {
	t.Helper()
	m, err := NewManager(cfg, rec)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestFetch_CoalescesConcurrentCallers(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte("payload"))
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, Config{}, nil)
	target := srv.URL + "/api"

	results := make([]*Result, 10)
	var start, wg sync.WaitGroup
	start.Add(1)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			results[i] = m.Fetch(context.Background(), target)
		}()
	}
	start.Done()
	wg.Wait()

	for i, res := range results {
		if res.Error != "" {
			t.Fatalf("caller %d: unexpected error %q", i, res.Error)
		}
		if res.Content != "payload" || res.StatusCode != http.StatusOK {
			t.Fatalf("caller %d: got status %d content %q", i, res.StatusCode, res.Content)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("transport hits: got %d, want 1", got)
	}
}

func TestFetch_TrackingParamsShareOneFlight(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/p" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte("same page"))
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, Config{}, nil)

	var start, wg sync.WaitGroup
	start.Add(1)
	urls := []string{srv.URL + "/p?utm_source=mail", srv.URL + "/p"}
	for _, u := range urls {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			if res := m.Fetch(context.Background(), u); res.Content != "same page" {
				t.Errorf("Fetch(%q): %+v", u, res)
			}
		}()
	}
	start.Done()
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Errorf("transport hits: got %d, want 1", got)
	}
}

func TestFetch_HardTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, Config{HardTimeout: 300 * time.Millisecond}, nil)

	started := time.Now()
	res := m.Fetch(context.Background(), srv.URL+"/slow")
	elapsed := time.Since(started)

	if !strings.Contains(res.Error, "Hard Timeout") {
		t.Errorf("error: got %q, want Hard Timeout", res.Error)
	}
	if res.StatusCode != 0 {
		t.Errorf("status: got %d, want 0", res.StatusCode)
	}
	if elapsed > 2*time.Second {
		t.Errorf("fetch took %v, hard timeout did not bite", elapsed)
	}
}

func TestFetch_RobotsDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.Write([]byte("content"))
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, Config{}, nil)

	res := m.Fetch(context.Background(), srv.URL+"/private/page")
	if res.Error != "Blocked by Robots.txt" {
		t.Errorf("error: got %q", res.Error)
	}

	// Robots blocks are not circuit failures.
	if got := m.BreakerState(srv.URL + "/private/page"); got != "CLOSED" {
		t.Errorf("breaker state after robots block: got %q, want CLOSED", got)
	}

	// Paths outside the disallow rule fetch normally.
	if res := m.Fetch(context.Background(), srv.URL+"/open"); res.Error != "" || res.Content != "content" {
		t.Errorf("allowed path: %+v", res)
	}
}

func TestFetch_CacheHit(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Write([]byte("cached body"))
	}))
	t.Cleanup(srv.Close)

	rec := &captureRecorder{}
	m := newTestManager(t, Config{CacheTTL: time.Minute}, rec)
	target := srv.URL + "/page"

	first := m.Fetch(context.Background(), target)
	second := m.Fetch(context.Background(), target)

	if first.Error != "" || second.Error != "" {
		t.Fatalf("errors: %q / %q", first.Error, second.Error)
	}
	if second.Content != first.Content {
		t.Error("cache returned different content")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("transport hits: got %d, want 1", got)
	}

	calls := rec.snapshot()
	if len(calls) != 2 {
		t.Fatalf("recorded calls: got %d, want 2", len(calls))
	}
	if !calls[1].ok || calls[1].latency != 0 {
		t.Errorf("cache hit should record success at zero latency: %+v", calls[1])
	}
}

func TestFetch_CircuitOpensAndFastFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	rec := &captureRecorder{}
	m := newTestManager(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Hour}, rec)
	target := srv.URL + "/down"

	first := m.Fetch(context.Background(), target)
	if first.StatusCode != http.StatusInternalServerError {
		t.Fatalf("first fetch status: got %d", first.StatusCode)
	}
	if got := m.BreakerState(target); got != "OPEN" {
		t.Fatalf("breaker state: got %q, want OPEN", got)
	}

	// The breaker is consulted before the cache, so the open circuit wins
	// even though the first result is cached.
	second := m.Fetch(context.Background(), target)
	if second.Error != "circuit open" {
		t.Errorf("error: got %q, want circuit open", second.Error)
	}
	if second.StatusCode != 0 {
		t.Errorf("status: got %d, want 0", second.StatusCode)
	}

	calls := rec.snapshot()
	if len(calls) != 2 {
		t.Fatalf("recorded calls: got %d, want 2", len(calls))
	}
	if calls[1].ok {
		t.Error("circuit-open fast fail should record a failed request")
	}
}

func TestFetch_TransportErrorRecordsCircuitFailure(t *testing.T) {
	// Nanosecond TTL so every attempt misses the cache and reaches the wire.
	m := newTestManager(t, Config{FailureThreshold: 3, CacheTTL: time.Nanosecond}, nil)

	// Nothing listens on this port.
	target := "http://127.0.0.1:1/unreachable"

	res := m.Fetch(context.Background(), target)
	if !strings.Contains(res.Error, "Fetch failed") {
		t.Errorf("error: got %q, want Fetch failed", res.Error)
	}

	m.Fetch(context.Background(), target)
	m.Fetch(context.Background(), target)
	if got := m.BreakerState(target); got != "OPEN" {
		t.Errorf("breaker after 3 transport errors: got %q, want OPEN", got)
	}
}

func TestFetch_JitterRespectsContext(t *testing.T) {
	m := newTestManager(t, Config{JitterMin: 5, JitterMax: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	res := m.Fetch(ctx, "https://example.com/")
	if time.Since(started) > time.Second {
		t.Error("cancelled context should skip the jitter sleep")
	}
	if !strings.Contains(res.Error, "Fetch failed") {
		t.Errorf("error: got %q", res.Error)
	}
}

func TestResult_OK(t *testing.T) {
	ok := &Result{Content: "<html></html>", StatusCode: 200}
	if !ok.OK() {
		t.Error("result with body and no error should be OK")
	}
	if (&Result{Error: "circuit open"}).OK() {
		t.Error("errored result should not be OK")
	}
	if (&Result{StatusCode: 200}).OK() {
		t.Error("empty body should not be OK")
	}
}
