// Package fetch is the central gateway for all outbound page retrievals.
// It collapses concurrent fetches of the same page into one network call,
// serves recently fetched pages from a short-lived cache, honors robots.txt,
// and fences off hosts that keep failing behind a per-URL circuit breaker.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/config"
)

// defaultCacheSize bounds the response cache; entries expire by TTL long
// before the LRU limit matters under normal monitor counts.
const defaultCacheSize = 512

// errRobotsBlocked is the fetch error reported when robots.txt disallows
// the target path. Robots blocks never count against the circuit breaker.
const errRobotsBlocked = "Blocked by Robots.txt"

// Result is the outcome of a fetch. Errors are carried as data rather than
// as an error value so a single result can be shared by every coalesced
// caller and cached as-is.
type Result struct {
	URL        string
	Content    string
	StatusCode int
	Error      string
	Timestamp  time.Time
}

// OK reports whether the fetch produced a usable body.
func (r *Result) OK() bool {
	return r.Error == "" && r.Content != ""
}

// Recorder receives one observation per request outcome. The metrics
// collector implements it; a nil Recorder disables recording.
type Recorder interface {
	RecordRequest(latency time.Duration, ok bool)
}

// Config holds the manager tunables. Zero values fall back to the
// production defaults in NewManager, except the jitter window where
// zero means no delay.
type Config struct {
	HardTimeout      time.Duration
	CacheTTL         time.Duration
	JitterMin        float64
	JitterMax        float64
	RobotsTimeout    time.Duration
	VerifyTLS        bool
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// FromConfig maps the application fetch and breaker settings onto a
// manager Config.
func FromConfig(app *config.Config) Config {
	return Config{
		HardTimeout:      app.Fetch.HardTimeout(),
		CacheTTL:         time.Duration(app.Fetch.CacheTTLSeconds) * time.Second,
		JitterMin:        app.Fetch.JitterMinSeconds,
		JitterMax:        app.Fetch.JitterMaxSeconds,
		RobotsTimeout:    time.Duration(app.Fetch.RobotsTimeoutSecs) * time.Second,
		VerifyTLS:        app.Fetch.VerifyTLS,
		FailureThreshold: app.Breaker.FailureThreshold,
		RecoveryTimeout:  app.Breaker.RecoveryTimeout(),
	}
}

type inflightCall struct {
	done   chan struct{}
	result *Result
}

// Manager coordinates every outbound GET. It is safe for concurrent use.
type Manager struct {
	client   *http.Client
	cache    *responseCache
	robots   *robotsCache
	breakers *BreakerRegistry
	recorder Recorder

	hardTimeout time.Duration
	jitterMin   float64
	jitterMax   float64

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// NewManager creates a Manager with a pooled HTTP client. rec may be nil.
func NewManager(cfg Config, rec Recorder) (*Manager, error) {
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = 15 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.RobotsTimeout <= 0 {
		cfg.RobotsTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = time.Hour
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// Verification can be switched off so pages behind broken
		// certificate chains stay watchable.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}

	cache, err := newResponseCache(defaultCacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("fetch: creating response cache: %w", err)
	}

	client := &http.Client{Transport: transport}

	return &Manager{
		client:      client,
		cache:       cache,
		robots:      newRobotsCache(client, cfg.RobotsTimeout),
		breakers:    NewBreakerRegistry(cfg.FailureThreshold, cfg.RecoveryTimeout),
		recorder:    rec,
		hardTimeout: cfg.HardTimeout,
		jitterMin:   cfg.JitterMin,
		jitterMax:   cfg.JitterMax,
		inflight:    make(map[string]*inflightCall),
	}, nil
}

// Fetch retrieves url subject to jitter, circuit breaking, caching, and
// in-flight coalescing. It always returns a non-nil Result; failures are
// reported in Result.Error.
func (m *Manager) Fetch(ctx context.Context, rawURL string) *Result {
	key := NormalizeURL(rawURL)

	if err := m.jitter(ctx); err != nil {
		return errorResult(rawURL, fmt.Sprintf("Fetch failed: %v", err))
	}

	cb := m.breakers.Get(key)
	if !cb.Allow() {
		m.record(0, false)
		return errorResult(rawURL, "circuit open")
	}

	if res, ok := m.cache.Get(key); ok {
		log.Debug().Str("url", key).Msg("cache hit")
		m.record(0, true)
		return res
	}

	// Coalesce with an in-flight fetch for the same key if one exists.
	m.mu.Lock()
	if call, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		log.Debug().Str("url", key).Msg("collapsing into active fetch")
		select {
		case <-call.done:
			return call.result
		case <-ctx.Done():
			return errorResult(rawURL, fmt.Sprintf("Fetch failed: %v", ctx.Err()))
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	m.inflight[key] = call
	m.mu.Unlock()

	start := time.Now()
	res, finished := m.doFetch(ctx, rawURL)
	m.recordCircuit(cb, res)
	m.record(time.Since(start), res.Error == "")

	// Timed-out and cancelled fetches are delivered to waiters but not
	// cached; the next check gets a fresh attempt.
	if finished {
		m.cache.Add(key, res)
	}
	call.result = res
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()

	return res
}

// doFetch runs the network call under the hard deadline. The deadline is
// enforced here, outside the HTTP client, so a stalled transfer cannot
// hold a patrol cycle hostage. The second return reports whether the call
// ran to completion; abandoned calls produce synthetic results.
func (m *Manager) doFetch(ctx context.Context, rawURL string) (*Result, bool) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan *Result, 1)
	go func() { ch <- m.execute(reqCtx, rawURL) }()

	timer := time.NewTimer(m.hardTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, true
	case <-timer.C:
		cancel()
		log.Error().Str("url", rawURL).Dur("timeout", m.hardTimeout).Msg("fetch exceeded hard timeout")
		return errorResult(rawURL, fmt.Sprintf("Hard Timeout (%.1fs) exceeded for %s", m.hardTimeout.Seconds(), rawURL)), false
	case <-ctx.Done():
		cancel()
		return errorResult(rawURL, fmt.Sprintf("Fetch failed: %v", ctx.Err())), false
	}
}

// execute performs the physical network call with stealth headers.
func (m *Manager) execute(ctx context.Context, rawURL string) *Result {
	target, err := url.Parse(rawURL)
	if err != nil {
		return errorResult(rawURL, fmt.Sprintf("Fetch failed: %v", err))
	}

	if !m.robots.Allowed(ctx, target) {
		return errorResult(rawURL, errRobotsBlocked)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errorResult(rawURL, fmt.Sprintf("Fetch failed: %v", err))
	}
	req.Header = StealthHeaders()

	log.Debug().Str("url", rawURL).Msg("network call")
	resp, err := m.client.Do(req)
	if err != nil {
		return errorResult(rawURL, fmt.Sprintf("Fetch failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(rawURL, fmt.Sprintf("Fetch failed: %v", err))
	}

	return &Result{
		URL:        rawURL,
		Content:    string(body),
		StatusCode: resp.StatusCode,
		Timestamp:  time.Now(),
	}
}

// recordCircuit translates a fetch outcome into a circuit breaker event.
// Server errors and 429 count as failures; robots blocks are neutral.
func (m *Manager) recordCircuit(cb *CircuitBreaker, res *Result) {
	if res.Error == errRobotsBlocked {
		return
	}
	if res.Error != "" || res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

// jitter sleeps a uniform random duration inside the configured window so
// repeated checks do not hit the target at a fixed cadence.
func (m *Manager) jitter(ctx context.Context) error {
	if m.jitterMax <= 0 {
		return nil
	}
	delay := m.jitterMin + rand.Float64()*(m.jitterMax-m.jitterMin)
	return sleepWithContext(ctx, time.Duration(delay*float64(time.Second)))
}

// BreakerState returns the circuit state label for the given URL, as
// recorded in monitor metadata.
func (m *Manager) BreakerState(rawURL string) string {
	return m.breakers.Get(NormalizeURL(rawURL)).State().String()
}

// PurgeCaches evicts expired response cache entries. Intended to be called
// from the periodic cleanup tick.
func (m *Manager) PurgeCaches() {
	m.cache.Purge()
}

// Close releases pooled connections. In-flight requests are cancelled by
// their contexts, not by Close.
func (m *Manager) Close() {
	m.client.CloseIdleConnections()
}

func (m *Manager) record(latency time.Duration, ok bool) {
	if m.recorder != nil {
		m.recorder.RecordRequest(latency, ok)
	}
}

func errorResult(rawURL, msg string) *Result {
	return &Result{URL: rawURL, StatusCode: 0, Error: msg, Timestamp: time.Now()}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
