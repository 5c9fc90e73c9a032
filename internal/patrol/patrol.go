// Package patrol drives the periodic monitor walk. Each cycle loads the
// store document, fetches every due monitor under the outbound rate
// budget, compares the page against its stored baseline, dispatches
// alerts for meaningful drift, and persists all mutations in a single
// atomic write. A parallel cleanup job removes stale export files and
// flushes the fetch caches.
package patrol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/alert"
	"github.com/allaspectsdev/webdog/internal/config"
	"github.com/allaspectsdev/webdog/internal/diffdetect"
	"github.com/allaspectsdev/webdog/internal/fetch"
	"github.com/allaspectsdev/webdog/internal/fingerprint"
	"github.com/allaspectsdev/webdog/internal/governor"
	"github.com/allaspectsdev/webdog/internal/history"
	"github.com/allaspectsdev/webdog/internal/metrics"
	"github.com/allaspectsdev/webdog/internal/similarity"
	"github.com/allaspectsdev/webdog/internal/store"
	"github.com/allaspectsdev/webdog/internal/tracing"
)

// Notifier delivers user-visible messages produced by the patrol. Both
// methods must be non-blocking; the bot satisfies this by enqueueing on
// the alert throttler.
type Notifier interface {
	NotifyChange(userID, url string, score float64, classification, diff string)
	NotifyRateLimited(userID, url string)
}

// Config holds the scheduler tunables. Zero values fall back to the
// production defaults in New.
type Config struct {
	Interval         time.Duration
	InitialDelay     time.Duration
	CleanupEvery     time.Duration
	ExportMaxAge     time.Duration
	RateLimitStrikes int
}

// FromConfig maps the application patrol settings onto a scheduler
// Config.
func FromConfig(app *config.Config) Config {
	return Config{
		Interval:         time.Duration(app.Patrol.IntervalSeconds) * time.Second,
		InitialDelay:     time.Duration(app.Patrol.InitialDelaySeconds) * time.Second,
		CleanupEvery:     time.Duration(app.Patrol.CleanupIntervalMins) * time.Minute,
		ExportMaxAge:     time.Duration(app.Patrol.ExportMaxAgeMins) * time.Minute,
		RateLimitStrikes: app.Patrol.RateLimitStrikeNotice,
	}
}

// Deps are the collaborators a Patrol needs. Notifier and Collector may
// be nil: without a notifier changes are logged instead of delivered, and
// without a collector no saturation stats are reported.
type Deps struct {
	Store     *store.Store
	Fetcher   *fetch.Manager
	Generator *fingerprint.Generator
	Engine    *similarity.Engine
	Detector  *diffdetect.Detector
	History   *history.Manager
	Throttler *alert.Throttler
	Governor  *governor.Governor
	Collector *metrics.Collector
	Notifier  Notifier
}

// Patrol is the monitor check scheduler. Create one with New and start it
// with Run.
type Patrol struct {
	cfg  Config
	deps Deps
}

// cycleStats tallies one sweep for the cycle log line and span.
type cycleStats struct {
	checked int
	changed int
	failed  int
}

// New creates a Patrol. Zero config values are replaced with the
// production defaults: 60 s interval, hourly cleanup of exports older
// than an hour, rate-limit notice after 3 strikes. A zero initial delay
// means the first cycle runs immediately.
func New(cfg Config, deps Deps) *Patrol {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = time.Hour
	}
	if cfg.ExportMaxAge <= 0 {
		cfg.ExportMaxAge = time.Hour
	}
	if cfg.RateLimitStrikes <= 0 {
		cfg.RateLimitStrikes = 3
	}
	return &Patrol{cfg: cfg, deps: deps}
}

// Run executes patrol cycles until ctx is cancelled. The first cycle
// starts after the initial delay so the process finishes wiring before
// outbound traffic begins; cleanup runs on its own slower ticker.
func (p *Patrol) Run(ctx context.Context) error {
	if p.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.InitialDelay):
		}
	}

	log.Info().
		Dur("interval", p.cfg.Interval).
		Dur("cleanup_every", p.cfg.CleanupEvery).
		Msg("patrol started")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(p.cfg.CleanupEvery)
	defer cleanup.Stop()

	p.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("patrol stopped")
			return ctx.Err()
		case <-ticker.C:
			p.runCycle(ctx)
		case <-cleanup.C:
			p.runCleanup()
		}
	}
}

// runCycle executes one sweep over every user and monitor. All mutations
// made during the sweep land in at most one store write at the end; a
// failed write is logged and retried implicitly by the next cycle.
func (p *Patrol) runCycle(ctx context.Context) {
	if p.deps.Throttler != nil && p.deps.Throttler.Congested() {
		log.Warn().
			Int("queue_depth", p.deps.Throttler.Depth()).
			Msg("alert queue congested, skipping patrol cycle")
		return
	}

	cycleID := uuid.New().String()
	logger := log.With().Str("cycle_id", cycleID).Logger()

	ctx, span := tracing.StartCycleSpan(ctx, cycleID)
	defer span.End()

	if p.deps.Collector != nil {
		p.deps.Collector.UpdateWorkerStats(1, 1)
		defer p.deps.Collector.UpdateWorkerStats(0, 1)
	}

	state, err := p.deps.Store.Load()
	if err != nil {
		logger.Error().Err(err).Msg("cannot load store, cycle skipped")
		tracing.RecordError(ctx, err)
		return
	}

	start := time.Now()
	var stats cycleStats
	dirty := p.walk(ctx, logger, state, &stats)

	if dirty {
		wctx, wspan := tracing.StartStoreSpan(ctx)
		err := p.deps.Store.Write(wctx, state)
		wspan.End()
		if err != nil {
			logger.Error().Err(err).Msg("state write failed, retrying next cycle")
			tracing.RecordError(ctx, err)
		}
	}

	tracing.SetCycleStats(ctx, stats.checked, stats.changed, stats.failed, dirty)

	evt := logger.Debug()
	if stats.checked > 0 || dirty {
		evt = logger.Info()
	}
	evt.Int("checked", stats.checked).
		Int("changed", stats.changed).
		Int("failed", stats.failed).
		Bool("dirty", dirty).
		Dur("elapsed", time.Since(start)).
		Msg("patrol cycle complete")
}

// walk visits every monitor and reports whether any of them mutated the
// document. Users are visited in sorted key order so fetch order is
// stable across cycles; monitors keep their list order. The walk stops
// early when the context dies, leaving whatever already mutated to be
// written.
func (p *Patrol) walk(ctx context.Context, logger zerolog.Logger, state store.State, stats *cycleStats) bool {
	userIDs := make([]string, 0, len(state))
	for id := range state {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	dirty := false
	for _, userID := range userIDs {
		user := state[userID]
		for _, mon := range user.Monitors {
			if ctx.Err() != nil {
				return dirty
			}
			mutated, err := p.safeCheck(ctx, logger, userID, user, mon, stats)
			if mutated {
				dirty = true
			}
			if err != nil {
				logger.Warn().Err(err).Msg("monitor walk stopped early")
				return dirty
			}
		}
	}
	return dirty
}

// safeCheck runs one monitor check behind a recover so a panicking check
// cannot take down the scheduler. Counters touched before the panic still
// reach the store.
func (p *Patrol) safeCheck(ctx context.Context, logger zerolog.Logger, userID string, user *store.UserData, mon *store.Monitor, stats *cycleStats) (mutated bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("url", mon.URL).
				Interface("panic", r).
				Msg("monitor check: recovered from panic")
			mutated = true
		}
	}()
	return p.checkMonitor(ctx, logger, userID, user, mon, stats)
}

// checkMonitor runs the full detection pipeline for one monitor. It
// returns whether the monitor mutated, and a non-nil error only when the
// cycle itself should stop (the context died waiting for a web token).
func (p *Patrol) checkMonitor(ctx context.Context, logger zerolog.Logger, userID string, user *store.UserData, mon *store.Monitor, stats *cycleStats) (bool, error) {
	ctx, span := tracing.StartMonitorSpan(ctx, userID, mon.URL)
	defer span.End()

	cfg := mon.EffectiveConfig(user.UserConfig)
	dirty := false

	if mon.Metadata.SnoozeUntil != "" {
		until, err := time.Parse(time.RFC3339Nano, mon.Metadata.SnoozeUntil)
		if err == nil && time.Now().UTC().Before(until) {
			tracing.SetMonitorOutcome(ctx, "skipped")
			return false, nil
		}
		// Expired or unreadable snoozes are cleared so the monitor
		// resumes on this cycle.
		mon.Metadata.SnoozeUntil = ""
		dirty = true
		logger.Debug().Str("url", mon.URL).Msg("snooze expired, resuming checks")
	}

	if mon.Metadata.LastCheck != "" {
		last, err := time.Parse(time.RFC3339Nano, mon.Metadata.LastCheck)
		if err == nil && time.Since(last) < time.Duration(cfg.CheckInterval)*time.Second {
			tracing.SetMonitorOutcome(ctx, "skipped")
			return dirty, nil
		}
	}

	if err := p.deps.Governor.AcquireWeb(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return dirty, fmt.Errorf("patrol: acquiring web token: %w", err)
	}

	fctx, fspan := tracing.StartFetchSpan(ctx, mon.URL)
	res := p.deps.Fetcher.Fetch(fctx, mon.URL)
	tracing.SetFetchResult(fctx, res.StatusCode, len(res.Content), res.Error)
	fspan.End()

	stats.checked++
	mon.Metadata.CheckCount++
	mon.Metadata.CircuitBreakerState = p.deps.Fetcher.BreakerState(mon.URL)

	if res.StatusCode == http.StatusTooManyRequests {
		mon.Metadata.RateLimitCount++
		logger.Warn().
			Str("url", mon.URL).
			Int("strikes", mon.Metadata.RateLimitCount).
			Msg("target answered 429")
		if mon.Metadata.RateLimitCount >= p.cfg.RateLimitStrikes {
			p.notifyRateLimited(userID, mon.URL)
			mon.Metadata.RateLimitCount = 0
		}
		stats.failed++
		tracing.SetMonitorOutcome(ctx, "rate_limited")
		return true, nil
	}
	mon.Metadata.RateLimitCount = 0

	if !res.OK() {
		mon.Metadata.FailureCount++
		stats.failed++
		logger.Warn().Str("url", mon.URL).Str("error", res.Error).Msg("fetch failed")
		tracing.SetMonitorOutcome(ctx, "failed")
		return true, nil
	}

	fp, err := p.deps.Generator.Generate(res.Content)
	if err != nil {
		// A block page means the site is up but serving us a
		// challenge; the old baseline stays so recovery needs no
		// re-watch.
		mon.Metadata.FailureCount++
		stats.failed++
		if errors.Is(err, fingerprint.ErrBlockPage) {
			logger.Warn().Str("url", mon.URL).Msg("bot protection page served, keeping baseline")
		} else {
			logger.Warn().Str("url", mon.URL).Err(err).Msg("fingerprint failed")
		}
		tracing.SetMonitorOutcome(ctx, "failed")
		return true, nil
	}

	mon.Metadata.LastCheck = store.NowStamp()

	if mon.Fingerprint == nil {
		mon.Fingerprint = fp
		if err := p.deps.Detector.RecordSnapshot(mon, res.Content, store.ChangeInitialBaseline); err != nil {
			logger.Warn().Str("url", mon.URL).Err(err).Msg("baseline snapshot failed")
		}
		p.deps.History.Add(mon, string(store.ChangeInitialBaseline), 1.0, "Baseline established")
		logger.Info().Str("url", mon.URL).Msg("baseline established")
		tracing.SetMonitorOutcome(ctx, "baseline")
		return true, nil
	}

	if mon.Fingerprint.Equal(fp) {
		tracing.SetMonitorOutcome(ctx, "unchanged")
		return true, nil
	}

	score, oldText, newText := p.scoreChange(logger, mon, fp, res.Content)
	classification := p.deps.Engine.Classify(score)

	if p.deps.Engine.ShouldAlert(score, cfg.SimilarityThreshold) {
		diff := ""
		if cfg.IncludeDiff {
			diff = p.deps.Detector.SafeDiff(oldText, newText)
		}
		p.notifyChange(userID, mon.URL, score, string(classification), diff)
		p.deps.History.Add(mon, "CHANGE", score, "Alerted")
		logger.Info().
			Str("url", mon.URL).
			Float64("score", score).
			Str("classification", string(classification)).
			Msg("change alert dispatched")
	} else {
		p.deps.History.Add(mon, "MINOR", score, "Silent Update")
		logger.Debug().
			Str("url", mon.URL).
			Float64("score", score).
			Msg("silent update, baseline advanced")
	}

	// The new body becomes the newest forensic snapshot so the next
	// comparison can run in full-text form against it.
	if err := p.deps.Detector.RecordSnapshot(mon, res.Content, classification); err != nil {
		logger.Warn().Str("url", mon.URL).Err(err).Msg("forensic snapshot failed")
	}
	mon.Fingerprint = fp
	stats.changed++
	tracing.SetMonitorOutcome(ctx, "changed")
	return true, nil
}

// scoreChange computes the drift score between the stored baseline and
// the freshly fetched body. When the newest forensic snapshot decompresses
// the full three-signal comparison runs on the recovered body; otherwise
// only the fingerprints are compared. The extracted texts are returned so
// the alert diff does not re-parse the documents.
func (p *Patrol) scoreChange(logger zerolog.Logger, mon *store.Monitor, fp *fingerprint.Fingerprint, newBody string) (float64, string, string) {
	if n := len(mon.ForensicSnapshots); n > 0 {
		oldBody, err := mon.ForensicSnapshots[n-1].Decompress()
		if err == nil {
			oldText := p.deps.Generator.ExtractText(oldBody)
			newText := p.deps.Generator.ExtractText(newBody)
			m := p.deps.Engine.Compare(oldText, newText, oldBody, newBody)
			return m.FinalScore, oldText, newText
		}
		logger.Warn().Str("url", mon.URL).Err(err).Msg("snapshot decompression failed, comparing fingerprints only")
	}
	return p.deps.Engine.CompareFingerprints(mon.Fingerprint, fp), "", ""
}

// notifyChange hands a change alert to the notifier, or logs it when
// alerting is not wired up.
func (p *Patrol) notifyChange(userID, url string, score float64, classification, diff string) {
	if p.deps.Notifier == nil {
		log.Info().
			Str("user", userID).
			Str("url", url).
			Float64("score", score).
			Str("classification", classification).
			Msg("change detected, no notifier configured")
		return
	}
	p.deps.Notifier.NotifyChange(userID, url, score, classification, diff)
}

// notifyRateLimited hands the repeated-429 notice to the notifier, or
// logs it when alerting is not wired up.
func (p *Patrol) notifyRateLimited(userID, url string) {
	if p.deps.Notifier == nil {
		log.Warn().
			Str("user", userID).
			Str("url", url).
			Msg("repeated rate limiting, no notifier configured")
		return
	}
	p.deps.Notifier.NotifyRateLimited(userID, url)
}

// runCleanup removes stale export files and drops cached fetch state. It
// runs on its own ticker so a slow filesystem walk never delays a patrol
// cycle by more than one tick.
func (p *Patrol) runCleanup() {
	removed, err := p.deps.History.CleanupExports(p.cfg.ExportMaxAge)
	if err != nil {
		log.Warn().Err(err).Msg("export cleanup failed")
	} else if removed > 0 {
		log.Info().Int("removed", removed).Msg("stale exports removed")
	}
	p.deps.Fetcher.PurgeCaches()
}
