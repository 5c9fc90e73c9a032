// Package alert provides the throttled outbound delivery queue. Every
// user-visible message funnels through a single worker that paces
// dispatches with the governor's alert bucket, so a burst of simultaneous
// page changes cannot trip the messaging platform's flood limits.
package alert

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/governor"
)

// Task is one queued outbound delivery. The throttler treats it as
// opaque: it paces the dispatch, runs the task, and logs any failure.
type Task func(ctx context.Context) error

// queueCapacity bounds the outbound queue. The patrol backs off long
// before this fills (congestion trips at a far lower depth), so reaching
// the cap means deliveries have been failing for a long while.
const queueCapacity = 512

// defaultCongestionDepth is the queue depth above which the throttler
// reports congestion and the patrol starts skipping cycles.
const defaultCongestionDepth = 50

// Throttler is a FIFO outbound queue drained by a single worker.
type Throttler struct {
	queue      chan Task
	gov        *governor.Governor
	congestion int
}

// NewThrottler creates a Throttler paced by gov's alert bucket. A
// congestionDepth of zero or less selects the default. Call Run to start
// draining.
func NewThrottler(gov *governor.Governor, congestionDepth int) *Throttler {
	if congestionDepth <= 0 {
		congestionDepth = defaultCongestionDepth
	}
	return &Throttler{
		queue:      make(chan Task, queueCapacity),
		gov:        gov,
		congestion: congestionDepth,
	}
}

// Enqueue queues a delivery without ever blocking the caller. When the
// queue is full the task is dropped and logged rather than stalling the
// patrol.
func (t *Throttler) Enqueue(task Task) {
	select {
	case t.queue <- task:
	default:
		log.Error().Int("depth", len(t.queue)).Msg("alert: queue full, dropping delivery")
	}
}

// Run drains the queue until ctx is cancelled. Each dispatch first takes
// an alert token so sends stay under the platform rate. Dispatch failures
// are logged, never propagated to the enqueuer.
func (t *Throttler) Run(ctx context.Context) error {
	log.Info().Msg("alert: throttler worker started")
	for {
		select {
		case task := <-t.queue:
			if err := t.gov.AcquireAlert(ctx); err != nil {
				log.Warn().Int("dropped", len(t.queue)+1).Msg("alert: throttler worker stopped mid-dispatch")
				return err
			}
			if err := task(ctx); err != nil {
				log.Error().Err(err).Msg("alert: delivery failed")
			}
		case <-ctx.Done():
			if n := len(t.queue); n > 0 {
				log.Warn().Int("dropped", n).Msg("alert: throttler worker stopped with deliveries queued")
			} else {
				log.Info().Msg("alert: throttler worker stopped")
			}
			return ctx.Err()
		}
	}
}

// Depth returns the number of deliveries currently queued.
func (t *Throttler) Depth() int {
	return len(t.queue)
}

// Congested reports whether the queue is backed up enough that the patrol
// should skip cycles until it drains.
func (t *Throttler) Congested() bool {
	return len(t.queue) > t.congestion
}
