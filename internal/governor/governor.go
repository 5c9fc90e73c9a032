// Package governor provides the global token buckets that pace outbound
// web requests and alert deliveries. The buckets refill continuously from
// a monotonic clock; acquirers suspend cooperatively until a token is
// available rather than spinning.
package governor

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
)

// Governor holds the process-wide token buckets. One bucket paces page
// fetches so monitored sites are not hammered, the other paces alert
// deliveries to stay under the messaging platform's flood limits.
type Governor struct {
	web   *ratelimit.Bucket
	alert *ratelimit.Bucket
}

// New creates a Governor with the given rates (tokens per second) and
// bucket capacities.
func New(webRate float64, webBurst int, alertRate float64, alertBurst int) *Governor {
	return &Governor{
		web:   ratelimit.NewBucketWithRate(webRate, int64(webBurst)),
		alert: ratelimit.NewBucketWithRate(alertRate, int64(alertBurst)),
	}
}

// AcquireWeb blocks until a web-request token is available or the context
// is cancelled. Waiters are released in the order the scheduler wakes them.
func (g *Governor) AcquireWeb(ctx context.Context) error {
	return acquire(ctx, g.web)
}

// AcquireAlert blocks until an alert-delivery token is available or the
// context is cancelled.
func (g *Governor) AcquireAlert(ctx context.Context) error {
	return acquire(ctx, g.alert)
}

// WebAvailable reports the number of web tokens immediately available.
func (g *Governor) WebAvailable() int64 {
	return g.web.Available()
}

// acquire takes one token from the bucket, sleeping out the bucket's
// indicated wait with context cancellation honored.
func acquire(ctx context.Context, b *ratelimit.Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := b.Take(1)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
