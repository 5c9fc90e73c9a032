package metrics

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allaspectsdev/webdog/internal/store"
)

// dbRingSize is how many recent store write latencies the collector keeps
// for the rolling average.
const dbRingSize = 1000

// bucketWindow is how far back hourly request buckets are retained.
const bucketWindow = 24 * time.Hour

// diskAlertMB is the free-space floor below which the health report raises
// a disk alert.
const diskAlertMB = 500

// bucket aggregates fetch outcomes for one hour of the rolling window.
type bucket struct {
	success int64
	fail    int64
	count   int64
}

// Collector tracks live health metrics for the whole process: fetch
// latencies and outcomes bucketed over a rolling 24 hour window, store
// write latencies, and patrol worker saturation. Scalar counters use
// atomics for lock-free updates; the bucket map and the latency ring are
// guarded by a mutex.
type Collector struct {
	totalRequests int64

	// Float64 latency sum stored as uint64 via math.Float64bits.
	totalLatencySec uint64

	activeWorkers int64
	totalWorkers  int64

	mu          sync.Mutex
	buckets     map[int64]*bucket
	dbLatencies []float64
	dbIndex     int

	dataDir   string
	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's lifetime counters,
// suitable for JSON serialisation and display on the dashboard.
type Stats struct {
	Uptime          string  `json:"uptime"`
	TotalRequests   int64   `json:"total_requests"`
	AvgLatencySec   float64 `json:"avg_latency_sec"`
	DBWritesSampled int     `json:"db_writes_sampled"`
	ActiveWorkers   int64   `json:"active_workers"`
	TotalWorkers    int64   `json:"total_workers"`
}

// PerformanceStats is the performance block of the health report.
type PerformanceStats struct {
	AvgRequestLatencySec float64 `json:"avg_request_latency_sec"`
	AvgDBWriteLatencySec float64 `json:"avg_db_write_latency_sec"`
	SuccessRate24h       float64 `json:"success_rate_24h_percent"`
	TotalRequests24h     int64   `json:"total_requests_24h"`
}

// WorkerStats is the worker saturation block of the health report.
type WorkerStats struct {
	Active            int64   `json:"active"`
	Total             int64   `json:"total"`
	SaturationPercent float64 `json:"saturation_percent"`
}

// SystemStats is the host resource block of the health report.
type SystemStats struct {
	DiskFreeMB int64 `json:"disk_free_mb"`
}

// SystemStatus is the full health report served by the dashboard and the
// health command.
type SystemStatus struct {
	Timestamp     string           `json:"timestamp"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Performance   PerformanceStats `json:"performance"`
	Workers       WorkerStats      `json:"workers"`
	System        SystemStats      `json:"system"`
	Alerts        []string         `json:"alerts"`
}

// NewCollector creates a Collector with all counters at zero and the start
// time set to now. Free disk space is measured against dataDir.
func NewCollector(dataDir string) *Collector {
	if dataDir == "" {
		dataDir = "."
	}
	return &Collector{
		buckets:   make(map[int64]*bucket),
		dataDir:   dataDir,
		startTime: time.Now(),
	}
}

// RecordRequest records one outbound fetch outcome. The latency feeds the
// global average; the outcome lands in the current hour bucket. Buckets
// older than the 24 hour window are pruned on every record so the map
// never grows past 25 entries.
func (c *Collector) RecordRequest(latency time.Duration, ok bool) {
	atomic.AddInt64(&c.totalRequests, 1)
	addFloat64(&c.totalLatencySec, latency.Seconds())

	now := time.Now()
	hour := now.Unix() / 3600 * 3600
	cutoff := now.Add(-bucketWindow).Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	for ts := range c.buckets {
		if ts < cutoff {
			delete(c.buckets, ts)
		}
	}

	b := c.buckets[hour]
	if b == nil {
		b = &bucket{}
		c.buckets[hour] = b
	}
	b.count++
	if ok {
		b.success++
	} else {
		b.fail++
	}
}

// RecordDBOperation records one store write latency into the ring. Once
// the ring is full the oldest sample is overwritten.
func (c *Collector) RecordDBOperation(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec := d.Seconds()
	if len(c.dbLatencies) < dbRingSize {
		c.dbLatencies = append(c.dbLatencies, sec)
		return
	}
	c.dbLatencies[c.dbIndex] = sec
	c.dbIndex = (c.dbIndex + 1) % dbRingSize
}

// UpdateWorkerStats replaces the current patrol worker saturation numbers.
func (c *Collector) UpdateWorkerStats(active, total int) {
	atomic.StoreInt64(&c.activeWorkers, int64(active))
	atomic.StoreInt64(&c.totalWorkers, int64(total))
}

// Stats returns the lifetime counter snapshot.
func (c *Collector) Stats() *Stats {
	reqCount := atomic.LoadInt64(&c.totalRequests)
	var avg float64
	if reqCount > 0 {
		avg = loadFloat64(&c.totalLatencySec) / float64(reqCount)
	}

	c.mu.Lock()
	sampled := len(c.dbLatencies)
	c.mu.Unlock()

	return &Stats{
		Uptime:          formatDuration(time.Since(c.startTime)),
		TotalRequests:   reqCount,
		AvgLatencySec:   round3(avg),
		DBWritesSampled: sampled,
		ActiveWorkers:   atomic.LoadInt64(&c.activeWorkers),
		TotalWorkers:    atomic.LoadInt64(&c.totalWorkers),
	}
}

// SystemStatus builds the health report. The success rate defaults to 100
// when the window holds no traffic, and the success-rate alert only fires
// once the window carries more than 10 requests, so a single failed probe
// after a quiet night does not page anyone.
func (c *Collector) SystemStatus() *SystemStatus {
	c.mu.Lock()
	var total24, success24 int64
	for _, b := range c.buckets {
		total24 += b.count
		success24 += b.success
	}
	var dbSum float64
	for _, v := range c.dbLatencies {
		dbSum += v
	}
	dbCount := len(c.dbLatencies)
	c.mu.Unlock()

	successRate := 100.0
	if total24 > 0 {
		successRate = float64(success24) / float64(total24) * 100
	}

	reqCount := atomic.LoadInt64(&c.totalRequests)
	var avgLatency float64
	if reqCount > 0 {
		avgLatency = loadFloat64(&c.totalLatencySec) / float64(reqCount)
	}

	var avgDB float64
	if dbCount > 0 {
		avgDB = dbSum / float64(dbCount)
	}

	freeMB, err := store.FreeMB(c.dataDir)
	if err != nil {
		freeMB = 0
	}

	active := atomic.LoadInt64(&c.activeWorkers)
	total := atomic.LoadInt64(&c.totalWorkers)
	var saturation float64
	if total > 0 {
		saturation = float64(active) / float64(total) * 100
	}

	alerts := []string{}
	if successRate < 80.0 && total24 > 10 {
		alerts = append(alerts, "CRITICAL: Success rate below 80%")
	}
	if freeMB < diskAlertMB {
		alerts = append(alerts, "CRITICAL: Low Disk Space")
	}

	return &SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Performance: PerformanceStats{
			AvgRequestLatencySec: round3(avgLatency),
			AvgDBWriteLatencySec: round3(avgDB),
			SuccessRate24h:       round2(successRate),
			TotalRequests24h:     total24,
		},
		Workers: WorkerStats{
			Active:            active,
			Total:             total,
			SaturationPercent: round1(saturation),
		},
		System: SystemStats{DiskFreeMB: freeMB},
		Alerts: alerts,
	}
}

// addFloat64 atomically adds delta to the float64 stored in addr using a CAS loop.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// loadFloat64 atomically loads a float64 stored in addr.
func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

// formatDuration produces a human-readable duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}
