package metrics

import (
	"fmt"
	"net/http"
	"time"
)

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). It does not require
// the Prometheus client library; metrics are formatted manually.
func PrometheusHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := collector.Stats()
		status := collector.SystemStatus()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeMetric(w, "webdog_requests_total",
			"Total number of outbound page fetches since startup.",
			"counter", stats.TotalRequests)

		writeMetric(w, "webdog_requests_24h",
			"Number of page fetches inside the rolling 24 hour window.",
			"gauge", status.Performance.TotalRequests24h)

		writeMetricFloat(w, "webdog_success_rate_24h_percent",
			"Fetch success rate over the rolling 24 hour window.",
			"gauge", status.Performance.SuccessRate24h)

		writeMetricFloat(w, "webdog_request_latency_seconds_avg",
			"Average outbound fetch latency in seconds.",
			"gauge", status.Performance.AvgRequestLatencySec)

		writeMetricFloat(w, "webdog_store_write_latency_seconds_avg",
			"Average store write latency over the sampled ring.",
			"gauge", status.Performance.AvgDBWriteLatencySec)

		writeMetric(w, "webdog_store_writes_sampled",
			"Number of store write latencies currently in the sample ring.",
			"gauge", int64(stats.DBWritesSampled))

		writeMetric(w, "webdog_workers_active",
			"Number of busy patrol workers.",
			"gauge", status.Workers.Active)

		writeMetric(w, "webdog_workers_total",
			"Size of the patrol worker pool.",
			"gauge", status.Workers.Total)

		writeMetricFloat(w, "webdog_worker_saturation_percent",
			"Share of patrol workers currently busy.",
			"gauge", status.Workers.SaturationPercent)

		writeMetric(w, "webdog_disk_free_mb",
			"Free disk space in the data directory in megabytes.",
			"gauge", status.System.DiskFreeMB)

		writeMetric(w, "webdog_health_alerts",
			"Number of active health threshold alerts.",
			"gauge", int64(len(status.Alerts)))

		writeMetricFloat(w, "webdog_uptime_seconds",
			"Number of seconds since the service started.",
			"gauge", time.Since(collector.startTime).Seconds())
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}
