// Package metrics exposes the scheduler's live counters — load average,
// recent CPU, ready-queue depth and context switches — as Prometheus
// gauges and counters behind a standard /metrics HTTP handler, in the
// style the rest of the retrieval pack uses for service instrumentation
// (promauto-registered vecs against the default registry).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loadAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kpintos_load_avg",
		Help: "MLFQS load average, scaled by 100",
	})
	readyDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kpintos_ready_queue_depth",
		Help: "Number of threads currently in the ready structure",
	})
	sleepDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kpintos_sleep_queue_depth",
		Help: "Number of threads currently blocked on a timer deadline",
	})
	recentCPU = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kpintos_recent_cpu",
		Help: "Per-thread recent_cpu, scaled by 100",
	}, []string{"thread_name"})
	contextSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kpintos_context_switches_total",
		Help: "Total number of dispatcher handoffs between distinct threads",
	})
	donationDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kpintos_donation_depth",
		Help:    "Number of hops walked by a single priority donation",
		Buckets: prometheus.LinearBuckets(0, 1, 9), // 0..8, matching donationDepthBound
	})
)

// SetLoadAvg records the MLFQS load average (already scaled by 100, as
// returned by kernel.Kernel.LoadAvg).
func SetLoadAvg(v int) { loadAvg.Set(float64(v)) }

// SetReadyDepth records the current ready-structure length.
func SetReadyDepth(n int) { readyDepth.Set(float64(n)) }

// SetSleepDepth records the current sleep-structure length.
func SetSleepDepth(n int) { sleepDepth.Set(float64(n)) }

// ObserveRecentCPU records one thread's recent_cpu sample (scaled by 100).
func ObserveRecentCPU(threadName string, v int) {
	recentCPU.WithLabelValues(threadName).Set(float64(v))
}

// IncContextSwitches records one dispatcher handoff between distinct
// threads (schedule() choosing next != caller).
func IncContextSwitches() { contextSwitches.Inc() }

// ObserveDonationDepth records the hop count of one completed donation
// walk.
func ObserveDonationDepth(hops int) { donationDepth.Observe(float64(hops)) }

// Handler returns the standard Prometheus scrape handler, for mounting at
// /metrics by the cmd/kpintos server.
func Handler() http.Handler { return promhttp.Handler() }
