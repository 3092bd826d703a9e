// Package metrics aggregates delivery counters and persists them across restarts.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

// Recorder tracks delivery outcomes. Snapshot reads and updates are atomic with respect to each other.
type Recorder struct {
	mu sync.Mutex
	m  model.Metrics

	attempts  prometheus.Counter
	succeeded prometheus.Counter
	failed    prometheus.Counter
	units     prometheus.Counter
	latency   prometheus.Histogram
}

// NewRecorder creates a Recorder and registers its collectors on reg. A nil reg skips registration.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_delivery_attempts_total",
			Help: "Total number of delivery transfers started",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_delivery_succeeded_total",
			Help: "Total number of completed deliveries",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_delivery_failed_total",
			Help: "Total number of deliveries that exhausted their retries",
		}),
		units: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_delivery_units_delivered_total",
			Help: "Total number of asset units delivered",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asset_delivery_duration_seconds",
			Help:    "Duration of delivery transfers including retries",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(r.attempts, r.succeeded, r.failed, r.units, r.latency)
	}

	return r
}

// RecordSuccess counts a completed delivery of units.
func (r *Recorder) RecordSuccess(units int64, latency time.Duration) {
	r.mu.Lock()
	r.m.Succeeded++
	r.m.TotalUnitsDelivered += units
	r.observe(latency)
	r.mu.Unlock()

	r.succeeded.Inc()
	r.units.Add(float64(units))
}

// RecordFailure counts a delivery that exhausted its retries.
func (r *Recorder) RecordFailure(latency time.Duration) {
	r.mu.Lock()
	r.m.Failed++
	r.observe(latency)
	r.mu.Unlock()

	r.failed.Inc()
}

// observe must be called with mu held.
func (r *Recorder) observe(latency time.Duration) {
	r.m.TotalAttempts++
	ms := float64(latency) / float64(time.Millisecond)
	n := float64(r.m.TotalAttempts)
	r.m.AverageLatencyMs = (r.m.AverageLatencyMs*(n-1) + ms) / n

	r.attempts.Inc()
	r.latency.Observe(latency.Seconds())
}

// Snapshot returns a copy of the aggregate.
func (r *Recorder) Snapshot() model.Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.m
}

// Restore replaces the aggregate with a persisted snapshot. Prometheus counters start from the
// restored totals so exported values stay monotonic across restarts.
func (r *Recorder) Restore(m model.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m = m
	addCount(r.attempts, m.TotalAttempts)
	addCount(r.succeeded, m.Succeeded)
	addCount(r.failed, m.Failed)
	addCount(r.units, m.TotalUnitsDelivered)
}

// addCount ignores negative values, which Counter.Add rejects with a panic.
func addCount(c prometheus.Counter, v int64) {
	if v > 0 {
		c.Add(float64(v))
	}
}
