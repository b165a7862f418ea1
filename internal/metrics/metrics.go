// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

var (
	recordsTotal        *prometheus.CounterVec
	tickDurationSeconds *prometheus.HistogramVec
	retriesTotal        *prometheus.CounterVec
	reclaimsTotal       prometheus.Counter
	rateLimitDelay      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Records processed per stage tick, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		tickDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_tick_duration_seconds",
				Help:    "Histogram of stage tick durations, labeled by stage.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_retries_total",
				Help: "Failed records moved back to a stage input status, labeled by stage.",
			},
			[]string{"stage"},
		)

		reclaimsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_reclaims_total",
				Help: "Abandoned in-progress records returned to their input status.",
			},
		)

		rateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 15},
			},
			[]string{"host"},
		)
	})
}

// ObserveTick records the duration and per-record outcomes of a stage tick.
func ObserveTick(stageName string, elapsed time.Duration, stats ingest.TickStats) {
	if recordsTotal == nil {
		return
	}
	tickDurationSeconds.WithLabelValues(stageName).Observe(elapsed.Seconds())
	recordsTotal.WithLabelValues(stageName, "succeeded").Add(float64(stats.Succeeded))
	recordsTotal.WithLabelValues(stageName, "failed").Add(float64(stats.Failed))
	recordsTotal.WithLabelValues(stageName, "skipped").Add(float64(stats.Skipped))
}

// ObserveRetries counts records re-queued for the given stage.
func ObserveRetries(stageName string, count int) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(stageName).Add(float64(count))
}

// ObserveReclaims counts records recovered by the reconciliation sweep.
func ObserveReclaims(count int) {
	if reclaimsTotal == nil {
		return
	}
	reclaimsTotal.Add(float64(count))
}

// ObserveRateLimitDelay records time a fetch spent waiting for a host slot.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	if rateLimitDelay == nil {
		return
	}
	rateLimitDelay.WithLabelValues(host).Observe(delay.Seconds())
}
