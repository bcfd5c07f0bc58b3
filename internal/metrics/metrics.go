package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "reserve"

var (
	claimCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bf",
			Subsystem: subsystem,
			Name:      "claims_total",
			Help:      "Count of claim attempts by admission result.",
		},
		[]string{"result"},
	)
	claimLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bf",
			Subsystem: subsystem,
			Name:      "claim_duration_seconds",
			Help:      "Latency of the claim path including the publish confirm wait.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3, 5},
		},
	)
	compensationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bf",
			Subsystem: subsystem,
			Name:      "compensations_total",
			Help:      "Count of released claims by trigger.",
		},
		[]string{"reason"},
	)
	persistCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bf",
			Subsystem: subsystem,
			Name:      "persist_total",
			Help:      "Count of consumed claim messages by persistence result.",
		},
		[]string{"result"},
	)
	reapedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bf",
			Subsystem: subsystem,
			Name:      "timeout_cancelled_total",
			Help:      "Count of unpaid reservations cancelled by the timeout reaper.",
		},
	)
	jobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bf",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Count of scheduled job executions by job and result.",
		},
		[]string{"job", "result"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(claimCounter, claimLatency, compensationCounter, persistCounter, reapedCounter, jobCounter)
	})
}

// RecordClaim records one admission decision.
func RecordClaim(result string, started time.Time) {
	claimCounter.WithLabelValues(result).Inc()
	claimLatency.Observe(time.Since(started).Seconds())
}

// RecordCompensation records a released claim.
func RecordCompensation(reason string) {
	compensationCounter.WithLabelValues(reason).Inc()
}

// RecordPersist records the outcome of handling one claim message.
func RecordPersist(result string) {
	persistCounter.WithLabelValues(result).Inc()
}

func RecordTimeoutCancelled() {
	reapedCounter.Inc()
}

// RecordJob records a scheduler tick.
func RecordJob(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobCounter.WithLabelValues(job, result).Inc()
}
