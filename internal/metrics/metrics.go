package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankode_verdicts_total",
			Help: "Final verdicts written, by language and verdict",
		},
		[]string{"language", "verdict"},
	)

	SandboxRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankode_sandbox_run_seconds",
			Help:    "Wall time of a single sandbox call",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase"}, // compile, run
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rankode_job_seconds",
			Help:    "Time a job occupied a worker",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rankode_queue_depth",
			Help: "Jobs waiting for a worker",
		},
	)

	BusyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rankode_busy_workers",
			Help: "Workers currently judging",
		},
	)

	InternalRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankode_internal_retries_total",
			Help: "Jobs retried after a judge infrastructure failure",
		},
	)
)
