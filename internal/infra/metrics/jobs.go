package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, jobDurationSeconds, jobsEnqueuedTotal, queueDepth) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of job deliveries processed, labeled by outcome.",
		},
		[]string{"status"}, // 'completed', 'retried', 'dead'
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time of one job delivery, including model loading on first use.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Jobs accepted or rejected at intake.",
		},
		[]string{"result"}, // 'accepted', 'invalid', 'error'
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "job_queue_depth",
			Help: "Jobs waiting in the shared queue lists.",
		},
		[]string{"list"}, // 'pending', 'dead'
	)
)

func ObserveJob(status string, d time.Duration) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(status)).Observe(d.Seconds())
}

func IncIntake(result string) {
	jobsEnqueuedTotal.WithLabelValues(norm(result)).Inc()
}

func SetQueueDepth(pending, dead int64) {
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("dead").Set(float64(dead))
}
