package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		modelInitTotal,
		modelInitDuration,
		modelReady,
		lockAcquireTotal,
		inferenceLatency,
	)
}

var (
	modelInitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_init_total",
			Help: "Model construction attempts by result.",
		},
		[]string{"result"}, // 'success', 'failure', 'skipped_cooldown'
	)

	modelInitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_init_duration_seconds",
			Help:    "Time spent constructing the model.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	modelReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_ready",
			Help: "1 once the model is loaded in this process.",
		},
	)

	lockAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquire_total",
			Help: "Distributed lock acquisition attempts by result.",
		},
		[]string{"name", "result"}, // 'acquired', 'held', 'error'
	)

	inferenceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Fetch + prepare + predict latency for one image.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"success"},
	)
)

func IncModelInit(result string) {
	modelInitTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveModelInit(d time.Duration) {
	modelInitDuration.Observe(d.Seconds())
}

func SetModelReady(ready bool) {
	if ready {
		modelReady.Set(1)
		return
	}
	modelReady.Set(0)
}

func IncLockAcquire(name, result string) {
	lockAcquireTotal.WithLabelValues(name, norm(result)).Inc()
}

func ObserveInference(d time.Duration, success bool) {
	inferenceLatency.WithLabelValues(strconv.FormatBool(success)).Observe(d.Seconds())
}
