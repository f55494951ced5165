package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(notificationsTotal) }

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Outbound notifications by kind and delivery result.",
	},
	[]string{"kind", "result"}, // kind: 'message', 'result'; result: 'sent', 'failed', 'throttled'
)

func IncNotification(kind, result string) {
	notificationsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}
