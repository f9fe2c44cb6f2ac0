package ultimaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	pollSuccess       = "success"
	pollFailed        = "failed"
	pollNotConfigured = "not_configured"
)

var (
	pollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ultimaker",
		Subsystem: "bridge",
		Name:      "polls_total",
		Help:      "Poll cycles by printer and result.",
	}, []string{"printer", "result"})

	pollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ultimaker",
		Subsystem: "bridge",
		Name:      "poll_duration_seconds",
		Help:      "Duration of poll cycles.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"printer"})

	failureGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ultimaker",
		Subsystem: "bridge",
		Name:      "consecutive_failures",
		Help:      "Consecutive failed poll cycles since the last success.",
	}, []string{"printer"})
)

func observePoll(printer, result string, elapsed time.Duration) {
	pollTotal.WithLabelValues(printer, result).Inc()
	pollDuration.WithLabelValues(printer).Observe(elapsed.Seconds())
}

func setFailureGauge(printer string, failures int) {
	failureGauge.WithLabelValues(printer).Set(float64(failures))
}
