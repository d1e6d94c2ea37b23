package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamad",
			Subsystem: "manager",
			Name:      "spawns_total",
			Help:      "Backend process launches by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	metricCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamad",
			Subsystem: "manager",
			Name:      "crashes_total",
			Help:      "Unexpected backend process exits",
		},
		[]string{"model"},
	)

	metricRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamad",
			Subsystem: "manager",
			Name:      "restarts_total",
			Help:      "Health-gated restarts by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	metricTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamad",
			Subsystem: "backend",
			Name:      "tokens_total",
			Help:      "Tokens processed by model and kind (prompt, completion, draft)",
		},
		[]string{"model", "kind"},
	)

	metricTTFT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llamad",
			Subsystem: "backend",
			Name:      "ttft_seconds",
			Help:      "Time to first generated token in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(metricSpawns, metricCrashes, metricRestarts, metricTokens, metricTTFT)
}
