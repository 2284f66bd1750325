package reaper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convert_hub_reaper_runs_total",
		Help: "Completed reaper sweeps.",
	})

	deletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convert_hub_reaper_deleted_total",
		Help: "Directories removed by the reaper, by reason.",
	}, []string{"reason"})

	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convert_hub_reaper_errors_total",
		Help: "Per-entry failures encountered while sweeping.",
	})

	durationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convert_hub_reaper_duration_seconds",
		Help:    "Reaper sweep duration in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

func observe(result Result) {
	runsTotal.Inc()
	deletedTotal.WithLabelValues("expired").Add(float64(result.Expired))
	deletedTotal.WithLabelValues("orphan").Add(float64(result.Orphans))
	errorsTotal.Add(float64(result.Errors))
	durationSeconds.Observe(result.Duration.Seconds())
}
