package convert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convert_hub_conversions_total",
		Help: "Transcoder invocations partitioned by result.",
	}, []string{"result"})

	conversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convert_hub_conversion_duration_seconds",
		Help:    "Wall time spent in the transcoder.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)
