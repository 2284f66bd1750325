package listing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convert_hub_listing_snapshot_version",
		Help: "Version of the currently published listing snapshot.",
	})

	snapshotEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convert_hub_listing_snapshot_entries",
		Help: "Live entries in the currently published listing snapshot.",
	})

	produceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convert_hub_listing_produce_duration_seconds",
		Help:    "Time spent scanning the cache for one listing snapshot.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	produceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convert_hub_listing_produce_errors_total",
		Help: "Listing scans that failed and kept the previous snapshot.",
	})

	// droppedTotal 统计未被消费就被新快照覆盖的旧快照。
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convert_hub_listing_dropped_total",
		Help: "Snapshots replaced in the hand-off slot before being published.",
	})
)
