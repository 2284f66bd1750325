package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convert_hub_gateway_requests_total",
		Help: "Conversion requests partitioned by outcome.",
	}, []string{"outcome"})

	// writesTotal 按结果统计异步缓存写入：ok / error / dropped / deferred / spool_error / replayed。
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convert_hub_async_writes_total",
		Help: "Asynchronous cache writes partitioned by result.",
	}, []string{"result"})

	pendingWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convert_hub_async_writes_pending",
		Help: "Cache writes accepted but not yet committed.",
	})
)
