package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 缓存层 Prometheus 指标。
var (
	// lookupsTotal 按结果统计 Find：hit / miss / expired / error。
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convert_hub_cache_lookups_total",
		Help: "Cache lookups partitioned by result.",
	}, []string{"result"})

	storesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convert_hub_cache_stores_total",
		Help: "Cache entry writes partitioned by result.",
	}, []string{"result"})

	// lazyExpiredTotal 统计读路径上顺带删除的过期条目。
	lazyExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convert_hub_cache_lazy_expired_total",
		Help: "Expired entries removed on the read path.",
	})
)

const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultExpired = "expired"
	resultError   = "error"
	resultOK      = "ok"
)
