package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"operation"})

	// CacheHits counts render/entity cache hits by key prefix.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_cache_hits_total",
		Help: "Total cache hits by key prefix",
	}, []string{"prefix"})

	// CacheMisses counts render/entity cache misses by key prefix.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_cache_misses_total",
		Help: "Total cache misses by key prefix",
	}, []string{"prefix"})

	// PageInvalidations counts view-invalidation signals by route path.
	PageInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_page_invalidations_total",
		Help: "Total page render-cache invalidations by route",
	}, []string{"path"})
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// InitMetrics sets up the Prometheus HTTP middleware for the service.
// Registering the same collectors twice panics, so the middleware is built
// once and shared by every server instance.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New(serviceName)
	})
	return prom
}
