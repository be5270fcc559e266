package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultHit            = "hit"
	resultPassThrough    = "pass_through"
	resultTransformed    = "transformed"
	resultTransformError = "transform_error"
	resultOriginError    = "origin_error"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total gateway requests by result",
	}, []string{"result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Gateway request duration in seconds by result",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	originResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_origin_responses_total",
		Help: "Total origin responses by status class",
	}, []string{"class"})

	backgroundWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_background_writes",
		Help: "Edge cache writes currently in flight",
	})

	cacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_cache_write_failures_total",
		Help: "Total failed background edge cache writes",
	})
)

func observe(result string, start time.Time) {
	requestsTotal.WithLabelValues(result).Inc()
	requestDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
