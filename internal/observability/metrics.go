package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	providerCallDuration *prometheus.HistogramVec
	providerErrorsTotal  *prometheus.CounterVec

	storeOpDuration  *prometheus.HistogramVec
	storeErrorsTotal *prometheus.CounterVec
	durabilityGaps   prometheus.Counter

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions *prometheus.CounterVec
	cacheEntries   prometheus.Gauge

	laneWaitDuration prometheus.Histogram
	activeLanes      prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_turns_total",
					Help: "Total handled turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chat_turn_duration_seconds",
					Help:    "End-to-end turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Provider adapter call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_errors_total",
					Help: "Total provider errors by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
			storeOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "store_operation_duration_seconds",
					Help:    "Durable store operation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			storeErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "store_errors_total",
					Help: "Total durable store errors by operation.",
				},
				[]string{"op"},
			),
			durabilityGaps: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "chat_durability_gaps_total",
					Help: "Replies returned to callers whose assistant message could not be persisted.",
				},
			),
			cacheHits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_cache_hits_total",
					Help: "Session cache hits.",
				},
			),
			cacheMisses: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_cache_misses_total",
					Help: "Session cache misses.",
				},
			),
			cacheEvictions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_cache_evictions_total",
					Help: "Session cache evictions by reason.",
				},
				[]string{"reason"},
			),
			cacheEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "session_cache_entries",
					Help: "Current number of cached sessions.",
				},
			),
			laneWaitDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "lane_wait_duration_seconds",
					Help:    "Time spent waiting for a conversation lane.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeLanes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "lanes_active",
					Help: "Conversation lanes currently held or awaited.",
				},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.providerCallDuration,
			m.providerErrorsTotal,
			m.storeOpDuration,
			m.storeErrorsTotal,
			m.durabilityGaps,
			m.cacheHits,
			m.cacheMisses,
			m.cacheEvictions,
			m.cacheEntries,
			m.laneWaitDuration,
			m.activeLanes,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.turnTotal.WithLabelValues(provider, status).Inc()
	m.turnDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordProviderCall(provider string, duration time.Duration, errKind string) {
	m := getMetrics()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if errKind != "" {
		m.providerErrorsTotal.WithLabelValues(provider, errKind).Inc()
	}
}

func RecordStoreOp(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.storeOpDuration.WithLabelValues(op).Observe(duration.Seconds())
	if !success {
		m.storeErrorsTotal.WithLabelValues(op).Inc()
	}
}

func RecordDurabilityGap() {
	getMetrics().durabilityGaps.Inc()
}

func RecordCacheLookup(hit bool) {
	m := getMetrics()
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

func RecordCacheEviction(reason string, count int) {
	if count <= 0 {
		return
	}
	getMetrics().cacheEvictions.WithLabelValues(reason).Add(float64(count))
}

func SetCacheEntries(count int) {
	getMetrics().cacheEntries.Set(float64(count))
}

func RecordLaneWait(duration time.Duration) {
	getMetrics().laneWaitDuration.Observe(duration.Seconds())
}

func SetActiveLanes(count int) {
	getMetrics().activeLanes.Set(float64(count))
}
