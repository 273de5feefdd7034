// Package metrics exposes Prometheus instrumentation for the data-access
// and distribution layer. All methods are safe to call on a nil receiver so
// components can run uninstrumented in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the process.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheStaleHits prometheus.Counter
	CacheEvictions prometheus.Counter

	LimiterQueueDepth *prometheus.GaugeVec
	LimiterExecutions *prometheus.CounterVec

	BreakerState    *prometheus.GaugeVec
	BreakerFailures *prometheus.CounterVec
	BreakerTimeouts *prometheus.CounterVec
	BreakerRejected *prometheus.CounterVec

	BroadcastsQueued    *prometheus.CounterVec
	BroadcastsDelivered *prometheus.CounterVec
	ConnectedClients    prometheus.Gauge
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alphaterminal_cache_hits_total",
			Help: "Number of fresh cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alphaterminal_cache_misses_total",
			Help: "Number of cache misses.",
		}),
		CacheStaleHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alphaterminal_cache_stale_hits_total",
			Help: "Number of stale entries served after a failed fetch.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alphaterminal_cache_evictions_total",
			Help: "Number of entries evicted by the capacity bound.",
		}),

		LimiterQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alphaterminal_ratelimit_queue_depth",
			Help: "Pending executions queued per dependency.",
		}, []string{"dependency"}),
		LimiterExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphaterminal_ratelimit_executions_total",
			Help: "Executions drained from the rate limiter queue per dependency.",
		}, []string{"dependency"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alphaterminal_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open).",
		}, []string{"dependency"}),
		BreakerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphaterminal_breaker_failures_total",
			Help: "Failures recorded by circuit breakers per dependency.",
		}, []string{"dependency"}),
		BreakerTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphaterminal_breaker_timeouts_total",
			Help: "Guarded calls that exceeded their timeout per dependency.",
		}, []string{"dependency"}),
		BreakerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphaterminal_breaker_rejections_total",
			Help: "Calls rejected while a breaker was open per dependency.",
		}, []string{"dependency"}),

		BroadcastsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphaterminal_hub_broadcasts_queued_total",
			Help: "Broadcasts accepted into per-channel queues.",
		}, []string{"channel"}),
		BroadcastsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphaterminal_hub_broadcasts_delivered_total",
			Help: "Per-client deliveries performed by the flush loop.",
		}, []string{"channel"}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alphaterminal_ws_connected_clients",
			Help: "Currently connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheStaleHits, m.CacheEvictions,
		m.LimiterQueueDepth, m.LimiterExecutions,
		m.BreakerState, m.BreakerFailures, m.BreakerTimeouts, m.BreakerRejected,
		m.BroadcastsQueued, m.BroadcastsDelivered, m.ConnectedClients,
	)

	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Nil-safe helpers used on hot paths.

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) IncCacheStaleHit() {
	if m != nil {
		m.CacheStaleHits.Inc()
	}
}

func (m *Metrics) IncCacheEviction() {
	if m != nil {
		m.CacheEvictions.Inc()
	}
}

func (m *Metrics) SetLimiterQueueDepth(dependency string, depth int) {
	if m != nil {
		m.LimiterQueueDepth.WithLabelValues(dependency).Set(float64(depth))
	}
}

func (m *Metrics) IncLimiterExecution(dependency string) {
	if m != nil {
		m.LimiterExecutions.WithLabelValues(dependency).Inc()
	}
}

func (m *Metrics) SetBreakerState(dependency string, state float64) {
	if m != nil {
		m.BreakerState.WithLabelValues(dependency).Set(state)
	}
}

func (m *Metrics) IncBreakerFailure(dependency string) {
	if m != nil {
		m.BreakerFailures.WithLabelValues(dependency).Inc()
	}
}

func (m *Metrics) IncBreakerTimeout(dependency string) {
	if m != nil {
		m.BreakerTimeouts.WithLabelValues(dependency).Inc()
	}
}

func (m *Metrics) IncBreakerRejection(dependency string) {
	if m != nil {
		m.BreakerRejected.WithLabelValues(dependency).Inc()
	}
}

func (m *Metrics) IncBroadcastQueued(channel string) {
	if m != nil {
		m.BroadcastsQueued.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) IncBroadcastDelivered(channel string) {
	if m != nil {
		m.BroadcastsDelivered.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) SetConnectedClients(n int) {
	if m != nil {
		m.ConnectedClients.Set(float64(n))
	}
}
