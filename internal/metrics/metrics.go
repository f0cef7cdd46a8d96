package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Business metrics
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	storeCalls         *prometheus.CounterVec
	entriesServed      *prometheus.CounterVec
	entryBytesServed   prometheus.Counter
	invalidatorCycles  *prometheus.CounterVec
	invalidatorPurges  *prometheus.CounterVec
	invalidatorElapsed prometheus.Histogram
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Business metrics
	r.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meg_cache_hits_total",
			Help: "Total number of cache hits by keyspace",
		},
		[]string{"keyspace"},
	)
	r.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meg_cache_misses_total",
			Help: "Total number of cache misses by keyspace",
		},
		[]string{"keyspace"},
	)
	r.storeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meg_store_calls_total",
			Help: "Total number of object store calls by operation",
		},
		[]string{"op"},
	)
	r.entriesServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meg_entries_served_total",
			Help: "Total number of archive entries served by resolution path",
		},
		[]string{"path"},
	)
	r.entryBytesServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meg_entry_bytes_served_total",
			Help: "Total bytes of entry bodies served",
		},
	)
	r.invalidatorCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meg_invalidator_cycles_total",
			Help: "Total number of invalidator poll cycles by outcome",
		},
		[]string{"outcome"},
	)
	r.invalidatorPurges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meg_cache_purges_total",
			Help: "Total number of cache purges by trigger",
		},
		[]string{"trigger"},
	)
	r.invalidatorElapsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meg_invalidator_cycle_duration_seconds",
			Help:    "Invalidator poll cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	reg.MustRegister(r.cacheHits)
	reg.MustRegister(r.cacheMisses)
	reg.MustRegister(r.storeCalls)
	reg.MustRegister(r.entriesServed)
	reg.MustRegister(r.entryBytesServed)
	reg.MustRegister(r.invalidatorCycles)
	reg.MustRegister(r.invalidatorPurges)
	reg.MustRegister(r.invalidatorElapsed)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordCacheHit records a hit in a cache keyspace.
func (r *Registry) RecordCacheHit(keyspace string) {
	r.cacheHits.WithLabelValues(keyspace).Inc()
}

// RecordCacheMiss records a miss in a cache keyspace.
func (r *Registry) RecordCacheMiss(keyspace string) {
	r.cacheMisses.WithLabelValues(keyspace).Inc()
}

// RecordStoreCall records one object store call.
func (r *Registry) RecordStoreCall(op string) {
	r.storeCalls.WithLabelValues(op).Inc()
}

// RecordEntryServed records a served entry and its body size.
func (r *Registry) RecordEntryServed(path string, bytes int) {
	r.entriesServed.WithLabelValues(path).Inc()
	r.entryBytesServed.Add(float64(bytes))
}

// RecordInvalidatorCycle records a completed poll cycle.
func (r *Registry) RecordInvalidatorCycle(outcome string, duration float64) {
	r.invalidatorCycles.WithLabelValues(outcome).Inc()
	r.invalidatorElapsed.Observe(duration)
}

// RecordPurge records a cache purge.
func (r *Registry) RecordPurge(trigger string) {
	r.invalidatorPurges.WithLabelValues(trigger).Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
