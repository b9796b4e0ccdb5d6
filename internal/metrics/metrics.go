// Package metrics exposes pipeline counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filingest"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	documents     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	chunks        prometheus.Counter
	chunkTokens   prometheus.Histogram
	duplicates    prometheus.Counter
	fetches       *prometheus.CounterVec
	requests      *prometheus.HistogramVec
	queueDepth    prometheus.GaugeFunc
}

// New registers the collectors. queueDepth may be nil.
func New(queueDepth func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents that finished a pipeline run, by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"stage"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Chunks committed to the store.",
		}),
		chunkTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_tokens",
			Help:      "Estimated tokens per committed chunk.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 1500, 2000},
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Ingest attempts resolved to an existing document.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "HTTP fetches by response status.",
		}, []string{"status"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.documents, m.stageDuration, m.chunks, m.chunkTokens, m.duplicates, m.fetches, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if queueDepth != nil {
		m.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Documents waiting for a worker.",
		}, func() float64 { return float64(queueDepth()) })
		m.registry.MustRegister(m.queueDepth)
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Processed(outcome string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ChunksWritten records one committed document's chunk token estimates.
func (m *Metrics) ChunksWritten(tokens []int) {
	if m == nil {
		return
	}
	m.chunks.Add(float64(len(tokens)))
	for _, t := range tokens {
		m.chunkTokens.Observe(float64(t))
	}
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// Fetch counts one HTTP response status, or "error".
func (m *Metrics) Fetch(status string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(status).Inc()
}

// Request observes one API request. route should be a pattern, not a raw path.
func (m *Metrics) Request(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}
