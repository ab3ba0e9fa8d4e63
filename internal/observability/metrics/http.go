package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalTotal       *prometheus.CounterVec
	retrievalCandidates  *prometheus.HistogramVec
	failedSearchesTotal  *prometheus.CounterVec
	expansionFallbacks   *prometheus.CounterVec
	streamTerminalsTotal *prometheus.CounterVec
	adapterRetriesTotal  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total completed retrievals by strategy.",
		},
		[]string{"service", "strategy"},
	)
	retrievalCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "retrieval",
			Name:      "fused_candidates",
			Help:      "Distribution of fused candidates per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service", "strategy"},
	)
	failedSearchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "retrieval",
			Name:      "failed_searches_total",
			Help:      "Total individual searches that failed inside a retrieval.",
		},
		[]string{"service", "strategy"},
	)
	expansionFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "retrieval",
			Name:      "expansion_fallback_total",
			Help:      "Total multi-query retrievals that fell back to the original query.",
		},
		[]string{"service"},
	)
	streamTerminalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "stream",
			Name:      "terminal_events_total",
			Help:      "Total streamed responses by terminal event type.",
		},
		[]string{"service", "type"},
	)
	adapterRetriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "adapter",
			Name:      "retries_total",
			Help:      "Total adapter call retries by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalTotal,
		retrievalCandidates,
		failedSearchesTotal,
		expansionFallbacks,
		streamTerminalsTotal,
		adapterRetriesTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		service:              service,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		retrievalTotal:       retrievalTotal,
		retrievalCandidates:  retrievalCandidates,
		failedSearchesTotal:  failedSearchesTotal,
		expansionFallbacks:   expansionFallbacks,
		streamTerminalsTotal: streamTerminalsTotal,
		adapterRetriesTotal:  adapterRetriesTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware labels requests with the chi route pattern so path parameters
// do not explode label cardinality.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		path := routePattern(r)
		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (m *HTTPServerMetrics) ObserveRetrieval(strategy domain.RAGStrategy, candidates, failedSearches int, expansionFallback bool) {
	label := string(strategy)
	if label == "" {
		label = "unknown"
	}
	m.retrievalTotal.WithLabelValues(m.service, label).Inc()
	m.retrievalCandidates.WithLabelValues(m.service, label).Observe(float64(candidates))
	if failedSearches > 0 {
		m.failedSearchesTotal.WithLabelValues(m.service, label).Add(float64(failedSearches))
	}
	if expansionFallback {
		m.expansionFallbacks.WithLabelValues(m.service).Inc()
	}
}

func (m *HTTPServerMetrics) ObserveStreamTerminal(eventType domain.StreamEventType) {
	m.streamTerminalsTotal.WithLabelValues(m.service, string(eventType)).Inc()
}

// RecordRetry is installed as the resilience executor retry hook.
func (m *HTTPServerMetrics) RecordRetry(operation string) {
	m.adapterRetriesTotal.WithLabelValues(m.service, operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
