package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	recordsTotal   *prometheus.CounterVec
	recordDuration *prometheus.HistogramVec
	inFlight       prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	recordsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "worker",
			Name:      "evaluation_records_total",
			Help:      "Total evaluation records handled by status.",
		},
		[]string{"service", "status"},
	)
	recordDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "worker",
			Name:      "evaluation_record_duration_seconds",
			Help:      "Evaluation record write duration in seconds by status.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "worker",
			Name:      "evaluation_records_in_flight",
			Help:      "Number of evaluation records being written.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(recordsTotal, recordDuration, inFlight)

	return &WorkerMetrics{
		registry:       registry,
		service:        service,
		recordsTotal:   recordsTotal,
		recordDuration: recordDuration,
		inFlight:       inFlight,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRecord() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishRecord(duration time.Duration, err error) {
	m.inFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.recordsTotal.WithLabelValues(m.service, status).Inc()
	m.recordDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}
