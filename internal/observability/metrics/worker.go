package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	expiredTotal    *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxcore",
			Subsystem: "worker",
			Name:      "subject_process_total",
			Help:      "Total classified subjects by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxcore",
			Subsystem: "worker",
			Name:      "subject_process_duration_seconds",
			Help:      "Subject classification duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taxcore",
			Subsystem: "worker",
			Name:      "subject_process_in_flight",
			Help:      "Number of in-flight subject classifications.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	expiredTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxcore",
			Subsystem: "worker",
			Name:      "review_expired_total",
			Help:      "Total review items expired by the SLA sweep.",
		},
		[]string{"service"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, expiredTotal)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		expiredTotal:    expiredTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartSubject() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishSubject(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddExpired(service string, count int64) {
	if count <= 0 {
		return
	}
	m.expiredTotal.WithLabelValues(service).Add(float64(count))
}
