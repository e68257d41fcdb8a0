package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	verifyTotal    *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	verifyInFlight prometheus.Gauge
	turnLag        *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	verifyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "verification_total",
			Help:      "Total post-verification submissions by status.",
		},
		[]string{"service", "status"},
	)
	verifyDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "verification_duration_seconds",
			Help:      "Post-verification submission duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	verifyInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "verification_in_flight",
			Help:      "Number of in-flight post-verification submissions.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	turnLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "turn_lag_seconds",
			Help:      "Delay between a finished chat turn and its verification start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(verifyTotal, verifyDuration, verifyInFlight, turnLag)

	return &WorkerMetrics{
		registry:       registry,
		verifyTotal:    verifyTotal,
		verifyDuration: verifyDuration,
		verifyInFlight: verifyInFlight,
		turnLag:        turnLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartVerification() {
	m.verifyInFlight.Inc()
}

func (m *WorkerMetrics) FinishVerification(service string, duration time.Duration, err error) {
	m.verifyInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.verifyTotal.WithLabelValues(service, status).Inc()
	m.verifyDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveTurnLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.turnLag.WithLabelValues(service).Observe(lag.Seconds())
}
