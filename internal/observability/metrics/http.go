package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ska"

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	chatTurnsTotal   *prometheus.CounterVec
	chatTurnDuration *prometheus.HistogramVec
	searchTotal      *prometheus.CounterVec
	searchDuration   *prometheus.HistogramVec
	retrievedChunks  *prometheus.HistogramVec
	retrievedRels    *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatTurnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total chat turns by strategy and outcome.",
		},
		[]string{"service", "flow", "outcome"},
	)
	chatTurnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Chat turn duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "flow"},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "searches_total",
			Help:      "Total knowledge searches by status.",
		},
		[]string{"service", "endpoint", "status"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Knowledge search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "retrieved_chunks",
			Help:      "Distribution of fused chunks per successful search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	retrievedRels := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "retrieved_relationships",
			Help:      "Distribution of fused graph relationships per successful search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"service", "endpoint"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		chatTurnsTotal,
		chatTurnDuration,
		searchTotal,
		searchDuration,
		retrievedChunks,
		retrievedRels,
	)

	return &HTTPServerMetrics{
		registry:         registry,
		service:          service,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		chatTurnsTotal:   chatTurnsTotal,
		chatTurnDuration: chatTurnDuration,
		searchTotal:      searchTotal,
		searchDuration:   searchDuration,
		retrievedChunks:  retrievedChunks,
		retrievedRels:    retrievedRels,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps chat ids out of the path label.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/chats/") && strings.HasSuffix(path, "/messages"):
		return "/v1/chats/{chat_id}/messages"
	case strings.HasPrefix(path, "/v1/chats/"):
		return "/v1/chats/{chat_id}"
	default:
		return path
	}
}

// ObserveChatTurn records one finished turn for the strategy that ran it.
func (m *HTTPServerMetrics) ObserveChatTurn(flow, outcome string, duration time.Duration) {
	if flow == "" {
		flow = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.chatTurnsTotal.WithLabelValues(m.service, flow, outcome).Inc()
	m.chatTurnDuration.WithLabelValues(m.service, flow).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordSearch(endpoint string, relationships, chunks int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.searchTotal.WithLabelValues(m.service, endpoint, status).Inc()
	m.searchDuration.WithLabelValues(m.service, endpoint).Observe(duration.Seconds())
	if err != nil {
		return
	}
	m.retrievedChunks.WithLabelValues(m.service, endpoint).Observe(float64(chunks))
	m.retrievedRels.WithLabelValues(m.service, endpoint).Observe(float64(relationships))
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
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
