// Package metrics exposes grading, AI, event and HTTP measurements in the
// Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KankareDEV/lms-v4/internal/llm"
	"github.com/KankareDEV/lms-v4/internal/model"
)

const namespace = "lms"

// Metrics owns a registry and every collector the service reports.
type Metrics struct {
	reg *prometheus.Registry

	GradingRuns     *prometheus.CounterVec
	GradingDuration prometheus.Histogram
	AIRuns          *prometheus.CounterVec
	LLMRequests     *prometheus.CounterVec
	LLMLatency      *prometheus.HistogramVec
	LLMTokens       *prometheus.CounterVec
	EventDeliveries *prometheus.CounterVec
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		GradingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grading_runs_total",
			Help:      "Grading pipeline runs by result.",
		}, []string{"result"}),
		GradingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grading_run_duration_seconds",
			Help:      "Duration of grading pipeline runs.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		AIRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_grading_total",
			Help:      "AI grading passes by outcome.",
		}, []string{"outcome"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests by model and status.",
		}, []string{"model", "status"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of LLM requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"model"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"model", "direction"}),
		EventDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_deliveries_total",
			Help:      "Event handler invocations by type and status.",
		}, []string{"type", "status"}),
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "endpoint"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.GradingRuns, m.GradingDuration, m.AIRuns,
		m.LLMRequests, m.LLMLatency, m.LLMTokens,
		m.EventDeliveries, m.RequestCounter, m.RequestDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveRun records one grading pipeline run.
func (m *Metrics) ObserveRun(result string, d time.Duration) {
	m.GradingRuns.WithLabelValues(result).Inc()
	m.GradingDuration.Observe(d.Seconds())
}

// ObserveAI records the outcome of an AI pass.
func (m *Metrics) ObserveAI(meta model.AIMeta) {
	switch {
	case !meta.Used:
		m.AIRuns.WithLabelValues("skipped").Inc()
	case meta.Failed():
		m.AIRuns.WithLabelValues("failed").Inc()
	default:
		m.AIRuns.WithLabelValues("ok").Inc()
	}
}

// LLMObserver returns a hook for llm.NewProvider.
func (m *Metrics) LLMObserver() llm.Observer {
	return func(modelID string, d time.Duration, usage llm.Usage, err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.LLMRequests.WithLabelValues(modelID, status).Inc()
		m.LLMLatency.WithLabelValues(modelID).Observe(d.Seconds())
		m.LLMTokens.WithLabelValues(modelID, "input").Add(float64(usage.InputTokens))
		m.LLMTokens.WithLabelValues(modelID, "output").Add(float64(usage.OutputTokens))
	}
}

// ObserveEvent records one handler invocation on the event bus.
func (m *Metrics) ObserveEvent(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EventDeliveries.WithLabelValues(eventType, status).Inc()
}

// Middleware counts requests by their chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
