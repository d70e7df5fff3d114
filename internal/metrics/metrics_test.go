package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/KankareDEV/lms-v4/internal/llm"
	"github.com/KankareDEV/lms-v4/internal/model"
)

func TestObserveRunAndAI(t *testing.T) {
	m := New()
	m.ObserveRun("graded", 2*time.Second)
	m.ObserveRun("graded", time.Second)
	m.ObserveRun("error", time.Millisecond)

	if got := testutil.ToFloat64(m.GradingRuns.WithLabelValues("graded")); got != 2 {
		t.Errorf("graded runs = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.GradingDuration); got != 1 {
		t.Errorf("histogram series = %d", got)
	}

	msg := "timeout"
	m.ObserveAI(model.AIMeta{})
	m.ObserveAI(model.AIMeta{Used: true})
	m.ObserveAI(model.AIMeta{Used: true, Error: &msg})
	for _, outcome := range []string{"skipped", "ok", "failed"} {
		if got := testutil.ToFloat64(m.AIRuns.WithLabelValues(outcome)); got != 1 {
			t.Errorf("ai %s = %v, want 1", outcome, got)
		}
	}
}

func TestLLMObserver(t *testing.T) {
	m := New()
	obs := m.LLMObserver()
	obs("gpt-4o-mini", time.Second, llm.Usage{InputTokens: 100, OutputTokens: 20}, nil)
	obs("gpt-4o-mini", time.Second, llm.Usage{}, errors.New("503"))

	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("gpt-4o-mini", "error")); got != 1 {
		t.Errorf("errors = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("gpt-4o-mini", "input")); got != 100 {
		t.Errorf("input tokens = %v", got)
	}
}

func TestEventObserver(t *testing.T) {
	m := New()
	m.ObserveEvent("attempt.written", nil)
	m.ObserveEvent("attempt.written", errors.New("boom"))
	if got := testutil.ToFloat64(m.EventDeliveries.WithLabelValues("attempt.written", "error")); got != 1 {
		t.Errorf("event errors = %v", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/exams/{examID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/exams/"+id, nil))
	}
	if got := testutil.ToFloat64(m.RequestCounter.WithLabelValues("GET", "/exams/{examID}", "418")); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `http_requests_total{endpoint="/exams/{examID}",method="GET",status="418"} 2`) {
		t.Errorf("exposition missing request counter:\n%.500s", body)
	}
}
