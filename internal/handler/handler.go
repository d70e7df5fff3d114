// Package handler exposes the attempt lifecycle, teacher review and grade
// posting as a JSON API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KankareDEV/lms-v4/internal/attempt"
	"github.com/KankareDEV/lms-v4/internal/examfile"
	appI18n "github.com/KankareDEV/lms-v4/internal/i18n"
	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/pipeline"
	"github.com/KankareDEV/lms-v4/internal/store"
)

// Regrader runs an explicit regrade.
type Regrader interface {
	Regrade(ctx context.Context, key model.AttemptKey) (pipeline.Outcome, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	attempts *attempt.Service
	regrader Regrader
}

// New creates a new Handler.
func New(s *store.Store, attempts *attempt.Service, regrader Regrader) *Handler {
	return &Handler{store: s, attempts: attempts, regrader: regrader}
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(identityMiddleware)
	r.Use(appI18n.Middleware)

	r.Get("/healthz", h.handleHealth)

	r.Route("/exams/{examID}", func(r chi.Router) {
		r.Post("/attempts/{studentID}", h.handleStart)
		r.Get("/attempts/{studentID}", h.handleStudentView)
		r.Put("/attempts/{studentID}/answers", h.handleSaveAnswers)
		r.Post("/attempts/{studentID}/submit", h.handleSubmit)
		r.Post("/submissions/{studentID}", h.handleImportSubmission)
	})

	r.Put("/users/{userID}", h.handlePutUser)
	r.Put("/coursework/{studentID}/{courseID}", h.handlePutCoursework)

	r.Route("/teacher", func(r chi.Router) {
		r.Use(requireRole(RoleTeacher, RoleAdmin))
		r.Get("/exams", h.handleListExams)
		r.Post("/exams", h.handleUploadExam)
		r.Put("/exams/{examID}/status", h.handleSetExamStatus)
		r.Get("/exams/{examID}/export", h.handleExport)
		r.Get("/exams/{examID}/attempts", h.handleListAttempts)
		r.Get("/exams/{examID}/attempts/{studentID}", h.handleTeacherView)
		r.Post("/exams/{examID}/attempts/{studentID}/marks", h.handleManualMarks)
		r.Post("/exams/{examID}/attempts/{studentID}/regrade", h.handleRegrade)
		r.Post("/grades", h.handlePostGrade)
	})
}

func attemptKey(r *http.Request) model.AttemptKey {
	return model.AttemptKey{ExamID: chi.URLParam(r, "examID"), StudentID: chi.URLParam(r, "studentID")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attempt.ErrNotEligible), errors.Is(err, attempt.ErrExamNotOpen):
		return http.StatusForbidden
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrExamLocked),
		errors.Is(err, attempt.ErrAlreadySubmitted),
		errors.Is(err, attempt.ErrNotEditable),
		errors.Is(err, attempt.ErrNotSubmitted),
		errors.Is(err, attempt.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, attempt.ErrInvalidMarks),
		errors.Is(err, attempt.ErrUnknownQuestion),
		errors.Is(err, model.ErrMalformedAnswer),
		errors.Is(err, examfile.ErrInvalid),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- student ---

type studentResponse struct {
	attempt.StudentView
	StatusLabel string `json:"status_label"`
	Progress    string `json:"progress"`
}

func (h *Handler) studentResponse(ctx context.Context, key model.AttemptKey) (studentResponse, error) {
	v, err := h.attempts.StudentView(ctx, key)
	if err != nil {
		return studentResponse{}, err
	}
	return studentResponse{
		StudentView: v,
		StatusLabel: appI18n.StatusLabel(ctx, v.Status, v.AwaitingReview),
		Progress:    appI18n.Tp(ctx, "QuestionsAnswered", len(v.Answers)),
	}, nil
}

func (h *Handler) respondStudent(w http.ResponseWriter, r *http.Request, status int, key model.AttemptKey) {
	resp, err := h.studentResponse(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	key := attemptKey(r)
	if _, err := h.attempts.Start(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondStudent(w, r, http.StatusOK, key)
}

func (h *Handler) handleStudentView(w http.ResponseWriter, r *http.Request) {
	h.respondStudent(w, r, http.StatusOK, attemptKey(r))
}

func (h *Handler) handleSaveAnswers(w http.ResponseWriter, r *http.Request) {
	var answers map[string]json.RawMessage
	if err := decodeJSON(w, r, &answers); err != nil {
		writeError(w, r, err)
		return
	}
	key := attemptKey(r)
	if _, err := h.attempts.SaveAnswers(r.Context(), key, answers); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondStudent(w, r, http.StatusOK, key)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	key := attemptKey(r)
	if _, err := h.attempts.Submit(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondStudent(w, r, http.StatusOK, key)
}

func (h *Handler) handleImportSubmission(w http.ResponseWriter, r *http.Request) {
	var answers map[string]json.RawMessage
	if err := decodeJSON(w, r, &answers); err != nil {
		writeError(w, r, err)
		return
	}
	key := attemptKey(r)
	if _, err := h.attempts.ImportSubmission(r.Context(), key, answers); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondStudent(w, r, http.StatusCreated, key)
}

// --- teacher ---

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	list, err := h.attempts.ListAttempts(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleTeacherView(w http.ResponseWriter, r *http.Request) {
	v, err := h.attempts.TeacherView(r.Context(), attemptKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type marksRequest struct {
	Marks map[string]float64 `json:"marks"`
}

func (h *Handler) handleManualMarks(w http.ResponseWriter, r *http.Request) {
	var req marksRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.attempts.ApplyManualMarks(r.Context(), attemptKey(r), req.Marks, identityFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type regradeResponse struct {
	Result  string          `json:"result"`
	Attempt model.Attempt   `json:"attempt"`
	Report  *model.AIReport `json:"ai_report,omitempty"`
}

func (h *Handler) handleRegrade(w http.ResponseWriter, r *http.Request) {
	out, err := h.regrader.Regrade(r.Context(), attemptKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out.Result == pipeline.ResultSkippedUnsubmitted {
		writeError(w, r, attempt.ErrNotSubmitted)
		return
	}
	writeJSON(w, http.StatusOK, regradeResponse{Result: out.Result, Attempt: out.Attempt, Report: out.Report})
}
