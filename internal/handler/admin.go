package handler

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KankareDEV/lms-v4/internal/examfile"
	"github.com/KankareDEV/lms-v4/internal/model"
)

const maxExamFile = 10 << 20

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

type uploadResponse struct {
	ExamID    string `json:"exam_id"`
	Questions int    `json:"questions"`
	Imported  bool   `json:"imported"`
}

// handleUploadExam accepts an exam definition as the request body. YAML is
// detected from the content type, anything else is read as JSON.
func (h *Handler) handleUploadExam(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxExamFile))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "file too large"})
		return
	}
	isYAML := strings.Contains(r.Header.Get("Content-Type"), "yaml")
	f, err := examfile.Parse(data, isYAML)
	if err != nil {
		writeError(w, r, err)
		return
	}
	imported, err := examfile.Import(r.Context(), h.store, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if imported {
		status = http.StatusCreated
		slog.Info("exam uploaded", "exam_id", f.Exam.ID, "by", identityFrom(r.Context()).UserID)
	}
	writeJSON(w, status, uploadResponse{ExamID: f.Exam.ID, Questions: len(f.Questions), Imported: imported})
}

type statusRequest struct {
	Status model.ExamStatus `json:"status"`
}

func (h *Handler) handleSetExamStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	switch req.Status {
	case model.ExamDraft, model.ExamReleased, model.ExamClosed, model.ExamArchived:
	default:
		writeError(w, r, fmt.Errorf("%w: unknown exam status %q", errBadRequest, req.Status))
		return
	}
	examID := chi.URLParam(r, "examID")
	if err := h.store.SetExamStatus(r.Context(), examID, req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	exam, err := h.store.GetExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

type userRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Lang        string `json:"lang"`
}

func (h *Handler) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u := model.User{
		ID:          chi.URLParam(r, "userID"),
		Email:       strings.TrimSpace(req.Email),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Lang:        strings.TrimSpace(req.Lang),
	}
	if u.DisplayName == "" {
		u.DisplayName = u.ID
	}
	if err := h.store.PutUser(r.Context(), u); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.store.GetUser(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type courseworkRequest struct {
	Status model.CourseworkStatus `json:"status"`
}

func (h *Handler) handlePutCoursework(w http.ResponseWriter, r *http.Request) {
	var req courseworkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, fmt.Errorf("%w: unknown coursework status %q", errBadRequest, req.Status))
		return
	}
	c, err := h.store.PutCoursework(r.Context(), model.Coursework{
		StudentID: chi.URLParam(r, "studentID"),
		CourseID:  chi.URLParam(r, "courseID"),
		Status:    req.Status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type gradeRequest struct {
	StudentID string  `json:"student_id"`
	CourseID  string  `json:"course_id"`
	ExamID    string  `json:"exam_id"`
	Title     string  `json:"title"`
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score"`
	Comment   string  `json:"comment"`
}

// handlePostGrade records a teacher-posted grade. The notification mail is
// queued by the grade.created subscriber, not here.
func (h *Handler) handlePostGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	switch {
	case strings.TrimSpace(req.StudentID) == "":
		writeError(w, r, fmt.Errorf("%w: student_id is required", errBadRequest))
		return
	case math.IsNaN(req.Score) || req.Score < 0 || (req.MaxScore > 0 && req.Score > req.MaxScore):
		writeError(w, r, fmt.Errorf("%w: score must be between 0 and max_score", errBadRequest))
		return
	}
	g, err := h.store.CreateGrade(r.Context(), model.Grade{
		StudentID: strings.TrimSpace(req.StudentID),
		CourseID:  req.CourseID,
		ExamID:    req.ExamID,
		Title:     req.Title,
		Score:     req.Score,
		MaxScore:  req.MaxScore,
		Comment:   req.Comment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}
