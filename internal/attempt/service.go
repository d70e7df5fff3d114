package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KankareDEV/lms-v4/internal/grading"
	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/store"
)

// Store is the persistence the service needs.
type Store interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
	ListQuestions(ctx context.Context, examID string) ([]model.Question, error)
	CreateAttempt(ctx context.Context, a model.Attempt) (model.Attempt, error)
	GetAttempt(ctx context.Context, key model.AttemptKey) (model.Attempt, error)
	UpdateAttempt(ctx context.Context, key model.AttemptKey, fn func(a *model.Attempt) error) (model.Attempt, error)
	ListAttempts(ctx context.Context, examID string) ([]model.Attempt, error)
	ListInProgress(ctx context.Context) ([]model.Attempt, error)
	GetAIReport(ctx context.Context, key model.AttemptKey) (model.AIReport, error)
	HasGrade(ctx context.Context, key model.AttemptKey) (bool, error)
}

// EligibilityGate decides whether a student may begin an exam that
// requires approved coursework.
type EligibilityGate interface {
	CourseworkApproved(ctx context.Context, studentID, courseID string) (bool, error)
}

// Service applies the attempt state machine on top of the store.
type Service struct {
	store  Store
	gate   EligibilityGate
	grader grading.Grader
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithGrader sets the grader used to show deterministic points in the
// teacher view.
func WithGrader(g grading.Grader) Option { return func(s *Service) { s.grader = g } }

// New creates a Service. gate may be nil when no exam requires coursework.
func New(st Store, gate EligibilityGate, opts ...Option) *Service {
	s := &Service{store: st, gate: gate, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.grader == nil {
		s.grader = grading.NewDefaultGrader()
	}
	return s
}

func (s *Service) checkGate(ctx context.Context, exam model.Exam, studentID string) error {
	if !exam.RequireCourseworkComplete {
		return nil
	}
	if s.gate == nil {
		return fmt.Errorf("%w: no eligibility gate configured", ErrNotEligible)
	}
	ok, err := s.gate.CourseworkApproved(ctx, studentID, exam.CourseID)
	if err != nil {
		return fmt.Errorf("check coursework: %w", err)
	}
	if !ok {
		return ErrNotEligible
	}
	return nil
}

// Start opens an attempt. Starting an attempt that is already in progress
// returns it unchanged.
func (s *Service) Start(ctx context.Context, key model.AttemptKey) (model.Attempt, error) {
	exam, err := s.store.GetExam(ctx, key.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}
	return s.start(ctx, exam, key)
}

func (s *Service) start(ctx context.Context, exam model.Exam, key model.AttemptKey) (model.Attempt, error) {
	existing, err := s.store.GetAttempt(ctx, key)
	switch {
	case err == nil:
		if existing.Submitted() {
			return existing, ErrAlreadySubmitted
		}
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return model.Attempt{}, err
	}

	now := s.now().UTC()
	fresh := model.Attempt{ExamID: key.ExamID, StudentID: key.StudentID, Status: model.StatusNotStarted, CreatedAt: now}
	if err := Editable(exam, fresh, now); err != nil {
		return model.Attempt{}, err
	}
	if err := s.checkGate(ctx, exam, key.StudentID); err != nil {
		return model.Attempt{}, err
	}
	if err := transition(&fresh, model.StatusInProgress); err != nil {
		return model.Attempt{}, err
	}
	a, err := s.store.CreateAttempt(ctx, fresh)
	if errors.Is(err, store.ErrConflict) {
		return s.store.GetAttempt(ctx, key)
	}
	if err != nil {
		return model.Attempt{}, err
	}
	slog.Info("attempt started", "exam_id", key.ExamID, "student_id", key.StudentID)
	return a, nil
}

// normalizeAnswers converts raw client answers into typed answers. Every
// id must name a question of the exam.
func normalizeAnswers(questions []model.Question, raw map[string]json.RawMessage) (map[string]model.Answer, error) {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make(map[string]model.Answer, len(raw))
	for id, v := range raw {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
		}
		a, err := model.NormalizeAnswer(q.Type, v)
		if err != nil {
			return nil, fmt.Errorf("question %q: %w", id, err)
		}
		out[id] = a
	}
	return out, nil
}

// SaveAnswers merges answers into the attempt, creating it first when the
// student has not started yet.
func (s *Service) SaveAnswers(ctx context.Context, key model.AttemptKey, raw map[string]json.RawMessage) (model.Attempt, error) {
	exam, err := s.store.GetExam(ctx, key.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}
	questions, err := s.store.ListQuestions(ctx, key.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}
	answers, err := normalizeAnswers(questions, raw)
	if err != nil {
		return model.Attempt{}, err
	}
	if _, err := s.start(ctx, exam, key); err != nil {
		return model.Attempt{}, err
	}

	now := s.now().UTC()
	return s.store.UpdateAttempt(ctx, key, func(a *model.Attempt) error {
		if err := Editable(exam, *a, now); err != nil {
			return err
		}
		if a.Status == model.StatusNotStarted {
			if err := transition(a, model.StatusInProgress); err != nil {
				return err
			}
		}
		if a.Answers == nil {
			a.Answers = map[string]model.Answer{}
		}
		for id, ans := range answers {
			a.Answers[id] = ans
		}
		return nil
	})
}

// Submit freezes the answers and records the submission. It is allowed
// after the window closed so a late click still counts.
func (s *Service) Submit(ctx context.Context, key model.AttemptKey) (model.Attempt, error) {
	now := s.now().UTC()
	a, err := s.store.UpdateAttempt(ctx, key, func(a *model.Attempt) error {
		return markSubmitted(a, now)
	})
	if err != nil {
		return a, err
	}
	slog.Info("attempt submitted", "exam_id", key.ExamID, "student_id", key.StudentID)
	return a, nil
}

func markSubmitted(a *model.Attempt, now time.Time) error {
	if a.Submitted() {
		return ErrAlreadySubmitted
	}
	if err := transition(a, model.StatusSubmitted); err != nil {
		return err
	}
	a.SubmittedAt = &now
	return nil
}

// ImportSubmission records a complete submission in one write, for
// answers collected outside the attempt flow.
func (s *Service) ImportSubmission(ctx context.Context, key model.AttemptKey, raw map[string]json.RawMessage) (model.Attempt, error) {
	exam, err := s.store.GetExam(ctx, key.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}
	questions, err := s.store.ListQuestions(ctx, key.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}
	answers, err := normalizeAnswers(questions, raw)
	if err != nil {
		return model.Attempt{}, err
	}
	if err := s.checkGate(ctx, exam, key.StudentID); err != nil {
		return model.Attempt{}, err
	}
	now := s.now().UTC()
	a, err := s.store.CreateAttempt(ctx, model.Attempt{
		ExamID:      key.ExamID,
		StudentID:   key.StudentID,
		Status:      model.StatusSubmitted,
		Answers:     answers,
		CreatedAt:   now,
		SubmittedAt: &now,
	})
	if err != nil {
		return a, err
	}
	slog.Info("submission imported", "exam_id", key.ExamID, "student_id", key.StudentID, "answers", len(answers))
	return a, nil
}

// ApplyManualMarks replaces the scores of a submitted attempt with teacher
// marks. Questions without a mark score 0. The attempt is marked as
// overridden so automatic runs leave it alone.
func (s *Service) ApplyManualMarks(ctx context.Context, key model.AttemptKey, marks map[string]float64, teacherID string) (model.Attempt, error) {
	questions, err := s.store.ListQuestions(ctx, key.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}
	scores, err := grading.ManualScores(questions, marks)
	if err != nil {
		return model.Attempt{}, err
	}
	now := s.now().UTC()
	a, err := s.store.UpdateAttempt(ctx, key, func(a *model.Attempt) error {
		if !a.Submitted() {
			return ErrNotSubmitted
		}
		if err := transition(a, model.StatusGraded); err != nil {
			return err
		}
		if a.SubmittedAt == nil {
			a.SubmittedAt = &now
		}
		a.Scores = scores
		a.TeacherOverride = true
		a.NeedsManual = false
		a.GradedBy = teacherID
		a.GradedAt = &now
		return nil
	})
	if err != nil {
		return a, err
	}
	slog.Info("manual marks applied", "exam_id", key.ExamID, "student_id", key.StudentID,
		"teacher_id", teacherID, "total", scores.Total())
	return a, nil
}

// AutoSubmitExpired submits every in-progress attempt whose deadline has
// passed and returns how many were submitted.
func (s *Service) AutoSubmitExpired(ctx context.Context) (int, error) {
	open, err := s.store.ListInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in-progress attempts: %w", err)
	}
	now := s.now().UTC()
	exams := map[string]model.Exam{}
	n := 0
	for _, a := range open {
		exam, ok := exams[a.ExamID]
		if !ok {
			exam, err = s.store.GetExam(ctx, a.ExamID)
			if err != nil {
				slog.Error("auto-submit: load exam", "exam_id", a.ExamID, "error", err)
				continue
			}
			exams[a.ExamID] = exam
		}
		deadline, ok := exam.Deadline(a.CreatedAt)
		if !ok || now.Before(deadline) {
			continue
		}
		changed := false
		_, err := s.store.UpdateAttempt(ctx, a.Key(), func(cur *model.Attempt) error {
			if cur.Status != model.StatusInProgress {
				return store.ErrSkip
			}
			changed = true
			return markSubmitted(cur, now)
		})
		if err != nil {
			slog.Error("auto-submit failed", "exam_id", a.ExamID, "student_id", a.StudentID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		slog.Info("attempt auto-submitted", "exam_id", a.ExamID, "student_id", a.StudentID, "deadline", deadline)
		n++
	}
	return n, nil
}

// RunAutoSubmit calls AutoSubmitExpired every interval until ctx is done.
func (s *Service) RunAutoSubmit(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.AutoSubmitExpired(ctx); err != nil {
				slog.Error("auto-submit sweep failed", "error", err)
			}
		}
	}
}
