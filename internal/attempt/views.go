package attempt

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/KankareDEV/lms-v4/internal/aigrade"
	"github.com/KankareDEV/lms-v4/internal/grading"
	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/store"
)

// Teacher view warnings.
const (
	WarnAIPending   = "ai_pending"
	WarnAIFailed    = "ai_failed"
	WarnAIDisagrees = "ai_disagrees"
	WarnNeedsManual = "needs_manual"
)

const disagreeEpsilon = 1e-9

// StudentView is what a student sees of their own attempt. Scores are
// present only once the result is released to them.
type StudentView struct {
	ExamID         string              `json:"exam_id"`
	StudentID      string              `json:"student_id"`
	Status         model.AttemptStatus `json:"status"`
	Answers        map[string]any      `json:"answers"`
	SubmittedAt    *time.Time          `json:"submitted_at,omitempty"`
	Deadline       *time.Time          `json:"deadline,omitempty"`
	AwaitingReview bool                `json:"awaiting_review"`
	Scores         model.Scores        `json:"scores,omitempty"`
}

// ScoresVisible reports whether a student may see the scores of a. Scores
// are released once the attempt is graded and a teacher has either entered
// marks or posted a grade for it.
func ScoresVisible(a model.Attempt, gradePosted bool) bool {
	return a.Status == model.StatusGraded && (a.TeacherOverride || gradePosted)
}

// StudentView returns the student's view of an attempt.
func (s *Service) StudentView(ctx context.Context, key model.AttemptKey) (StudentView, error) {
	a, err := s.store.GetAttempt(ctx, key)
	if err != nil {
		return StudentView{}, err
	}
	v := StudentView{
		ExamID:      a.ExamID,
		StudentID:   a.StudentID,
		Status:      a.Status,
		Answers:     make(map[string]any, len(a.Answers)),
		SubmittedAt: a.SubmittedAt,
	}
	for id, ans := range a.Answers {
		v.Answers[id] = ans.Value()
	}
	if !a.Submitted() {
		exam, err := s.store.GetExam(ctx, key.ExamID)
		if err != nil {
			return v, err
		}
		if d, ok := exam.Deadline(a.CreatedAt); ok {
			v.Deadline = &d
		}
		return v, nil
	}
	posted, err := s.store.HasGrade(ctx, key)
	if err != nil {
		return v, err
	}
	if ScoresVisible(a, posted) {
		v.Scores = a.Scores.Clone()
	} else {
		v.AwaitingReview = true
	}
	return v, nil
}

// QuestionReview is one row of the teacher view.
type QuestionReview struct {
	QuestionID   string                 `json:"question_id"`
	Type         model.QuestionType     `json:"type"`
	Text         string                 `json:"text"`
	Marks        float64                `json:"marks"`
	Answer       any                    `json:"answer"`
	Answered     bool                   `json:"answered"`
	Score        float64                `json:"score"`
	AutoPoints   float64                `json:"auto_points"`
	AutoFeedback []string               `json:"auto_feedback,omitempty"`
	AIPoints     *float64               `json:"ai_points,omitempty"`
	AIReason     string                 `json:"ai_reason,omitempty"`
	AICriteria   []model.CriterionScore `json:"ai_criteria,omitempty"`
	AIDisagrees  bool                   `json:"ai_disagrees"`
}

// TeacherView is the review screen for one attempt.
type TeacherView struct {
	Attempt   model.Attempt    `json:"attempt"`
	Questions []QuestionReview `json:"questions"`
	AIMeta    *model.AIMeta    `json:"ai_meta,omitempty"`
	AITotal   *float64         `json:"ai_total,omitempty"`
	Warnings  []string         `json:"warnings"`
}

// TeacherView returns the attempt with deterministic and AI numbers per
// question and warnings about missing, failed or diverging AI feedback.
func (s *Service) TeacherView(ctx context.Context, key model.AttemptKey) (TeacherView, error) {
	a, err := s.store.GetAttempt(ctx, key)
	if err != nil {
		return TeacherView{}, err
	}
	exam, err := s.store.GetExam(ctx, key.ExamID)
	if err != nil {
		return TeacherView{}, err
	}
	questions, err := s.store.ListQuestions(ctx, key.ExamID)
	if err != nil {
		return TeacherView{}, err
	}
	var report *model.AIReport
	r, err := s.store.GetAIReport(ctx, key)
	switch {
	case err == nil:
		report = &r
	case !errors.Is(err, store.ErrNotFound):
		return TeacherView{}, err
	}

	det := grading.GradeAll(ctx, s.grader, exam.Settings, questions, a.Answers)
	v := TeacherView{Attempt: a, Warnings: []string{}}
	disagrees := false
	for _, q := range questions {
		ans, answered := a.Answers[q.ID]
		row := QuestionReview{
			QuestionID:   q.ID,
			Type:         q.Type,
			Text:         q.Text,
			Marks:        q.Marks,
			Answered:     answered,
			Score:        a.Scores[q.ID],
			AutoPoints:   det[q.ID].AutoPoints,
			AutoFeedback: det[q.ID].Feedback,
		}
		if answered {
			row.Answer = ans.Value()
		}
		if report != nil {
			if res, ok := report.PerQuestion[q.ID]; ok {
				p := res.Points
				row.AIPoints = &p
				row.AIReason = res.Reason
				row.AICriteria = res.PerCriterion
				if a.Status == model.StatusGraded && math.Abs(p-row.Score) > disagreeEpsilon {
					row.AIDisagrees = true
					disagrees = true
				}
			}
		}
		v.Questions = append(v.Questions, row)
	}

	aiExpected := len(aigrade.Eligible(exam.Settings, questions)) > 0
	switch {
	case report != nil:
		meta, total := report.Meta, report.Total
		v.AIMeta, v.AITotal = &meta, &total
		if meta.Failed() {
			v.Warnings = append(v.Warnings, WarnAIFailed)
		}
	case aiExpected && a.Submitted():
		v.Warnings = append(v.Warnings, WarnAIPending)
	}
	if disagrees {
		v.Warnings = append(v.Warnings, WarnAIDisagrees)
	}
	if a.NeedsManual {
		v.Warnings = append(v.Warnings, WarnNeedsManual)
	}
	return v, nil
}

// AttemptSummary is one row of the teacher's attempt list.
type AttemptSummary struct {
	StudentID       string              `json:"student_id"`
	Status          model.AttemptStatus `json:"status"`
	Total           float64             `json:"total"`
	NeedsManual     bool                `json:"needs_manual"`
	TeacherOverride bool                `json:"teacher_override"`
	SubmittedAt     *time.Time          `json:"submitted_at,omitempty"`
	GradedAt        *time.Time          `json:"graded_at,omitempty"`
}

// ListAttempts summarizes every attempt on an exam.
func (s *Service) ListAttempts(ctx context.Context, examID string) ([]AttemptSummary, error) {
	if _, err := s.store.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, examID)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, AttemptSummary{
			StudentID:       a.StudentID,
			Status:          a.Status,
			Total:           a.Scores.Total(),
			NeedsManual:     a.NeedsManual,
			TeacherOverride: a.TeacherOverride,
			SubmittedAt:     a.SubmittedAt,
			GradedAt:        a.GradedAt,
		})
	}
	return out, nil
}
