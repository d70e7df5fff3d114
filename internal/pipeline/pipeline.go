// Package pipeline grades submitted attempts: deterministic graders first,
// then the AI pass, then reconciliation and the final write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KankareDEV/lms-v4/internal/aigrade"
	"github.com/KankareDEV/lms-v4/internal/attempt"
	"github.com/KankareDEV/lms-v4/internal/grading"
	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/store"
)

// GraderID is recorded as GradedBy on automatic runs.
const GraderID = "auto"

// Store is the persistence the pipeline needs.
type Store interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
	ListQuestions(ctx context.Context, examID string) ([]model.Question, error)
	GetAttempt(ctx context.Context, key model.AttemptKey) (model.Attempt, error)
	UpdateAttempt(ctx context.Context, key model.AttemptKey, fn func(a *model.Attempt) error) (model.Attempt, error)
	PutAIReport(ctx context.Context, r model.AIReport) error
}

// AIGrader runs the AI pass. It reports failures in the outcome instead of
// returning them.
type AIGrader interface {
	Grade(ctx context.Context, in aigrade.Input) aigrade.Outcome
}

// Observer receives run measurements.
type Observer interface {
	ObserveRun(result string, d time.Duration)
	ObserveAI(meta model.AIMeta)
}

// Run results reported to the Observer.
const (
	ResultGraded             = "graded"
	ResultSkippedUnsubmitted = "skipped_unsubmitted"
	ResultSkippedOverride    = "skipped_override"
	ResultSkippedGraded      = "skipped_graded"
	ResultError              = "error"
)

// RunOptions tune a single run.
type RunOptions struct {
	// Force regrades an attempt a teacher has marked and clears the
	// override.
	Force bool
	// Rerun regrades attempts that are already graded. Teacher overrides
	// are still kept unless Force is set.
	Rerun bool
}

func (o RunOptions) regradesGraded() bool { return o.Force || o.Rerun }

// Outcome describes what a run did.
type Outcome struct {
	Result  string
	Attempt model.Attempt
	Report  *model.AIReport
}

// Pipeline grades one attempt per Run.
type Pipeline struct {
	store    Store
	grader   grading.Grader
	ai       AIGrader
	observer Observer
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGrader replaces the deterministic grader.
func WithGrader(g grading.Grader) Option { return func(p *Pipeline) { p.grader = g } }

// WithObserver registers run metrics.
func WithObserver(o Observer) Option { return func(p *Pipeline) { p.observer = o } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New creates a pipeline. ai may be nil, which disables the AI pass.
func New(st Store, ai AIGrader, opts ...Option) *Pipeline {
	p := &Pipeline{store: st, ai: ai, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.grader == nil {
		p.grader = grading.NewDefaultGrader()
	}
	return p
}

// Regrade runs the pipeline even when a teacher has overridden the scores.
func (p *Pipeline) Regrade(ctx context.Context, key model.AttemptKey) (Outcome, error) {
	return p.Run(ctx, key, RunOptions{Force: true})
}

// Run grades the attempt identified by key. Only the report and final score
// writes can fail the run; every earlier failure is recovered and logged.
//
// A graded attempt is left alone unless opts asks for a regrade, so a
// redelivered trigger never calls the model again or changes scores. The AI
// report is written before the scores, which means a graded attempt always
// has its report and a failed run can simply be repeated.
func (p *Pipeline) Run(ctx context.Context, key model.AttemptKey, opts RunOptions) (out Outcome, err error) {
	start := time.Now()
	defer func() {
		if p.observer == nil {
			return
		}
		result := out.Result
		if err != nil {
			result = ResultError
		}
		p.observer.ObserveRun(result, time.Since(start))
	}()

	a, err := p.store.GetAttempt(ctx, key)
	if err != nil {
		return out, fmt.Errorf("load attempt %s: %w", key, err)
	}
	out.Attempt = a
	if !a.Submitted() {
		out.Result = ResultSkippedUnsubmitted
		slog.Debug("grading skipped, attempt not submitted", "exam_id", key.ExamID, "student_id", key.StudentID)
		return out, nil
	}
	if a.TeacherOverride && !opts.Force {
		out.Result = ResultSkippedOverride
		slog.Info("grading skipped, teacher override", "exam_id", key.ExamID, "student_id", key.StudentID)
		return out, nil
	}
	if a.Status == model.StatusGraded && !opts.regradesGraded() {
		out.Result = ResultSkippedGraded
		slog.Debug("grading skipped, attempt already graded", "exam_id", key.ExamID, "student_id", key.StudentID)
		return out, nil
	}

	p.markGrading(ctx, key, opts)

	exam, err := p.store.GetExam(ctx, key.ExamID)
	if err != nil {
		return out, fmt.Errorf("load exam %s: %w", key.ExamID, err)
	}
	questions, err := p.store.ListQuestions(ctx, key.ExamID)
	if err != nil {
		return out, fmt.Errorf("load questions of %s: %w", key.ExamID, err)
	}

	det := grading.GradeAll(ctx, p.grader, exam.Settings, questions, a.Answers)

	ai := aigrade.Outcome{Results: map[string]model.AIResult{}}
	if p.ai != nil {
		ai = p.ai.Grade(ctx, aigrade.Input{
			ExamTitle: exam.Title,
			Settings:  exam.Settings,
			Questions: questions,
			Answers:   a.Answers,
		})
	}
	if p.observer != nil {
		p.observer.ObserveAI(ai.Meta)
	}

	rec := grading.Reconcile(questions, det, ai.Results)

	now := p.now().UTC()
	source := "pipeline"
	if opts.regradesGraded() {
		source = "regrade"
	}
	report := model.AIReport{
		ExamID:      key.ExamID,
		StudentID:   key.StudentID,
		PerQuestion: ai.Results,
		Total:       ai.Total(),
		Meta:        ai.Meta,
		Source:      source,
		CreatedAt:   now,
	}
	if err := p.store.PutAIReport(ctx, report); err != nil {
		return out, fmt.Errorf("write ai report for %s: %w", key, err)
	}
	out.Report = &report

	var skipped string
	final, err := p.store.UpdateAttempt(ctx, key, func(cur *model.Attempt) error {
		switch {
		case cur.TeacherOverride && !opts.Force:
			skipped = ResultSkippedOverride
			return store.ErrSkip
		case cur.Status == model.StatusGraded && !opts.regradesGraded():
			skipped = ResultSkippedGraded
			return store.ErrSkip
		}
		if cur.Status != model.StatusGraded && !attempt.CanTransition(cur.Status, model.StatusGraded) {
			return fmt.Errorf("%w: %s -> %s", attempt.ErrInvalidTransition, cur.Status, model.StatusGraded)
		}
		cur.Status = model.StatusGraded
		cur.Scores = rec.Scores
		cur.NeedsManual = rec.NeedsManual
		cur.GradedAt = &now
		cur.GradedBy = GraderID
		if opts.Force {
			cur.TeacherOverride = false
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("write scores for %s: %w", key, err)
	}
	out.Attempt = final
	out.Result = ResultGraded
	switch skipped {
	case ResultSkippedOverride:
		out.Result = skipped
		slog.Info("teacher override landed during grading, scores kept", "exam_id", key.ExamID, "student_id", key.StudentID)
		return out, nil
	case ResultSkippedGraded:
		out.Result = skipped
		slog.Info("attempt graded by a concurrent run, scores kept", "exam_id", key.ExamID, "student_id", key.StudentID)
		return out, nil
	}

	slog.Info("attempt graded",
		"exam_id", key.ExamID,
		"student_id", key.StudentID,
		"total", final.Scores.Total(),
		"needs_manual", final.NeedsManual,
		"ai_used", ai.Meta.Used,
		"ai_failed", ai.Meta.Failed(),
		"force", opts.Force,
	)
	return out, nil
}

// markGrading records the intermediate grading status. Failure is logged
// and ignored.
func (p *Pipeline) markGrading(ctx context.Context, key model.AttemptKey, opts RunOptions) {
	_, err := p.store.UpdateAttempt(ctx, key, func(cur *model.Attempt) error {
		if cur.TeacherOverride && !opts.Force {
			return store.ErrSkip
		}
		if cur.Status == model.StatusGrading || !attempt.CanTransition(cur.Status, model.StatusGrading) {
			return store.ErrSkip
		}
		cur.Status = model.StatusGrading
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to mark attempt as grading", "exam_id", key.ExamID, "student_id", key.StudentID, "error", err)
	}
}
