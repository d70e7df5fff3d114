// Package grading scores answers deterministically and reconciles those
// scores with AI suggestions and teacher overrides.
package grading

import (
	"context"
	"log/slog"

	"github.com/KankareDEV/lms-v4/internal/mathexpr"
	"github.com/KankareDEV/lms-v4/internal/model"
)

// Result is the outcome of grading a single question response.
type Result struct {
	AutoPoints  float64  // points awarded automatically
	MaxPoints   float64  // the question's marks
	NeedsManual bool     // no automatic source could grade it
	Feedback    []string // optional notes, e.g. evaluation failures
}

// Strategy grades one question type. ans is nil when the question was
// left unanswered. Strategies never fail: problems are scored as 0 and
// noted in Feedback.
type Strategy interface {
	Grade(ctx context.Context, q model.Question, ans *model.Answer) Result
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q model.Question, ans *model.Answer) Result
}

type defaultGrader struct {
	strategies map[model.QuestionType]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q model.Question, ans *model.Answer) Result {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: marks(q), NeedsManual: true, Feedback: []string{"no strategy available"}}
	}
	return s.Grade(ctx, q, ans)
}

// Option configures the default grader.
type Option func(*config)

type config struct {
	evaluator mathexpr.Evaluator
}

// WithEvaluator sets the expression evaluator used by the math strategy.
func WithEvaluator(ev mathexpr.Evaluator) Option { return func(c *config) { c.evaluator = ev } }

// NewDefaultGrader installs the built-in strategies.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.evaluator == nil {
		cfg.evaluator = mathexpr.New()
	}
	return &defaultGrader{
		strategies: map[model.QuestionType]Strategy{
			model.QuestionMCQ:   mcqStrategy{},
			model.QuestionYesNo: yesNoStrategy{},
			model.QuestionMath:  mathStrategy{ev: cfg.evaluator},
			model.QuestionEssay: essayStrategy{},
		},
	}
}

// GradeAll runs g over every question. Questions whose automatic marking
// is disabled by settings score 0 and are flagged for manual review.
func GradeAll(ctx context.Context, g Grader, settings model.ExamSettings, questions []model.Question, answers map[string]model.Answer) map[string]Result {
	out := make(map[string]Result, len(questions))
	for _, q := range questions {
		if (q.Type == model.QuestionMCQ && !settings.AutoMarkMC) ||
			(q.Type == model.QuestionYesNo && !settings.AutoMarkYN) {
			out[q.ID] = Result{MaxPoints: marks(q), NeedsManual: true, Feedback: []string{"automatic marking disabled"}}
			continue
		}
		var ans *model.Answer
		if a, ok := answers[q.ID]; ok {
			ans = &a
		}
		out[q.ID] = g.Grade(ctx, q, ans)
	}
	return out
}

func marks(q model.Question) float64 { return model.Coerce(q.Marks) }

// --- Strategies ---

type mcqStrategy struct{}

func (mcqStrategy) Grade(_ context.Context, q model.Question, ans *model.Answer) Result {
	res := Result{MaxPoints: marks(q)}
	if ans == nil || ans.Type != model.QuestionMCQ {
		return res
	}
	if setEqual(toSet(q.CorrectOptions), toSet(ans.Choices)) {
		res.AutoPoints = res.MaxPoints
	}
	return res
}

type yesNoStrategy struct{}

func (yesNoStrategy) Grade(_ context.Context, q model.Question, ans *model.Answer) Result {
	res := Result{MaxPoints: marks(q)}
	if ans == nil || ans.Type != model.QuestionYesNo {
		return res
	}
	if ans.YesNo == q.CorrectAnswer {
		res.AutoPoints = res.MaxPoints
	}
	return res
}

type essayStrategy struct{}

func (essayStrategy) Grade(_ context.Context, q model.Question, ans *model.Answer) Result {
	res := Result{MaxPoints: marks(q)}
	if ans != nil && ans.Text != "" {
		res.NeedsManual = true
	}
	return res
}

type mathStrategy struct{ ev mathexpr.Evaluator }

func (s mathStrategy) Grade(_ context.Context, q model.Question, ans *model.Answer) Result {
	res := Result{MaxPoints: marks(q)}
	expected, err := s.ev.Eval(q.Solution)
	if err != nil {
		slog.Warn("math solution evaluation failed", "question_id", q.ID, "error", err)
		res.NeedsManual = true
		res.Feedback = append(res.Feedback, "reference solution could not be evaluated: "+err.Error())
		return res
	}
	if ans == nil || ans.Type != model.QuestionMath {
		return res
	}
	got, err := s.ev.Eval(ans.Text)
	if err != nil {
		slog.Warn("math answer evaluation failed", "question_id", q.ID, "error", err)
		res.Feedback = append(res.Feedback, "answer could not be evaluated: "+err.Error())
		return res
	}
	tol := model.Coerce(q.Tolerance)
	if diff := expected - got; diff <= tol && -diff <= tol {
		res.AutoPoints = res.MaxPoints
	}
	return res
}

// --- helpers ---

func toSet(xs []int) map[int]struct{} {
	m := make(map[int]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func setEqual(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
