// Package aigrade asks a language model to score essay and math answers in
// a single batch and turns its untrusted reply into clamped results.
package aigrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cast"

	"github.com/KankareDEV/lms-v4/internal/llm"
	"github.com/KankareDEV/lms-v4/internal/llm/prompts"
	"github.com/KankareDEV/lms-v4/internal/model"
)

// Input is everything the orchestrator needs for one attempt.
type Input struct {
	ExamTitle string
	Settings  model.ExamSettings
	Questions []model.Question
	Answers   map[string]model.Answer
}

// Outcome is the result of an AI pass. Results is empty when the pass was
// skipped or failed; Meta says which.
type Outcome struct {
	Results map[string]model.AIResult
	Meta    model.AIMeta
}

// Total sums the clamped AI points.
func (o Outcome) Total() float64 {
	var t float64
	for _, r := range o.Results {
		t += r.Points
	}
	return t
}

// Orchestrator runs the AI grading pass.
type Orchestrator struct {
	provider    llm.Provider
	prompts     *prompts.Set
	variant     prompts.PromptVariant
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithVariant selects the grading prompt variant.
func WithVariant(v prompts.PromptVariant) Option { return func(o *Orchestrator) { o.variant = v } }

// WithTimeout bounds the model call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(o *Orchestrator) { o.temperature = t } }

// WithMaxTokens caps the response size.
func WithMaxTokens(n int) Option { return func(o *Orchestrator) { o.maxTokens = n } }

// New creates an orchestrator around an already configured provider.
func New(provider llm.Provider, set *prompts.Set, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:    provider,
		prompts:     set,
		variant:     prompts.PromptStandard,
		timeout:     60 * time.Second,
		temperature: 0.2,
		maxTokens:   4096,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type item struct {
	Type     model.QuestionType `json:"type"`
	Marks    float64            `json:"marks"`
	Question string             `json:"question"`
	Criteria model.Criteria     `json:"criteria"`
	Expected *string            `json:"expected"`
	Answer   string             `json:"answer"`
}

type payload struct {
	ExamTitle string          `json:"examTitle"`
	Items     map[string]item `json:"items"`
}

// Eligible returns the questions the AI pass would grade under settings.
func Eligible(settings model.ExamSettings, questions []model.Question) []model.Question {
	var out []model.Question
	for _, q := range questions {
		if (q.Type == model.QuestionEssay && settings.AIEssay) ||
			(q.Type == model.QuestionMath && settings.AIMath) {
			out = append(out, q)
		}
	}
	return out
}

// Grade runs the AI pass. It never returns an error: failures leave
// Results empty and are recorded in Meta.Error.
func (o *Orchestrator) Grade(ctx context.Context, in Input) Outcome {
	out := Outcome{
		Results: map[string]model.AIResult{},
		Meta:    model.AIMeta{Model: o.provider.ModelID()},
	}

	eligible := Eligible(in.Settings, in.Questions)
	if len(eligible) == 0 {
		return out
	}
	out.Meta.Used = true

	title := in.ExamTitle
	if title == "" {
		title = "Exam"
	}
	p := payload{ExamTitle: title, Items: make(map[string]item, len(eligible))}
	ceilings := make(map[string]float64, len(eligible))
	for _, q := range eligible {
		it := item{
			Type:     q.Type,
			Marks:    model.Coerce(q.Marks),
			Question: q.Text,
			Criteria: q.Rubric.Normalize(),
		}
		if len(it.Criteria) == 0 {
			it.Criteria = model.ParseCriteria(model.DefaultRubric)
		}
		if q.Type == model.QuestionMath && q.Solution != "" {
			sol := q.Solution
			it.Expected = &sol
		}
		if a, ok := in.Answers[q.ID]; ok {
			it.Answer = prompts.WrapAnswer(a.String())
		}
		p.Items[q.ID] = it
		ceilings[q.ID] = it.Marks
	}

	results, servedBy, err := o.call(ctx, p)
	if servedBy != "" {
		out.Meta.Model = servedBy
	}
	if err != nil {
		msg := err.Error()
		out.Meta.Error = &msg
		slog.Warn("AI grading failed", "exam", title, "items", len(p.Items), "error", err)
		return out
	}

	for id, raw := range results {
		ceiling, ok := ceilings[id]
		if !ok {
			slog.Debug("AI result for unknown question dropped", "question_id", id)
			continue
		}
		r, err := parseResult(raw, ceiling)
		if err != nil {
			slog.Warn("AI result dropped", "question_id", id, "error", err)
			continue
		}
		out.Results[id] = r
	}
	return out
}

func (o *Orchestrator) call(ctx context.Context, p payload) (map[string]json.RawMessage, string, error) {
	system, err := o.prompts.BuildGradePrompt(o.variant, prompts.GradeData{ExamTitle: p.ExamTitle, ItemCount: len(p.Items)})
	if err != nil {
		return nil, "", fmt.Errorf("build prompt: %w", err)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.provider.Generate(ctx, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: string(body)}},
		JSON:        true,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("AI request timed out after %s: %w", o.timeout, err)
		}
		return nil, "", fmt.Errorf("AI request: %w", err)
	}

	var results map[string]json.RawMessage
	if err := json.Unmarshal(resp.Content, &results); err != nil {
		return nil, resp.Model, fmt.Errorf("parse AI response: %w (raw: %.200s)", err, resp.Content)
	}
	return results, resp.Model, nil
}

type rawResult struct {
	Points       any `json:"points"`
	Reason       any `json:"reason"`
	PerCriterion []struct {
		Name   any `json:"name"`
		Points any `json:"points"`
		Reason any `json:"reason"`
	} `json:"perCriterion"`
}

// parseResult validates one entry of the model's reply and clamps every
// point value to [0, ceiling].
func parseResult(raw json.RawMessage, ceiling float64) (model.AIResult, error) {
	if err := validateEntry(raw); err != nil {
		return model.AIResult{}, err
	}
	var rr rawResult
	if err := json.Unmarshal(raw, &rr); err != nil {
		return model.AIResult{}, fmt.Errorf("decode entry: %w", err)
	}
	res := model.AIResult{
		Points:       model.Clamp(model.Coerce(rr.Points), 0, ceiling),
		Reason:       cast.ToString(rr.Reason),
		PerCriterion: []model.CriterionScore{},
	}
	for _, c := range rr.PerCriterion {
		res.PerCriterion = append(res.PerCriterion, model.CriterionScore{
			Name:   cast.ToString(c.Name),
			Points: model.Clamp(model.Coerce(c.Points), 0, ceiling),
			Reason: cast.ToString(c.Reason),
		})
	}
	return res, nil
}
