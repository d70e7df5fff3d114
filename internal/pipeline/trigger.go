package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/store"
)

// Runner is the part of Pipeline the triggers call.
type Runner interface {
	Run(ctx context.Context, key model.AttemptKey, opts RunOptions) (Outcome, error)
}

// Triggers decide which attempt writes start a grading run.
type Triggers struct {
	runner Runner
}

// NewTriggers wires triggers to a runner.
func NewTriggers(r Runner) *Triggers { return &Triggers{runner: r} }

// NewlySubmitted reports whether a write moved an attempt into the
// submitted state: submittedAt went from unset to set, or the status
// flipped to submitted. Later moves such as submitted to grading do not
// count.
func NewlySubmitted(before, after model.Attempt) bool {
	if before.SubmittedAt == nil && after.SubmittedAt != nil {
		return true
	}
	return before.Status != model.StatusSubmitted && after.Status == model.StatusSubmitted
}

// SubmissionCreated grades an attempt that was created already submitted.
func (t *Triggers) SubmissionCreated(ctx context.Context, after model.Attempt) error {
	if !after.Submitted() {
		return nil
	}
	_, err := t.runner.Run(ctx, after.Key(), RunOptions{})
	return err
}

// AttemptWritten grades an attempt when the write newly recorded its
// submission and is a no-op otherwise.
func (t *Triggers) AttemptWritten(ctx context.Context, before, after model.Attempt) error {
	if !NewlySubmitted(before, after) {
		return nil
	}
	_, err := t.runner.Run(ctx, after.Key(), RunOptions{})
	return err
}

// Handle adapts the triggers to store events.
func (t *Triggers) Handle(ctx context.Context, e store.Event) error {
	var change store.AttemptChange
	if err := json.Unmarshal(e.Data, &change); err != nil {
		return fmt.Errorf("decode %s event %d: %w", e.Type, e.Seq, err)
	}
	switch e.Type {
	case store.EventAttemptCreated:
		return t.SubmissionCreated(ctx, change.After)
	case store.EventAttemptWritten:
		if change.Before == nil {
			return t.SubmissionCreated(ctx, change.After)
		}
		return t.AttemptWritten(ctx, *change.Before, change.After)
	}
	return nil
}
