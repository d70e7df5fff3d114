package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/store"
)

type fakeRunner struct {
	runs []model.AttemptKey
	err  error
}

func (f *fakeRunner) Run(_ context.Context, key model.AttemptKey, _ RunOptions) (Outcome, error) {
	f.runs = append(f.runs, key)
	return Outcome{Result: ResultGraded}, f.err
}

func TestNewlySubmitted(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name          string
		before, after model.Attempt
		want          bool
	}{
		{"submittedAt set", model.Attempt{Status: model.StatusInProgress}, model.Attempt{Status: model.StatusSubmitted, SubmittedAt: &now}, true},
		{"status flip only", model.Attempt{Status: model.StatusInProgress}, model.Attempt{Status: model.StatusSubmitted}, true},
		{"timestamp only", model.Attempt{Status: model.StatusInProgress}, model.Attempt{Status: model.StatusInProgress, SubmittedAt: &now}, true},
		{"answers saved", model.Attempt{Status: model.StatusInProgress}, model.Attempt{Status: model.StatusInProgress}, false},
		{"submitted to grading", model.Attempt{Status: model.StatusSubmitted, SubmittedAt: &now}, model.Attempt{Status: model.StatusGrading, SubmittedAt: &now}, false},
		{"grading to graded", model.Attempt{Status: model.StatusGrading, SubmittedAt: &now}, model.Attempt{Status: model.StatusGraded, SubmittedAt: &now}, false},
		{"resave submitted", model.Attempt{Status: model.StatusSubmitted, SubmittedAt: &now}, model.Attempt{Status: model.StatusSubmitted, SubmittedAt: &now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewlySubmitted(tt.before, tt.after))
		})
	}
}

func event(t *testing.T, typ string, before *model.Attempt, after model.Attempt) store.Event {
	t.Helper()
	data, err := json.Marshal(store.AttemptChange{Before: before, After: after})
	require.NoError(t, err)
	return store.Event{Seq: 1, Type: typ, Key: after.Key().String(), Data: data}
}

func TestHandleDispatchesEvents(t *testing.T) {
	now := time.Now().UTC()
	inProgress := model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusInProgress}
	submitted := model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusSubmitted, SubmittedAt: &now}

	r := &fakeRunner{}
	tr := NewTriggers(r)
	ctx := context.Background()

	require.NoError(t, tr.Handle(ctx, event(t, store.EventAttemptCreated, nil, inProgress)))
	assert.Empty(t, r.runs, "unsubmitted creation is ignored")

	require.NoError(t, tr.Handle(ctx, event(t, store.EventAttemptWritten, &inProgress, inProgress)))
	assert.Empty(t, r.runs)

	require.NoError(t, tr.Handle(ctx, event(t, store.EventAttemptWritten, &inProgress, submitted)))
	assert.Equal(t, []model.AttemptKey{key}, r.runs)

	require.NoError(t, tr.Handle(ctx, event(t, store.EventAttemptCreated, nil, submitted)))
	assert.Len(t, r.runs, 2, "imported submission is graded")

	grading := submitted
	grading.Status = model.StatusGrading
	require.NoError(t, tr.Handle(ctx, event(t, store.EventAttemptWritten, &submitted, grading)))
	assert.Len(t, r.runs, 2, "pipeline's own writes do not retrigger")
}

func TestHandleReportsRunnerErrors(t *testing.T) {
	now := time.Now().UTC()
	submitted := model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusSubmitted, SubmittedAt: &now}
	tr := NewTriggers(&fakeRunner{err: errors.New("disk full")})

	err := tr.Handle(context.Background(), event(t, store.EventAttemptCreated, nil, submitted))
	assert.EqualError(t, err, "disk full")
}

func TestHandleRejectsBadPayload(t *testing.T) {
	tr := NewTriggers(&fakeRunner{})
	err := tr.Handle(context.Background(), store.Event{Seq: 9, Type: store.EventAttemptWritten, Data: json.RawMessage(`[`)})
	assert.Error(t, err)
}
