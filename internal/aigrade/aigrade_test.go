package aigrade

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KankareDEV/lms-v4/internal/llm"
	"github.com/KankareDEV/lms-v4/internal/llm/prompts"
	"github.com/KankareDEV/lms-v4/internal/model"
)

var testQuestions = []model.Question{
	{ID: "m", Type: model.QuestionMCQ, Marks: 2},
	{ID: "x", Type: model.QuestionMath, Marks: 4, Text: "3*3?", Solution: "3*3"},
	{ID: "e", Type: model.QuestionEssay, Marks: 10, Text: "Explain inertia", Rubric: model.ParseCriteria("Clarity:1, Accuracy:3")},
	{ID: "e2", Type: model.QuestionEssay, Marks: 5, Text: "Explain momentum"},
}

var allAI = model.ExamSettings{AIEssay: true, AIMath: true}

func newOrchestrator(t *testing.T, p llm.Provider, opts ...Option) *Orchestrator {
	t.Helper()
	set, err := prompts.Load()
	require.NoError(t, err)
	return New(p, set, opts...)
}

func sentPayload(t *testing.T, mock *llm.MockProvider) payload {
	t.Helper()
	require.Equal(t, 1, mock.CallCount())
	var p payload
	require.NoError(t, json.Unmarshal([]byte(mock.Calls[0].Messages[0].Content), &p))
	return p
}

func TestGradeBuildsSingleBatch(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{}`)})
	o := newOrchestrator(t, mock)

	out := o.Grade(context.Background(), Input{
		ExamTitle: "Physics",
		Settings:  allAI,
		Questions: testQuestions,
		Answers: map[string]model.Answer{
			"e": {Type: model.QuestionEssay, Text: "objects resist change"},
			"x": {Type: model.QuestionMath, Text: "9"},
		},
	})

	assert.True(t, out.Meta.Used)
	assert.Nil(t, out.Meta.Error)
	assert.Empty(t, out.Results)

	p := sentPayload(t, mock)
	assert.Equal(t, "Physics", p.ExamTitle)
	require.Len(t, p.Items, 3, "mcq must not be sent")
	assert.Equal(t, "<student-answer>objects resist change</student-answer>", p.Items["e"].Answer)
	assert.Equal(t, "", p.Items["e2"].Answer, "absent answer is sent as empty string")
	require.NotNil(t, p.Items["x"].Expected)
	assert.Equal(t, "3*3", *p.Items["x"].Expected)
	assert.Nil(t, p.Items["e"].Expected)
	assert.InDelta(t, 0.75, p.Items["e"].Criteria[1].Weight, 1e-9)
	assert.Equal(t, "Quality", p.Items["e2"].Criteria[0].Name, "default rubric applied")
	assert.True(t, mock.Calls[0].JSON)
}

func TestGradeEligibility(t *testing.T) {
	mock := llm.NewMockProvider()
	o := newOrchestrator(t, mock)

	out := o.Grade(context.Background(), Input{Settings: model.ExamSettings{AIMath: false, AIEssay: false}, Questions: testQuestions})
	assert.False(t, out.Meta.Used)
	assert.Nil(t, out.Meta.Error)
	assert.Empty(t, out.Results)
	assert.Equal(t, 0, mock.CallCount(), "no eligible question means no call")

	assert.Len(t, Eligible(model.ExamSettings{AIMath: true}, testQuestions), 1)
	assert.Len(t, Eligible(model.ExamSettings{AIEssay: true}, testQuestions), 2)
}

func TestGradeClampsPoints(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{
		"e":  {"points": 25, "reason": "great", "perCriterion": [{"name": "Clarity", "points": 99, "reason": "clear"}]},
		"e2": {"points": -3, "reason": "empty"},
		"x":  {"points": "3.5", "reason": "close"}
	}`)})
	o := newOrchestrator(t, mock)

	out := o.Grade(context.Background(), Input{Settings: allAI, Questions: testQuestions})
	require.Nil(t, out.Meta.Error)
	assert.Equal(t, 10.0, out.Results["e"].Points)
	assert.Equal(t, 10.0, out.Results["e"].PerCriterion[0].Points)
	assert.Equal(t, 0.0, out.Results["e2"].Points)
	assert.Equal(t, 3.5, out.Results["x"].Points)
	assert.Equal(t, "close", out.Results["x"].Reason)
	assert.Equal(t, 13.5, out.Total())
}

func TestGradePartialAndInvalidEntries(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{
		"e":  {"reason": "no points"},
		"x":  {"points": 2},
		"m":  {"points": 2},
		"zz": {"points": 1}
	}`)})
	o := newOrchestrator(t, mock)

	out := o.Grade(context.Background(), Input{Settings: allAI, Questions: testQuestions})
	require.Nil(t, out.Meta.Error)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, 2.0, out.Results["x"].Points)
	assert.NotNil(t, out.Results["x"].PerCriterion)
}

func TestGradeFailuresAreRecorded(t *testing.T) {
	tests := []struct {
		name string
		resp llm.MockResponse
	}{
		{"provider error", llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("down")}}},
		{"unparseable", llm.MockResponse{Content: json.RawMessage(`I think the student did well`)}},
		{"not an object", llm.MockResponse{Content: json.RawMessage(`[1,2]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, llm.NewMockProvider(tt.resp))
			out := o.Grade(context.Background(), Input{Settings: allAI, Questions: testQuestions})
			assert.True(t, out.Meta.Used)
			require.NotNil(t, out.Meta.Error)
			assert.NotEmpty(t, *out.Meta.Error)
			assert.Empty(t, out.Results)
		})
	}
}

type slowProvider struct{}

func (slowProvider) Generate(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) ModelID() string { return "slow" }

func TestGradeTimeout(t *testing.T) {
	o := newOrchestrator(t, slowProvider{}, WithTimeout(20*time.Millisecond))
	start := time.Now()
	out := o.Grade(context.Background(), Input{Settings: allAI, Questions: testQuestions})
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, out.Meta.Error)
	assert.Contains(t, *out.Meta.Error, "timed out")
	assert.Equal(t, "slow", out.Meta.Model)
}
