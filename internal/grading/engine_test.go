package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/KankareDEV/lms-v4/internal/model"
)

func mcq(correct ...int) model.Question {
	return model.Question{ID: "m", Type: model.QuestionMCQ, Marks: 2, Options: []string{"a", "b", "c"}, CorrectOptions: correct}
}

func TestMCQExactSet(t *testing.T) {
	g := NewDefaultGrader()
	ctx := context.Background()
	tests := []struct {
		name    string
		correct []int
		ans     *model.Answer
		want    float64
	}{
		{"order independent", []int{2, 0}, &model.Answer{Type: model.QuestionMCQ, Choices: []int{0, 2}}, 2},
		{"subset is wrong", []int{0, 2}, &model.Answer{Type: model.QuestionMCQ, Choices: []int{0}}, 0},
		{"superset is wrong", []int{0}, &model.Answer{Type: model.QuestionMCQ, Choices: []int{0, 1}}, 0},
		{"unanswered", []int{0}, nil, 0},
		{"wrong shape", []int{0}, &model.Answer{Type: model.QuestionEssay, Text: "0"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Grade(ctx, mcq(tt.correct...), tt.ans)
			if got.AutoPoints != tt.want {
				t.Errorf("AutoPoints = %v, want %v", got.AutoPoints, tt.want)
			}
		})
	}
}

func TestYesNo(t *testing.T) {
	g := NewDefaultGrader()
	q := model.Question{ID: "y", Type: model.QuestionYesNo, Marks: 1, CorrectAnswer: true}
	if got := g.Grade(context.Background(), q, &model.Answer{Type: model.QuestionYesNo, YesNo: true}); got.AutoPoints != 1 {
		t.Errorf("correct answer scored %v, want 1", got.AutoPoints)
	}
	if got := g.Grade(context.Background(), q, &model.Answer{Type: model.QuestionYesNo}); got.AutoPoints != 0 {
		t.Errorf("wrong answer scored %v, want 0", got.AutoPoints)
	}
	if got := g.Grade(context.Background(), q, nil); got.AutoPoints != 0 {
		t.Errorf("absent answer scored %v, want 0", got.AutoPoints)
	}
}

func TestMathTolerance(t *testing.T) {
	g := NewDefaultGrader()
	q := model.Question{ID: "x", Type: model.QuestionMath, Marks: 4, Solution: "3*3", Tolerance: 0.5}
	tests := []struct {
		answer string
		want   float64
	}{
		{"8.7", 4},
		{"9", 4},
		{"9.5", 4},
		{"8", 0},
		{"not math", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			got := g.Grade(context.Background(), q, &model.Answer{Type: model.QuestionMath, Text: tt.answer})
			if got.AutoPoints != tt.want {
				t.Errorf("AutoPoints = %v, want %v", got.AutoPoints, tt.want)
			}
			if got.NeedsManual {
				t.Error("student evaluation failure must not flag manual review")
			}
		})
	}
}

func TestMathBrokenSolutionNeedsManual(t *testing.T) {
	g := NewDefaultGrader()
	q := model.Question{ID: "x", Type: model.QuestionMath, Marks: 4, Solution: "3 *"}
	got := g.Grade(context.Background(), q, &model.Answer{Type: model.QuestionMath, Text: "9"})
	if got.AutoPoints != 0 || !got.NeedsManual || len(got.Feedback) == 0 {
		t.Errorf("got %+v, want 0 points flagged for manual review with feedback", got)
	}
}

type fixedEvaluator map[string]float64

func (f fixedEvaluator) Eval(s string) (float64, error) {
	v, ok := f[s]
	if !ok {
		return 0, errors.New("unknown")
	}
	return v, nil
}

func TestMathUsesInjectedEvaluator(t *testing.T) {
	g := NewDefaultGrader(WithEvaluator(fixedEvaluator{"answer": 42, "forty-two": 42}))
	q := model.Question{ID: "x", Type: model.QuestionMath, Marks: 1, Solution: "answer"}
	if got := g.Grade(context.Background(), q, &model.Answer{Type: model.QuestionMath, Text: "forty-two"}); got.AutoPoints != 1 {
		t.Errorf("AutoPoints = %v, want 1", got.AutoPoints)
	}
}

func TestEssayNeverAutoScored(t *testing.T) {
	g := NewDefaultGrader()
	q := model.Question{ID: "e", Type: model.QuestionEssay, Marks: 10}
	for _, text := range []string{"", "a perfect essay", "10"} {
		got := g.Grade(context.Background(), q, &model.Answer{Type: model.QuestionEssay, Text: text})
		if got.AutoPoints != 0 {
			t.Errorf("essay %q scored %v, want 0", text, got.AutoPoints)
		}
	}
}

func TestNonNumericMarksCoerceToZero(t *testing.T) {
	g := NewDefaultGrader()
	q := mcq(0)
	q.Marks = -3
	got := g.Grade(context.Background(), q, &model.Answer{Type: model.QuestionMCQ, Choices: []int{0}})
	if got.AutoPoints != 0 || got.MaxPoints != 0 {
		t.Errorf("got %+v, want zero marks", got)
	}
}

func TestGradeAllHonorsAutoMarkSettings(t *testing.T) {
	questions := []model.Question{
		mcq(1),
		{ID: "y", Type: model.QuestionYesNo, Marks: 1, CorrectAnswer: true},
	}
	answers := map[string]model.Answer{
		"m": {Type: model.QuestionMCQ, Choices: []int{1}},
		"y": {Type: model.QuestionYesNo, YesNo: true},
	}
	res := GradeAll(context.Background(), NewDefaultGrader(), model.ExamSettings{AutoMarkMC: false, AutoMarkYN: true}, questions, answers)
	if res["m"].AutoPoints != 0 || !res["m"].NeedsManual {
		t.Errorf("mcq with auto marking disabled = %+v", res["m"])
	}
	if res["y"].AutoPoints != 1 {
		t.Errorf("yes/no = %+v, want 1 point", res["y"])
	}
}
