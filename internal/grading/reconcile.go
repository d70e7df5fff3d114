package grading

import (
	"errors"
	"fmt"
	"math"

	"github.com/KankareDEV/lms-v4/internal/model"
)

// ErrInvalidMarks is returned when manual marks reference unknown
// questions or fall outside [0, marks].
var ErrInvalidMarks = errors.New("invalid marks")

// Reconciled is the merged outcome of one grading run.
type Reconciled struct {
	Scores      model.Scores
	NeedsManual bool
}

// Reconcile merges deterministic and AI points per question. Each final
// score is max(deterministic, ai or 0), clamped to the question's marks.
// A question needs manual review when the deterministic pass flagged it
// and the AI pass produced nothing for it.
func Reconcile(questions []model.Question, det map[string]Result, ai map[string]model.AIResult) Reconciled {
	out := Reconciled{Scores: make(model.Scores, len(questions))}
	for _, q := range questions {
		ceiling := marks(q)
		d := det[q.ID]
		points := model.Clamp(d.AutoPoints, 0, ceiling)
		r, hasAI := ai[q.ID]
		if hasAI {
			points = math.Max(points, model.Clamp(r.Points, 0, ceiling))
		}
		if d.NeedsManual && !hasAI {
			out.NeedsManual = true
		}
		out.Scores[q.ID] = points
	}
	return out
}

// ManualScores validates teacher-entered marks and returns them as the
// complete score set. Questions without an entry score 0.
func ManualScores(questions []model.Question, marksByID map[string]float64) (model.Scores, error) {
	known := make(map[string]float64, len(questions))
	for _, q := range questions {
		known[q.ID] = marks(q)
	}
	for id, v := range marksByID {
		ceiling, ok := known[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown question %q", ErrInvalidMarks, id)
		}
		if math.IsNaN(v) || v < 0 || v > ceiling {
			return nil, fmt.Errorf("%w: question %q must be between 0 and %g", ErrInvalidMarks, id, ceiling)
		}
	}
	scores := make(model.Scores, len(questions))
	for _, q := range questions {
		scores[q.ID] = marksByID[q.ID]
	}
	return scores, nil
}
