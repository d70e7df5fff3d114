package model

import "time"

// ExamExport is the top-level JSON structure written by the export command.
type ExamExport struct {
	ExamID       string          `json:"exam_id"`
	Title        string          `json:"title"`
	ExportedAt   time.Time       `json:"exported_at"`
	NumQuestions int             `json:"num_questions"`
	Results      []AttemptResult `json:"results"`
}

// AttemptResult holds one student's graded attempt for export.
type AttemptResult struct {
	StudentID       string           `json:"student_id"`
	Status          AttemptStatus    `json:"status"`
	SubmittedAt     *time.Time       `json:"submitted_at,omitempty"`
	GradedAt        *time.Time       `json:"graded_at,omitempty"`
	TeacherOverride bool             `json:"teacher_override"`
	NeedsManual     bool             `json:"needs_manual"`
	Questions       []QuestionResult `json:"questions"`
	Total           float64          `json:"total"`
	AIMeta          *AIMeta          `json:"ai_meta,omitempty"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
	Marks      float64      `json:"marks"`
	Answer     any          `json:"answer"`
	Score      float64      `json:"score"`
	AIPoints   *float64     `json:"ai_points,omitempty"`
	AIReason   string       `json:"ai_reason,omitempty"`
}

// BuildAttemptResult assembles the export row for one attempt. report may
// be nil when no grading run has produced one yet.
func BuildAttemptResult(questions []Question, a Attempt, report *AIReport) AttemptResult {
	res := AttemptResult{
		StudentID:       a.StudentID,
		Status:          a.Status,
		SubmittedAt:     a.SubmittedAt,
		GradedAt:        a.GradedAt,
		TeacherOverride: a.TeacherOverride,
		NeedsManual:     a.NeedsManual,
		Total:           a.Scores.Total(),
	}
	if report != nil {
		meta := report.Meta
		res.AIMeta = &meta
	}
	for _, q := range questions {
		qr := QuestionResult{
			QuestionID: q.ID,
			Type:       q.Type,
			Marks:      q.Marks,
			Score:      a.Scores[q.ID],
		}
		if ans, ok := a.Answers[q.ID]; ok {
			qr.Answer = ans.Value()
		}
		if report != nil {
			if r, ok := report.PerQuestion[q.ID]; ok {
				p := r.Points
				qr.AIPoints = &p
				qr.AIReason = r.Reason
			}
		}
		res.Questions = append(res.Questions, qr)
	}
	return res
}
