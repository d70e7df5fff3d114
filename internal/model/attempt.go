package model

import (
	"encoding/json"
	"maps"
	"time"
)

// AttemptStatus is the lifecycle state of an attempt.
type AttemptStatus string

const (
	StatusNotStarted AttemptStatus = "not_started"
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusGrading    AttemptStatus = "grading"
	StatusGraded     AttemptStatus = "graded"
)

// AttemptKey identifies the single attempt of a student on an exam.
type AttemptKey struct {
	ExamID    string `json:"exam_id"`
	StudentID string `json:"student_id"`
}

// String implements fmt.Stringer.
func (k AttemptKey) String() string { return k.ExamID + "/" + k.StudentID }

// TotalKey is the synthetic entry carrying the sum of all scores.
const TotalKey = "total"

// Scores maps question id to awarded marks. The total is always derived
// from the entries and is only materialized on encoding.
type Scores map[string]float64

// Total returns the sum of all per-question marks.
func (s Scores) Total() float64 {
	var t float64
	for k, v := range s {
		if k == TotalKey {
			continue
		}
		t += v
	}
	return t
}

// Clone returns an independent copy.
func (s Scores) Clone() Scores {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// MarshalJSON writes the entries plus a freshly computed total.
func (s Scores) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(s)+1)
	for k, v := range s {
		if k != TotalKey {
			out[k] = v
		}
	}
	out[TotalKey] = s.Total()
	return json.Marshal(out)
}

// UnmarshalJSON reads the entries and discards any stored total.
func (s *Scores) UnmarshalJSON(data []byte) error {
	var in map[string]float64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	delete(in, TotalKey)
	*s = in
	return nil
}

// Attempt is the per (exam, student) submission document.
type Attempt struct {
	ExamID          string            `json:"exam_id"`
	StudentID       string            `json:"student_id"`
	Status          AttemptStatus     `json:"status"`
	Answers         map[string]Answer `json:"answers"`
	Scores          Scores            `json:"scores,omitempty"`
	NeedsManual     bool              `json:"needs_manual"`
	TeacherOverride bool              `json:"teacher_override"`
	GradedBy        string            `json:"graded_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	SubmittedAt     *time.Time        `json:"submitted_at,omitempty"`
	GradedAt        *time.Time        `json:"graded_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Key returns the attempt's identity.
func (a Attempt) Key() AttemptKey {
	return AttemptKey{ExamID: a.ExamID, StudentID: a.StudentID}
}

// Submitted reports whether a submission has been recorded.
func (a Attempt) Submitted() bool {
	return a.SubmittedAt != nil || a.Status == StatusSubmitted ||
		a.Status == StatusGrading || a.Status == StatusGraded
}

// CriterionScore is the AI breakdown for one rubric criterion.
type CriterionScore struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Reason string  `json:"reason"`
}

// AIResult is the AI assessment of one question after clamping.
type AIResult struct {
	Points       float64          `json:"points"`
	Reason       string           `json:"reason"`
	PerCriterion []CriterionScore `json:"per_criterion"`
}

// AIMeta records whether the AI pass ran and how it ended.
type AIMeta struct {
	Used  bool    `json:"used"`
	Model string  `json:"model"`
	Error *string `json:"error"`
}

// Failed reports whether the AI pass ran and failed.
func (m AIMeta) Failed() bool { return m.Error != nil }

// AIReport is the teacher-only side document written on every grading run.
// Total is the sum of raw AI points and may differ from the attempt total.
type AIReport struct {
	ExamID      string              `json:"exam_id"`
	StudentID   string              `json:"student_id"`
	PerQuestion map[string]AIResult `json:"per_question"`
	Total       float64             `json:"total"`
	Meta        AIMeta              `json:"ai_meta"`
	Source      string              `json:"source"`
	CreatedAt   time.Time           `json:"created_at"`
}
