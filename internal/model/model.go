package model

import (
	"errors"
	"time"
)

// QuestionType identifies a question variant.
type QuestionType string

const (
	QuestionMCQ   QuestionType = "mcq"
	QuestionYesNo QuestionType = "yesno"
	QuestionEssay QuestionType = "essay"
	QuestionMath  QuestionType = "math"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMCQ, QuestionYesNo, QuestionEssay, QuestionMath:
		return true
	}
	return false
}

// Question is an exam question definition. Marks is the ceiling for any
// score on the question.
type Question struct {
	ID     string       `json:"id"`
	ExamID string       `json:"exam_id"`
	Index  int          `json:"index"`
	Type   QuestionType `json:"type"`
	Text   string       `json:"text"`
	Marks  float64      `json:"marks"`

	// mcq
	Options        []string `json:"options,omitempty"`
	CorrectOptions []int    `json:"correct_options,omitempty"`

	// yesno
	CorrectAnswer bool `json:"correct_answer,omitempty"`

	// essay (math questions may carry one too; it guides AI grading)
	Rubric Criteria `json:"rubric,omitempty"`

	// math
	Solution  string  `json:"solution,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`
}

// ExamStatus is the authoring lifecycle of an exam.
type ExamStatus string

const (
	ExamDraft    ExamStatus = "draft"
	ExamReleased ExamStatus = "released"
	ExamClosed   ExamStatus = "closed"
	ExamArchived ExamStatus = "archived"
)

// ExamSettings controls which grading sources apply to an exam.
type ExamSettings struct {
	AutoMarkMC bool `json:"auto_mark_mc"`
	AutoMarkYN bool `json:"auto_mark_yn"`
	AIEssay    bool `json:"ai_essay"`
	AIMath     bool `json:"ai_math"`
}

// DefaultExamSettings returns the settings used when an exam omits them.
func DefaultExamSettings() ExamSettings {
	return ExamSettings{AutoMarkMC: true, AutoMarkYN: true, AIEssay: true}
}

// Exam holds the exam configuration read by the grading pipeline and the
// attempt state machine.
type Exam struct {
	ID                        string       `json:"id"`
	CourseID                  string       `json:"course_id"`
	Title                     string       `json:"title"`
	Status                    ExamStatus   `json:"status"`
	Settings                  ExamSettings `json:"settings"`
	ReleaseAt                 *time.Time   `json:"release_at,omitempty"`
	CloseAt                   *time.Time   `json:"close_at,omitempty"`
	DurationMinutes           int          `json:"duration_minutes"`
	RequireCourseworkComplete bool         `json:"require_coursework_complete"`
	CreatedAt                 time.Time    `json:"created_at"`
	UpdatedAt                 time.Time    `json:"updated_at"`
}

// WindowOpen reports whether now lies in [ReleaseAt, CloseAt).
func (e Exam) WindowOpen(now time.Time) bool {
	if e.ReleaseAt != nil && now.Before(*e.ReleaseAt) {
		return false
	}
	if e.CloseAt != nil && !now.Before(*e.CloseAt) {
		return false
	}
	return true
}

// Deadline returns the moment after which an attempt started at startedAt
// may no longer be edited. ok is false when no limit applies.
func (e Exam) Deadline(startedAt time.Time) (deadline time.Time, ok bool) {
	if e.DurationMinutes > 0 {
		deadline = startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
		ok = true
	}
	if e.CloseAt != nil && (!ok || e.CloseAt.Before(deadline)) {
		deadline = *e.CloseAt
		ok = true
	}
	return deadline, ok
}

// CourseworkStatus is the review state of a coursework artifact.
type CourseworkStatus string

const (
	CourseworkSubmitted CourseworkStatus = "submitted"
	CourseworkApproved  CourseworkStatus = "approved"
	CourseworkRejected  CourseworkStatus = "rejected"
)

// Valid reports whether s is a known coursework status.
func (s CourseworkStatus) Valid() bool {
	switch s {
	case CourseworkSubmitted, CourseworkApproved, CourseworkRejected:
		return true
	}
	return false
}

// Coursework is the per (student, course) artifact checked by the
// eligibility gate.
type Coursework struct {
	StudentID string           `json:"student_id"`
	CourseID  string           `json:"course_id"`
	Status    CourseworkStatus `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// User is the minimal directory entry needed to address notifications.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Lang        string    `json:"lang"`
	CreatedAt   time.Time `json:"created_at"`
}

// Grade is a teacher-posted grade visible to the student.
type Grade struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	CourseID  string    `json:"course_id"`
	ExamID    string    `json:"exam_id,omitempty"`
	Title     string    `json:"title"`
	Score     float64   `json:"score"`
	MaxScore  float64   `json:"max_score"`
	Comment   string    `json:"comment,omitempty"`
	EmailSent bool      `json:"email_sent"`
	CreatedAt time.Time `json:"created_at"`
}

// Mail is an outgoing message handed to an external mail transport.
type Mail struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrMalformedAnswer is returned when a raw answer cannot be normalized for
// its question type.
var ErrMalformedAnswer = errors.New("malformed answer")
