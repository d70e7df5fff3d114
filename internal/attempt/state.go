// Package attempt implements the attempt lifecycle: starting, answering,
// submitting and manual marking, and the views students and teachers get.
package attempt

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/KankareDEV/lms-v4/internal/grading"
	"github.com/KankareDEV/lms-v4/internal/model"
)

var (
	ErrNotEditable       = errors.New("attempt is not editable")
	ErrNotEligible       = errors.New("coursework not approved")
	ErrExamNotOpen       = errors.New("exam is not open")
	ErrAlreadySubmitted  = errors.New("attempt already submitted")
	ErrNotSubmitted      = errors.New("attempt not submitted")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidMarks      = grading.ErrInvalidMarks
)

var transitions = map[model.AttemptStatus][]model.AttemptStatus{
	model.StatusNotStarted: {model.StatusInProgress},
	model.StatusInProgress: {model.StatusSubmitted},
	model.StatusSubmitted:  {model.StatusGrading, model.StatusGraded},
	model.StatusGrading:    {model.StatusGrading, model.StatusGraded},
	model.StatusGraded:     {model.StatusGrading, model.StatusGraded},
}

// CanTransition reports whether an attempt may move from one status to
// another.
func CanTransition(from, to model.AttemptStatus) bool {
	if from == "" {
		from = model.StatusNotStarted
	}
	return slices.Contains(transitions[from], to)
}

func transition(a *model.Attempt, to model.AttemptStatus) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	a.Status = to
	return nil
}

// Editable returns nil when the student may still change answers of a at
// time now, or an error saying why not.
func Editable(exam model.Exam, a model.Attempt, now time.Time) error {
	if a.Submitted() {
		return ErrAlreadySubmitted
	}
	if a.Status != model.StatusNotStarted && a.Status != model.StatusInProgress && a.Status != "" {
		return fmt.Errorf("%w: status %s", ErrNotEditable, a.Status)
	}
	if exam.Status != model.ExamReleased {
		return fmt.Errorf("%w: exam is %s", ErrExamNotOpen, exam.Status)
	}
	if !exam.WindowOpen(now) {
		return fmt.Errorf("%w: outside the exam window", ErrExamNotOpen)
	}
	if !a.CreatedAt.IsZero() {
		if deadline, ok := exam.Deadline(a.CreatedAt); ok && !now.Before(deadline) {
			return fmt.Errorf("%w: time limit reached at %s", ErrNotEditable, deadline.Format(time.RFC3339))
		}
	}
	return nil
}
