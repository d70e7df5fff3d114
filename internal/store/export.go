package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/KankareDEV/lms-v4/internal/model"
)

// ExportExam builds export-ready results for every attempt on an exam.
func (s *Store) ExportExam(ctx context.Context, examID string) (model.ExamExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return model.ExamExport{}, err
	}
	questions, err := s.ListQuestions(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list questions: %w", err)
	}
	attempts, err := s.ListAttempts(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list attempts: %w", err)
	}

	out := model.ExamExport{
		ExamID:       exam.ID,
		Title:        exam.Title,
		ExportedAt:   s.now().UTC(),
		NumQuestions: len(questions),
		Results:      make([]model.AttemptResult, 0, len(attempts)),
	}
	for _, a := range attempts {
		var report *model.AIReport
		r, err := s.GetAIReport(ctx, a.Key())
		switch {
		case err == nil:
			report = &r
		case !errors.Is(err, ErrNotFound):
			return out, fmt.Errorf("get ai report %s: %w", a.Key(), err)
		}
		out.Results = append(out.Results, model.BuildAttemptResult(questions, a, report))
	}
	return out, nil
}
