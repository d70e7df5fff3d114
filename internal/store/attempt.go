package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/KankareDEV/lms-v4/internal/model"
)

const attemptColumns = `exam_id, student_id, status, answers_json, scores_json, needs_manual, teacher_override, graded_by, created_at, submitted_at, graded_at, updated_at`

func scanAttempt(row rowScanner) (model.Attempt, error) {
	var (
		a                 model.Attempt
		status            string
		answers, scores   string
		manual, override  int
		created, updated  int64
		submitted, graded sql.NullInt64
	)
	if err := row.Scan(&a.ExamID, &a.StudentID, &status, &answers, &scores, &manual, &override,
		&a.GradedBy, &created, &submitted, &graded, &updated); err != nil {
		return a, err
	}
	a.Status = model.AttemptStatus(status)
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return a, fmt.Errorf("decode answers of %s: %w", a.Key(), err)
	}
	if err := json.Unmarshal([]byte(scores), &a.Scores); err != nil {
		return a, fmt.Errorf("decode scores of %s: %w", a.Key(), err)
	}
	if a.Answers == nil {
		a.Answers = map[string]model.Answer{}
	}
	if len(a.Scores) == 0 {
		a.Scores = nil
	}
	a.NeedsManual = manual != 0
	a.TeacherOverride = override != 0
	a.CreatedAt = fromMillis(created)
	a.SubmittedAt = timePtr(submitted)
	a.GradedAt = timePtr(graded)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func encodeAttempt(a model.Attempt) (answers, scores string, err error) {
	if a.Answers == nil {
		a.Answers = map[string]model.Answer{}
	}
	ab, err := json.Marshal(a.Answers)
	if err != nil {
		return "", "", fmt.Errorf("encode answers: %w", err)
	}
	// Only per-question entries are stored; the total is derived on read.
	sb, err := json.Marshal(map[string]float64(a.Scores))
	if err != nil {
		return "", "", fmt.Errorf("encode scores: %w", err)
	}
	if a.Scores == nil {
		sb = []byte("{}")
	}
	return string(ab), string(sb), nil
}

func cloneAttempt(a model.Attempt) model.Attempt {
	c := a
	c.Answers = maps.Clone(a.Answers)
	c.Scores = a.Scores.Clone()
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	if a.GradedAt != nil {
		t := *a.GradedAt
		c.GradedAt = &t
	}
	return c
}

// CreateAttempt inserts a new attempt. It returns ErrConflict when the
// student already has an attempt on the exam.
func (s *Store) CreateAttempt(ctx context.Context, a model.Attempt) (model.Attempt, error) {
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Answers == nil {
		a.Answers = map[string]model.Answer{}
	}
	answers, scores, err := encodeAttempt(a)
	if err != nil {
		return a, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx, emit func(Event)) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (`+attemptColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (exam_id, student_id) DO NOTHING`,
			a.ExamID, a.StudentID, string(a.Status), answers, scores, b2i(a.NeedsManual), b2i(a.TeacherOverride),
			a.GradedBy, s.millis(a.CreatedAt), nullMillis(a.SubmittedAt), nullMillis(a.GradedAt), s.millis(a.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert attempt %s: %w", a.Key(), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("attempt %s: %w", a.Key(), ErrConflict)
		}
		e, err := s.appendEvent(ctx, tx, EventAttemptCreated, a.Key().String(), AttemptChange{After: a})
		if err != nil {
			return err
		}
		emit(e)
		return nil
	})
	if err != nil {
		return a, err
	}
	return a, nil
}

// GetAttempt returns the attempt for key.
func (s *Store) GetAttempt(ctx context.Context, key model.AttemptKey) (model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		key.ExamID, key.StudentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("attempt %s: %w", key, ErrNotFound)
	}
	return a, err
}

// UpdateAttempt reads the attempt under a row lock, applies fn and writes
// the result back with an attempt.written event in one transaction. When fn
// returns ErrSkip nothing is written and the current attempt is returned.
// fn runs inside the transaction and must not call back into the Store.
func (s *Store) UpdateAttempt(ctx context.Context, key model.AttemptKey, fn func(a *model.Attempt) error) (model.Attempt, error) {
	var out model.Attempt
	err := s.withTx(ctx, func(tx *sql.Tx, emit func(Event)) error {
		before, err := scanAttempt(tx.QueryRowContext(ctx,
			`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 AND student_id = $2`+s.forUpdate(),
			key.ExamID, key.StudentID,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("attempt %s: %w", key, ErrNotFound)
		}
		if err != nil {
			return err
		}
		a := cloneAttempt(before)
		if err := fn(&a); err != nil {
			if errors.Is(err, ErrSkip) {
				out = before
				return nil
			}
			return err
		}
		a.ExamID, a.StudentID = key.ExamID, key.StudentID
		a.UpdatedAt = s.now().UTC()
		answers, scores, err := encodeAttempt(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attempts SET status = $1, answers_json = $2, scores_json = $3, needs_manual = $4,
			   teacher_override = $5, graded_by = $6, submitted_at = $7, graded_at = $8, updated_at = $9
			 WHERE exam_id = $10 AND student_id = $11`,
			string(a.Status), answers, scores, b2i(a.NeedsManual), b2i(a.TeacherOverride), a.GradedBy,
			nullMillis(a.SubmittedAt), nullMillis(a.GradedAt), s.millis(a.UpdatedAt), key.ExamID, key.StudentID,
		); err != nil {
			return fmt.Errorf("update attempt %s: %w", key, err)
		}
		e, err := s.appendEvent(ctx, tx, EventAttemptWritten, key.String(), AttemptChange{Before: &before, After: a})
		if err != nil {
			return err
		}
		emit(e)
		out = a
		return nil
	})
	return out, err
}

// ListAttempts returns every attempt on an exam ordered by student.
func (s *Store) ListAttempts(ctx context.Context, examID string) ([]model.Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 ORDER BY student_id`, examID)
}

// ListInProgress returns every attempt still open for editing.
func (s *Store) ListInProgress(ctx context.Context) ([]model.Attempt, error) {
	return s.ListByStatus(ctx, model.StatusInProgress)
}

// ListByStatus returns attempts in the given state.
func (s *Store) ListByStatus(ctx context.Context, status model.AttemptStatus) ([]model.Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE status = $1 ORDER BY exam_id, student_id`,
		string(status))
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]model.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutAIReport replaces the AI report of an attempt.
func (s *Store) PutAIReport(ctx context.Context, r model.AIReport) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode ai report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_reports (exam_id, student_id, report_json, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, student_id) DO UPDATE SET report_json = excluded.report_json, created_at = excluded.created_at`,
		r.ExamID, r.StudentID, string(raw), s.millis(r.CreatedAt),
	)
	return err
}

// GetAIReport returns the AI report of an attempt.
func (s *Store) GetAIReport(ctx context.Context, key model.AttemptKey) (model.AIReport, error) {
	var (
		r   model.AIReport
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json FROM ai_reports WHERE exam_id = $1 AND student_id = $2`,
		key.ExamID, key.StudentID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("ai report %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("decode ai report %s: %w", key, err)
	}
	return r, nil
}
