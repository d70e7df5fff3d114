package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/KankareDEV/lms-v4/internal/model"
)

const gradeColumns = `id, student_id, course_id, exam_id, title, score, max_score, comment, email_sent, created_at`

func scanGrade(row rowScanner) (model.Grade, error) {
	var (
		g       model.Grade
		sent    int
		created int64
	)
	if err := row.Scan(&g.ID, &g.StudentID, &g.CourseID, &g.ExamID, &g.Title, &g.Score, &g.MaxScore,
		&g.Comment, &sent, &created); err != nil {
		return g, err
	}
	g.EmailSent = sent != 0
	g.CreatedAt = fromMillis(created)
	return g, nil
}

// CreateGrade stores a posted grade and appends a grade.created event.
func (s *Store) CreateGrade(ctx context.Context, g model.Grade) (model.Grade, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt = s.now().UTC()
	g.EmailSent = false
	err := s.withTx(ctx, func(tx *sql.Tx, emit func(Event)) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO grades (`+gradeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
			g.ID, g.StudentID, g.CourseID, g.ExamID, g.Title, g.Score, g.MaxScore, g.Comment, 0, s.millis(g.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert grade: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("grade %s: %w", g.ID, ErrConflict)
		}
		e, err := s.appendEvent(ctx, tx, EventGradeCreated, g.ID, g)
		if err != nil {
			return err
		}
		emit(e)
		return nil
	})
	if err != nil {
		return g, err
	}
	slog.Info("grade posted", "grade_id", g.ID, "student_id", g.StudentID, "exam_id", g.ExamID, "score", g.Score)
	return g, nil
}

// GetGrade returns a grade by id.
func (s *Store) GetGrade(ctx context.Context, id string) (model.Grade, error) {
	g, err := scanGrade(s.db.QueryRowContext(ctx, `SELECT `+gradeColumns+` FROM grades WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("grade %s: %w", id, ErrNotFound)
	}
	return g, err
}

// HasGrade reports whether a grade was posted for the student's exam.
func (s *Store) HasGrade(ctx context.Context, key model.AttemptKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grades WHERE student_id = $1 AND exam_id = $2`,
		key.StudentID, key.ExamID,
	).Scan(&n)
	return n > 0, err
}

// ListGrades returns the grades posted for a student, newest first.
func (s *Store) ListGrades(ctx context.Context, studentID string) ([]model.Grade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gradeColumns+` FROM grades WHERE student_id = $1 ORDER BY created_at DESC, id`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Grade
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// QueueGradeMail claims the grade's notification and stores the message in
// the outgoing mail table in one transaction. queued is false when the
// notification was already sent.
func (s *Store) QueueGradeMail(ctx context.Context, gradeID string, m model.Mail) (queued bool, err error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.now().UTC()
	err = s.withTx(ctx, func(tx *sql.Tx, _ func(Event)) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE grades SET email_sent = 1 WHERE id = $1 AND email_sent = 0`, gradeID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mail (id, to_addr, subject, text_body, html_body, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.To, m.Subject, m.Text, m.HTML, s.millis(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert mail: %w", err)
		}
		queued = true
		return nil
	})
	return queued, err
}

// ListMail returns queued messages oldest first.
func (s *Store) ListMail(ctx context.Context) ([]model.Mail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, to_addr, subject, text_body, html_body, created_at FROM mail ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Mail
	for rows.Next() {
		var (
			m       model.Mail
			created int64
		)
		if err := rows.Scan(&m.ID, &m.To, &m.Subject, &m.Text, &m.HTML, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
