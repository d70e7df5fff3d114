package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KankareDEV/lms-v4/internal/model"
)

// PutUser creates or updates a directory entry.
func (s *Store) PutUser(ctx context.Context, u model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, lang, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET email = excluded.email, display_name = excluded.display_name, lang = excluded.lang`,
		u.ID, u.Email, u.DisplayName, u.Lang, s.millis(u.CreatedAt),
	)
	if err != nil {
		slog.Error("failed to store user", "user_id", u.ID, "error", err)
		return err
	}
	slog.Debug("stored user", "user_id", u.ID)
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	var (
		u       model.User
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, lang, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Lang, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return u, err
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// PutCoursework records the review state of a student's coursework.
func (s *Store) PutCoursework(ctx context.Context, c model.Coursework) (model.Coursework, error) {
	c.UpdatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coursework (student_id, course_id, status, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (student_id, course_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		c.StudentID, c.CourseID, string(c.Status), s.millis(c.UpdatedAt),
	)
	if err != nil {
		return c, err
	}
	slog.Info("coursework updated", "student_id", c.StudentID, "course_id", c.CourseID, "status", c.Status)
	return c, nil
}

// GetCoursework returns the coursework record of a student in a course.
func (s *Store) GetCoursework(ctx context.Context, studentID, courseID string) (model.Coursework, error) {
	var (
		c       model.Coursework
		status  string
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT student_id, course_id, status, updated_at FROM coursework WHERE student_id = $1 AND course_id = $2`,
		studentID, courseID,
	).Scan(&c.StudentID, &c.CourseID, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("coursework %s/%s: %w", studentID, courseID, ErrNotFound)
	}
	if err != nil {
		return c, err
	}
	c.Status = model.CourseworkStatus(status)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

// CourseworkApproved reports whether the student's coursework for the
// course has been approved. A missing record counts as not approved.
func (s *Store) CourseworkApproved(ctx context.Context, studentID, courseID string) (bool, error) {
	c, err := s.GetCoursework(ctx, studentID, courseID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Status == model.CourseworkApproved, nil
}
