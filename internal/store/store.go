// Package store persists exams, attempts, AI reports, grades and the event
// log in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/KankareDEV/lms-v4/internal/model"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row that must be new already exists.
	ErrConflict = errors.New("already exists")
	// ErrExamLocked is returned when an exam with attempts would have its
	// questions replaced.
	ErrExamLocked = errors.New("exam has attempts")
	// ErrSkip may be returned by an UpdateAttempt callback to leave the
	// attempt untouched without failing.
	ErrSkip = errors.New("skip update")
)

// Store wraps the database handle.
type Store struct {
	db     *sql.DB
	driver Driver
	now    func() time.Time

	mu   sync.RWMutex
	hook func(Event)
}

// New opens the database for driver and ensures the schema exists. An empty
// dsn selects a local default for the driver.
func New(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "file:lmsgrader.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/lmsgrader?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %q", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SQLite allows a single writer, and ":memory:" databases exist per
// connection, so the pool is pinned to one connection.
func tunePool(driver Driver, db *sql.DB) {
	switch driver {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	case DriverPostgres:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(45 * time.Minute)
		db.SetConnMaxIdleTime(15 * time.Minute)
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver { return s.driver }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// forUpdate returns the row lock suffix for the backend. SQLite serializes
// writers already.
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// withTx runs fn in a transaction and commits when it returns nil. Events
// appended inside fn are handed to the hook after a successful commit.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx, emit func(Event)) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	var pending []Event
	emit := func(e Event) { pending = append(pending, e) }
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("commit: %w", e)
			return
		}
		s.fire(pending)
	}()
	err = fn(tx, emit)
	return
}

func (s *Store) millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PutExam creates or replaces an exam and its questions. Questions of an
// exam that already has attempts cannot be replaced.
func (s *Store) PutExam(ctx context.Context, exam model.Exam, questions []model.Question) (model.Exam, error) {
	settings, err := json.Marshal(exam.Settings)
	if err != nil {
		return exam, fmt.Errorf("encode settings: %w", err)
	}
	now := s.now()
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = now
	}
	exam.UpdatedAt = now
	if exam.Status == "" {
		exam.Status = model.ExamDraft
	}

	err = s.withTx(ctx, func(tx *sql.Tx, _ func(Event)) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE exam_id = $1`, exam.ID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrExamLocked, exam.ID)
		}
		var created int64
		err := tx.QueryRowContext(ctx, `SELECT created_at FROM exams WHERE id = $1`, exam.ID).Scan(&created)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			exam.CreatedAt = fromMillis(created)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exams (id, course_id, title, status, settings_json, release_at, close_at, duration_minutes, require_coursework, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET course_id = excluded.course_id, title = excluded.title, status = excluded.status,
			   settings_json = excluded.settings_json, release_at = excluded.release_at, close_at = excluded.close_at,
			   duration_minutes = excluded.duration_minutes, require_coursework = excluded.require_coursework,
			   updated_at = excluded.updated_at`,
			exam.ID, exam.CourseID, exam.Title, string(exam.Status), string(settings),
			nullMillis(exam.ReleaseAt), nullMillis(exam.CloseAt), exam.DurationMinutes,
			b2i(exam.RequireCourseworkComplete), s.millis(exam.CreatedAt), s.millis(exam.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert exam: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id = $1`, exam.ID); err != nil {
			return err
		}
		for i, q := range questions {
			q.ExamID = exam.ID
			q.Index = i
			raw, err := json.Marshal(q)
			if err != nil {
				return fmt.Errorf("encode question %s: %w", q.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO questions (exam_id, id, idx, question_json) VALUES ($1, $2, $3, $4)`,
				exam.ID, q.ID, i, string(raw),
			); err != nil {
				return fmt.Errorf("insert question %s: %w", q.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return exam, err
	}
	slog.Info("stored exam", "exam_id", exam.ID, "questions", len(questions), "status", exam.Status)
	return exam, nil
}

const examColumns = `id, course_id, title, status, settings_json, release_at, close_at, duration_minutes, require_coursework, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(row rowScanner) (model.Exam, error) {
	var (
		e                model.Exam
		status, settings string
		release, closes  sql.NullInt64
		require          int
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.CourseID, &e.Title, &status, &settings, &release, &closes,
		&e.DurationMinutes, &require, &created, &updated); err != nil {
		return e, err
	}
	e.Status = model.ExamStatus(status)
	if err := json.Unmarshal([]byte(settings), &e.Settings); err != nil {
		return e, fmt.Errorf("decode settings of exam %s: %w", e.ID, err)
	}
	e.ReleaseAt = timePtr(release)
	e.CloseAt = timePtr(closes)
	e.RequireCourseworkComplete = require != 0
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

// GetExam returns an exam by id.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListExams returns all exams ordered by id.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+examColumns+` FROM exams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// SetExamStatus moves an exam through its authoring lifecycle.
func (s *Store) SetExamStatus(ctx context.Context, id string, status model.ExamStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exams SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.millis(s.now()), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	slog.Info("exam status changed", "exam_id", id, "status", status)
	return nil
}

// ListQuestions returns the questions of an exam in authoring order.
func (s *Store) ListQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_json FROM questions WHERE exam_id = $1 ORDER BY idx`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var q model.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("decode question of exam %s: %w", examID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
