// Package examfile reads exam definitions from YAML or JSON files and
// imports them into the store.
package examfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KankareDEV/lms-v4/internal/mathexpr"
	"github.com/KankareDEV/lms-v4/internal/model"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid exam file")

type fileQuestion struct {
	ID             string             `json:"id" yaml:"id"`
	Type           model.QuestionType `json:"type" yaml:"type"`
	Text           string             `json:"text" yaml:"text"`
	Marks          any                `json:"marks" yaml:"marks"`
	Options        []string           `json:"options" yaml:"options"`
	CorrectOptions []int              `json:"correct_options" yaml:"correct_options"`
	CorrectAnswer  bool               `json:"correct_answer" yaml:"correct_answer"`
	Rubric         model.Criteria     `json:"rubric" yaml:"rubric"`
	Solution       string             `json:"solution" yaml:"solution"`
	Tolerance      any                `json:"tolerance" yaml:"tolerance"`
}

type fileExam struct {
	ID                        string             `json:"id" yaml:"id"`
	CourseID                  string             `json:"course_id" yaml:"course_id"`
	Title                     string             `json:"title" yaml:"title"`
	Status                    model.ExamStatus   `json:"status" yaml:"status"`
	Settings                  model.ExamSettings `json:"settings" yaml:"settings"`
	ReleaseAt                 *time.Time         `json:"release_at" yaml:"release_at"`
	CloseAt                   *time.Time         `json:"close_at" yaml:"close_at"`
	DurationMinutes           int                `json:"duration_minutes" yaml:"duration_minutes"`
	RequireCourseworkComplete bool               `json:"require_coursework_complete" yaml:"require_coursework_complete"`
	Questions                 []fileQuestion     `json:"questions" yaml:"questions"`
}

// File is a parsed and validated exam definition.
type File struct {
	Exam      model.Exam
	Questions []model.Question
	Hash      string
}

// Load reads and parses path. The format follows the extension: .yaml and
// .yml are YAML, everything else is JSON.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	yamlFile := false
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		yamlFile = true
	}
	f, err := Parse(data, yamlFile)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates an exam definition. Settings left out of the
// file keep their defaults.
func Parse(data []byte, isYAML bool) (File, error) {
	raw := fileExam{Settings: model.DefaultExamSettings()}
	var err error
	if isYAML {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	f := File{
		Exam: model.Exam{
			ID:                        strings.TrimSpace(raw.ID),
			CourseID:                  strings.TrimSpace(raw.CourseID),
			Title:                     strings.TrimSpace(raw.Title),
			Status:                    raw.Status,
			Settings:                  raw.Settings,
			ReleaseAt:                 raw.ReleaseAt,
			CloseAt:                   raw.CloseAt,
			DurationMinutes:           raw.DurationMinutes,
			RequireCourseworkComplete: raw.RequireCourseworkComplete,
		},
		Hash: Hash(data),
	}
	if f.Exam.Status == "" {
		f.Exam.Status = model.ExamDraft
	}
	for i, rq := range raw.Questions {
		f.Questions = append(f.Questions, model.Question{
			ID:             strings.TrimSpace(rq.ID),
			Index:          i,
			Type:           model.QuestionType(strings.ToLower(string(rq.Type))),
			Text:           rq.Text,
			Marks:          model.Coerce(rq.Marks),
			Options:        rq.Options,
			CorrectOptions: rq.CorrectOptions,
			CorrectAnswer:  rq.CorrectAnswer,
			Rubric:         rq.Rubric,
			Solution:       strings.TrimSpace(rq.Solution),
			Tolerance:      model.Coerce(rq.Tolerance),
		})
	}
	if err := Validate(f.Exam, f.Questions); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks an exam and its questions before they are stored.
func Validate(exam model.Exam, questions []model.Question) error {
	if exam.ID == "" {
		return fmt.Errorf("%w: exam id is required", ErrInvalid)
	}
	switch exam.Status {
	case model.ExamDraft, model.ExamReleased, model.ExamClosed, model.ExamArchived:
	default:
		return fmt.Errorf("%w: unknown exam status %q", ErrInvalid, exam.Status)
	}
	if exam.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration_minutes must not be negative", ErrInvalid)
	}
	if exam.ReleaseAt != nil && exam.CloseAt != nil && !exam.CloseAt.After(*exam.ReleaseAt) {
		return fmt.Errorf("%w: close_at must be after release_at", ErrInvalid)
	}
	if len(questions) == 0 {
		return fmt.Errorf("%w: exam %s has no questions", ErrInvalid, exam.ID)
	}

	ev := mathexpr.New()
	seen := make(map[string]bool, len(questions))
	for i, q := range questions {
		where := fmt.Sprintf("question %d", i+1)
		switch {
		case q.ID == "":
			return fmt.Errorf("%w: %s: id is required", ErrInvalid, where)
		case q.ID == model.TotalKey:
			return fmt.Errorf("%w: %s: id %q is reserved", ErrInvalid, where, q.ID)
		case seen[q.ID]:
			return fmt.Errorf("%w: %s: duplicate id %q", ErrInvalid, where, q.ID)
		case !q.Type.Valid():
			return fmt.Errorf("%w: %s: unknown type %q", ErrInvalid, where, q.Type)
		}
		seen[q.ID] = true

		switch q.Type {
		case model.QuestionMCQ:
			if len(q.Options) == 0 {
				return fmt.Errorf("%w: question %s: mcq needs options", ErrInvalid, q.ID)
			}
			for _, c := range q.CorrectOptions {
				if c < 0 || c >= len(q.Options) {
					return fmt.Errorf("%w: question %s: correct option %d out of range", ErrInvalid, q.ID, c)
				}
			}
		case model.QuestionMath:
			if q.Solution == "" {
				return fmt.Errorf("%w: question %s: math needs a solution", ErrInvalid, q.ID)
			}
			if _, err := ev.Eval(q.Solution); err != nil {
				slog.Warn("math solution does not evaluate, answers will need manual review",
					"question_id", q.ID, "solution", q.Solution, "error", err)
			}
		}
	}
	return nil
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Store is the persistence an import needs.
type Store interface {
	PutExam(ctx context.Context, exam model.Exam, questions []model.Question) (model.Exam, error)
	ImportHash(ctx context.Context, examID string) (string, error)
	SetImportHash(ctx context.Context, examID, hash string) error
}

// Import stores f unless the same content was imported before. It reports
// whether anything was written.
func Import(ctx context.Context, st Store, f File) (bool, error) {
	prev, err := st.ImportHash(ctx, f.Exam.ID)
	if err != nil {
		return false, fmt.Errorf("check import status for %s: %w", f.Exam.ID, err)
	}
	if prev == f.Hash {
		slog.Info("exam file unchanged, skipping", "exam_id", f.Exam.ID)
		return false, nil
	}
	if _, err := st.PutExam(ctx, f.Exam, f.Questions); err != nil {
		return false, fmt.Errorf("store exam %s: %w", f.Exam.ID, err)
	}
	if err := st.SetImportHash(ctx, f.Exam.ID, f.Hash); err != nil {
		return true, fmt.Errorf("record import for %s: %w", f.Exam.ID, err)
	}
	slog.Info("imported exam", "exam_id", f.Exam.ID, "questions", len(f.Questions), "status", f.Exam.Status)
	return true, nil
}
