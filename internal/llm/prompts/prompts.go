package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// MaxAnswerRunes bounds the answer text forwarded to the model.
const MaxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict is a strict grading variant for core subjects.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is a lenient grading variant for electives.
	PromptLenient PromptVariant = "lenient"
)

var variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// GradeData holds template data for the batch grading system prompt.
type GradeData struct {
	ExamTitle string
	ItemCount int
}

// Set holds the parsed grading templates.
type Set struct {
	grade map[PromptVariant]*template.Template
}

// Load parses the built-in templates.
func Load() (*Set, error) {
	return LoadFS(templateFS)
}

// LoadFS parses templates/grade_<variant>.txt for every variant from fsys.
func LoadFS(fsys fs.FS) (*Set, error) {
	s := &Set{grade: make(map[PromptVariant]*template.Template, len(variants))}
	for _, v := range variants {
		name := "templates/grade_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New("grade_" + string(v)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		s.grade[v] = tmpl
	}
	return s, nil
}

// BuildGradePrompt renders the system prompt for the given variant.
func (s *Set) BuildGradePrompt(variant PromptVariant, data GradeData) (string, error) {
	tmpl, ok := s.grade[variant]
	if !ok {
		return "", fmt.Errorf("invalid prompt variant: %s", variant)
	}
	if data.ExamTitle == "" {
		data.ExamTitle = "Exam"
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer removes prompt delimiter tags from a student answer and
// truncates it to MaxAnswerRunes.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if utf8.RuneCountInString(answer) > MaxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:MaxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}

// WrapAnswer encloses a sanitized answer in the delimiter the prompts
// reference. Empty answers stay empty.
func WrapAnswer(answer string) string {
	answer = SanitizeAnswer(answer)
	if answer == "" {
		return ""
	}
	return "<student-answer>" + answer + "</student-answer>"
}
