// Package notify writes a localized mail to the outbox when a teacher posts
// a grade. Delivery is someone else's job.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/KankareDEV/lms-v4/internal/i18n"
	"github.com/KankareDEV/lms-v4/internal/model"
	"github.com/KankareDEV/lms-v4/internal/store"
)

// Store is the persistence the notifier needs.
type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	QueueGradeMail(ctx context.Context, gradeID string, m model.Mail) (bool, error)
}

// Notifier turns posted grades into outbox mail.
type Notifier struct {
	store Store
	now   func() time.Time
}

// New creates a notifier.
func New(st Store) *Notifier {
	return &Notifier{store: st, now: time.Now}
}

var mailHTML = template.Must(template.New("grade").Parse(`<div style="font-family:system-ui,sans-serif;line-height:1.5;color:#111827">
<p>{{.Greeting}}</p>
<p>{{.Body}}</p>
{{if .Comment}}<p><em>{{.Comment}}</em></p>{{end}}
<p style="color:#6b7280;font-size:12px">{{.Posted}}<br>{{.Footer}}</p>
</div>`))

type mailParts struct {
	Greeting, Body, Comment, Posted, Footer string
}

// Handle adapts the notifier to grade.created events.
func (n *Notifier) Handle(ctx context.Context, e store.Event) error {
	var g model.Grade
	if err := json.Unmarshal(e.Data, &g); err != nil {
		slog.Error("undecodable grade event dropped", "seq", e.Seq, "error", err)
		return nil
	}
	return n.GradePosted(ctx, g)
}

// GradePosted queues the notification for g. Problems with the recipient
// are logged and swallowed. Only a failed outbox write is returned, which
// is safe to retry because the grade's email flag is flipped in the same
// transaction.
func (n *Notifier) GradePosted(ctx context.Context, g model.Grade) error {
	if g.EmailSent {
		return nil
	}
	u, err := n.store.GetUser(ctx, g.StudentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("no user for grade notification", "grade_id", g.ID, "student_id", g.StudentID)
			return nil
		}
		slog.Warn("grade notification skipped", "grade_id", g.ID, "error", err)
		return nil
	}
	to := strings.TrimSpace(u.Email)
	if to == "" {
		slog.Warn("no recipient email for grade notification", "grade_id", g.ID, "student_id", g.StudentID)
		return nil
	}

	m, err := n.compose(i18n.WithLang(ctx, u.Lang), g, u, to)
	if err != nil {
		slog.Error("compose grade mail", "grade_id", g.ID, "error", err)
		return nil
	}
	queued, err := n.store.QueueGradeMail(ctx, g.ID, m)
	if err != nil {
		return fmt.Errorf("queue mail for grade %s: %w", g.ID, err)
	}
	if queued {
		slog.Info("grade mail queued", "grade_id", g.ID, "to", to)
	} else {
		slog.Debug("grade mail already sent", "grade_id", g.ID)
	}
	return nil
}

func (n *Notifier) compose(ctx context.Context, g model.Grade, u model.User, to string) (model.Mail, error) {
	title := strings.TrimSpace(g.Title)
	if title == "" {
		title = g.CourseID
	}
	name := strings.TrimSpace(u.DisplayName)
	if name == "" {
		name = u.ID
	}
	posted := g.CreatedAt
	if posted.IsZero() {
		posted = n.now()
	}

	parts := mailParts{
		Greeting: i18n.Td(ctx, "GradeMailGreeting", map[string]any{"Name": name}),
		Body: i18n.Td(ctx, "GradeMailBody", map[string]any{
			"Title":    title,
			"Score":    formatScore(g.Score),
			"MaxScore": formatScore(g.MaxScore),
		}),
		Posted: posted.UTC().Format("2006-01-02 15:04 UTC"),
		Footer: i18n.T(ctx, "GradeMailFooter"),
	}
	if c := strings.TrimSpace(g.Comment); c != "" {
		parts.Comment = i18n.Td(ctx, "GradeMailComment", map[string]any{"Comment": c})
	}

	lines := []string{parts.Greeting, "", parts.Body}
	if parts.Comment != "" {
		lines = append(lines, "", parts.Comment)
	}
	lines = append(lines, "", parts.Posted, parts.Footer)

	var html bytes.Buffer
	if err := mailHTML.Execute(&html, parts); err != nil {
		return model.Mail{}, err
	}
	return model.Mail{
		To:      to,
		Subject: i18n.Td(ctx, "GradeMailSubject", map[string]any{"Title": title}),
		Text:    strings.Join(lines, "\n"),
		HTML:    html.String(),
	}, nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(model.Coerce(v), 'f', -1, 64)
}
