package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KankareDEV/lms-v4/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testQuestions = []model.Question{
	{ID: "q1", Type: model.QuestionMCQ, Text: "Pick", Marks: 2, Options: []string{"a", "b"}, CorrectOptions: []int{1}},
	{ID: "q2", Type: model.QuestionEssay, Text: "Explain", Marks: 10, Rubric: model.ParseCriteria("Clarity:1,Depth:1")},
}

func putTestExam(t *testing.T, s *Store, id string) model.Exam {
	t.Helper()
	exam, err := s.PutExam(context.Background(), model.Exam{
		ID:       id,
		CourseID: "c1",
		Title:    "Exam " + id,
		Status:   model.ExamReleased,
		Settings: model.DefaultExamSettings(),
	}, testQuestions)
	if err != nil {
		t.Fatalf("PutExam: %v", err)
	}
	return exam
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) hook(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), Driver("mysql"), ""); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestExamRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	closeAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.PutExam(ctx, model.Exam{
		ID:                        "e1",
		Title:                     "Physics",
		Settings:                  model.ExamSettings{AIMath: true},
		CloseAt:                   &closeAt,
		DurationMinutes:           45,
		RequireCourseworkComplete: true,
	}, testQuestions); err != nil {
		t.Fatalf("PutExam: %v", err)
	}

	got, err := s.GetExam(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got.Title != "Physics" || got.Status != model.ExamDraft {
		t.Errorf("exam = %+v", got)
	}
	if !got.Settings.AIMath || got.Settings.AIEssay {
		t.Errorf("settings = %+v", got.Settings)
	}
	if got.CloseAt == nil || !got.CloseAt.Equal(closeAt) || got.ReleaseAt != nil {
		t.Errorf("window = %v..%v", got.ReleaseAt, got.CloseAt)
	}
	if !got.RequireCourseworkComplete || got.DurationMinutes != 45 {
		t.Errorf("gate fields = %+v", got)
	}

	qs, err := s.ListQuestions(ctx, "e1")
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 2 || qs[0].ID != "q1" || qs[1].Index != 1 || qs[1].ExamID != "e1" {
		t.Fatalf("questions = %+v", qs)
	}
	if qs[1].Rubric.String() != testQuestions[1].Rubric.String() {
		t.Errorf("rubric = %q", qs[1].Rubric.String())
	}
	if len(qs[0].CorrectOptions) != 1 || qs[0].CorrectOptions[0] != 1 {
		t.Errorf("correct options = %v", qs[0].CorrectOptions)
	}

	if err := s.SetExamStatus(ctx, "e1", model.ExamReleased); err != nil {
		t.Fatalf("SetExamStatus: %v", err)
	}
	got, _ = s.GetExam(ctx, "e1")
	if got.Status != model.ExamReleased {
		t.Errorf("status = %s, want released", got.Status)
	}

	if _, err := s.GetExam(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExam(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.SetExamStatus(ctx, "missing", model.ExamClosed); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetExamStatus(missing) err = %v, want ErrNotFound", err)
	}
}

func TestPutExamLockedByAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exam := putTestExam(t, s, "e1")

	if _, err := s.CreateAttempt(ctx, model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusInProgress}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if _, err := s.PutExam(ctx, exam, testQuestions[:1]); !errors.Is(err, ErrExamLocked) {
		t.Fatalf("PutExam err = %v, want ErrExamLocked", err)
	}
	qs, _ := s.ListQuestions(ctx, "e1")
	if len(qs) != 2 {
		t.Errorf("questions replaced despite lock: %d", len(qs))
	}
}

func TestAttemptLifecycleEmitsEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestExam(t, s, "e1")
	rec := &recorder{}
	s.SetEventHook(rec.hook)

	key := model.AttemptKey{ExamID: "e1", StudentID: "s1"}
	if _, err := s.CreateAttempt(ctx, model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusInProgress}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if _, err := s.CreateAttempt(ctx, model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusInProgress}); !errors.Is(err, ErrConflict) {
		t.Fatalf("second CreateAttempt err = %v, want ErrConflict", err)
	}

	submitted := time.Now().UTC().Truncate(time.Millisecond)
	updated, err := s.UpdateAttempt(ctx, key, func(a *model.Attempt) error {
		a.Answers["q1"] = model.Answer{Type: model.QuestionMCQ, Choices: []int{1}}
		a.Answers["q2"] = model.Answer{Type: model.QuestionEssay, Text: "because"}
		a.Status = model.StatusSubmitted
		a.SubmittedAt = &submitted
		a.Scores = model.Scores{"q1": 2, model.TotalKey: 99}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}
	if updated.Status != model.StatusSubmitted {
		t.Errorf("status = %s", updated.Status)
	}

	got, err := s.GetAttempt(ctx, key)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(submitted) {
		t.Errorf("submitted_at = %v, want %v", got.SubmittedAt, submitted)
	}
	if got.Answers["q1"].Choices[0] != 1 || got.Answers["q2"].Text != "because" {
		t.Errorf("answers = %+v", got.Answers)
	}
	if _, ok := got.Scores[model.TotalKey]; ok {
		t.Error("stored total must not be read back")
	}
	if got.Scores.Total() != 2 {
		t.Errorf("total = %v, want 2", got.Scores.Total())
	}

	want := []string{EventAttemptCreated, EventAttemptWritten}
	if types := rec.types(); len(types) != len(want) || types[0] != want[0] || types[1] != want[1] {
		t.Fatalf("events = %v, want %v", types, want)
	}
	var change AttemptChange
	if err := json.Unmarshal(rec.events[1].Data, &change); err != nil {
		t.Fatalf("decode change: %v", err)
	}
	if change.Before == nil || change.Before.Status != model.StatusInProgress || change.After.Status != model.StatusSubmitted {
		t.Errorf("change = %+v", change)
	}
}

func TestUpdateAttemptSkipAndError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestExam(t, s, "e1")
	key := model.AttemptKey{ExamID: "e1", StudentID: "s1"}
	if _, err := s.CreateAttempt(ctx, model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusInProgress}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	rec := &recorder{}
	s.SetEventHook(rec.hook)

	got, err := s.UpdateAttempt(ctx, key, func(a *model.Attempt) error {
		a.Status = model.StatusGraded
		return ErrSkip
	})
	if err != nil {
		t.Fatalf("skip returned error: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("skip returned %s, want unchanged attempt", got.Status)
	}

	boom := errors.New("boom")
	if _, err := s.UpdateAttempt(ctx, key, func(a *model.Attempt) error {
		a.Status = model.StatusGraded
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	stored, _ := s.GetAttempt(ctx, key)
	if stored.Status != model.StatusInProgress {
		t.Errorf("status = %s after failed update", stored.Status)
	}
	if len(rec.types()) != 0 {
		t.Errorf("events emitted for skipped or failed updates: %v", rec.types())
	}

	if _, err := s.UpdateAttempt(ctx, model.AttemptKey{ExamID: "e1", StudentID: "nobody"}, func(*model.Attempt) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing attempt err = %v, want ErrNotFound", err)
	}
}

func TestListAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestExam(t, s, "e1")
	for _, id := range []string{"s2", "s1"} {
		if _, err := s.CreateAttempt(ctx, model.Attempt{ExamID: "e1", StudentID: id, Status: model.StatusInProgress}); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
	}
	if _, err := s.UpdateAttempt(ctx, model.AttemptKey{ExamID: "e1", StudentID: "s2"}, func(a *model.Attempt) error {
		a.Status = model.StatusSubmitted
		return nil
	}); err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}

	all, err := s.ListAttempts(ctx, "e1")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(all) != 2 || all[0].StudentID != "s1" {
		t.Errorf("ListAttempts = %+v", all)
	}
	open, err := s.ListInProgress(ctx)
	if err != nil {
		t.Fatalf("ListInProgress: %v", err)
	}
	if len(open) != 1 || open[0].StudentID != "s1" {
		t.Errorf("ListInProgress = %+v", open)
	}
}

func TestAIReportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := model.AttemptKey{ExamID: "e1", StudentID: "s1"}

	if _, err := s.GetAIReport(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	msg := "timed out"
	for _, points := range []float64{3, 7} {
		if err := s.PutAIReport(ctx, model.AIReport{
			ExamID:      "e1",
			StudentID:   "s1",
			PerQuestion: map[string]model.AIResult{"q2": {Points: points, Reason: "ok"}},
			Total:       points,
			Meta:        model.AIMeta{Used: true, Model: "mock", Error: &msg},
			Source:      "pipeline",
		}); err != nil {
			t.Fatalf("PutAIReport: %v", err)
		}
	}
	r, err := s.GetAIReport(ctx, key)
	if err != nil {
		t.Fatalf("GetAIReport: %v", err)
	}
	if r.Total != 7 || r.PerQuestion["q2"].Points != 7 {
		t.Errorf("report not replaced: %+v", r)
	}
	if r.Meta.Error == nil || *r.Meta.Error != msg {
		t.Errorf("meta = %+v", r.Meta)
	}
}

func TestCourseworkApproved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.CourseworkApproved(ctx, "s1", "c1")
	if err != nil || ok {
		t.Fatalf("missing coursework = %v, %v; want false, nil", ok, err)
	}
	for _, tc := range []struct {
		status model.CourseworkStatus
		want   bool
	}{
		{model.CourseworkSubmitted, false},
		{model.CourseworkApproved, true},
		{model.CourseworkRejected, false},
	} {
		if _, err := s.PutCoursework(ctx, model.Coursework{StudentID: "s1", CourseID: "c1", Status: tc.status}); err != nil {
			t.Fatalf("PutCoursework: %v", err)
		}
		ok, err := s.CourseworkApproved(ctx, "s1", "c1")
		if err != nil {
			t.Fatalf("CourseworkApproved: %v", err)
		}
		if ok != tc.want {
			t.Errorf("status %s: approved = %v, want %v", tc.status, ok, tc.want)
		}
	}
}

func TestUserUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.PutUser(ctx, model.User{ID: "s1", Email: "old@example.com"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := s.PutUser(ctx, model.User{ID: "s1", Email: "new@example.com", Lang: "ru"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	u, err := s.GetUser(ctx, "s1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Email != "new@example.com" || u.Lang != "ru" {
		t.Errorf("user = %+v", u)
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGradeMailIsQueuedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := &recorder{}
	s.SetEventHook(rec.hook)

	g, err := s.CreateGrade(ctx, model.Grade{StudentID: "s1", ExamID: "e1", Title: "Midterm", Score: 8, MaxScore: 10})
	if err != nil {
		t.Fatalf("CreateGrade: %v", err)
	}
	if g.ID == "" {
		t.Fatal("grade id not assigned")
	}
	if types := rec.types(); len(types) != 1 || types[0] != EventGradeCreated {
		t.Fatalf("events = %v", types)
	}
	has, err := s.HasGrade(ctx, model.AttemptKey{ExamID: "e1", StudentID: "s1"})
	if err != nil || !has {
		t.Fatalf("HasGrade = %v, %v", has, err)
	}

	for i, wantQueued := range []bool{true, false} {
		queued, err := s.QueueGradeMail(ctx, g.ID, model.Mail{To: "s1@example.com", Subject: "Grade", Text: "8/10"})
		if err != nil {
			t.Fatalf("QueueGradeMail #%d: %v", i, err)
		}
		if queued != wantQueued {
			t.Errorf("QueueGradeMail #%d queued = %v, want %v", i, queued, wantQueued)
		}
	}
	mail, err := s.ListMail(ctx)
	if err != nil {
		t.Fatalf("ListMail: %v", err)
	}
	if len(mail) != 1 || mail[0].To != "s1@example.com" {
		t.Errorf("mail = %+v", mail)
	}
	stored, _ := s.GetGrade(ctx, g.ID)
	if !stored.EmailSent {
		t.Error("email_sent not set")
	}
}

func TestPendingEventsAckAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestExam(t, s, "e1")
	if _, err := s.CreateAttempt(ctx, model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusInProgress}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if _, err := s.CreateGrade(ctx, model.Grade{StudentID: "s1"}); err != nil {
		t.Fatalf("CreateGrade: %v", err)
	}

	future := time.Now().Add(time.Minute)
	pending, err := s.PendingEvents(ctx, future, 10)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 2 || pending[0].Seq >= pending[1].Seq || pending[0].Deliveries != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	if early, _ := s.PendingEvents(ctx, time.Now().Add(-time.Hour), 10); len(early) != 0 {
		t.Errorf("events newer than cutoff returned: %d", len(early))
	}

	if err := s.AckEvent(ctx, pending[0].Seq); err != nil {
		t.Fatalf("AckEvent: %v", err)
	}
	pending, _ = s.PendingEvents(ctx, future, 10)
	if len(pending) != 1 || pending[0].Type != EventGradeCreated || pending[0].Deliveries != 2 {
		t.Fatalf("after ack pending = %+v", pending)
	}

	n, err := s.PruneEvents(ctx, future)
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestMetadataAndImportHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if v, err := s.ImportHash(ctx, "e1"); err != nil || v != "" {
		t.Fatalf("ImportHash = %q, %v", v, err)
	}
	if err := s.SetImportHash(ctx, "e1", "abc"); err != nil {
		t.Fatalf("SetImportHash: %v", err)
	}
	if err := s.SetImportHash(ctx, "e1", "def"); err != nil {
		t.Fatalf("SetImportHash: %v", err)
	}
	if v, _ := s.ImportHash(ctx, "e1"); v != "def" {
		t.Errorf("ImportHash = %q, want def", v)
	}
}

func TestExportExam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestExam(t, s, "e1")
	key := model.AttemptKey{ExamID: "e1", StudentID: "s1"}
	if _, err := s.CreateAttempt(ctx, model.Attempt{ExamID: "e1", StudentID: "s1", Status: model.StatusInProgress}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if _, err := s.UpdateAttempt(ctx, key, func(a *model.Attempt) error {
		a.Answers["q2"] = model.Answer{Type: model.QuestionEssay, Text: "essay"}
		a.Status = model.StatusGraded
		a.Scores = model.Scores{"q1": 0, "q2": 6}
		return nil
	}); err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}
	if err := s.PutAIReport(ctx, model.AIReport{
		ExamID: "e1", StudentID: "s1",
		PerQuestion: map[string]model.AIResult{"q2": {Points: 6, Reason: "solid"}},
		Meta:        model.AIMeta{Used: true, Model: "mock"},
	}); err != nil {
		t.Fatalf("PutAIReport: %v", err)
	}

	exp, err := s.ExportExam(ctx, "e1")
	if err != nil {
		t.Fatalf("ExportExam: %v", err)
	}
	if exp.NumQuestions != 2 || len(exp.Results) != 1 {
		t.Fatalf("export = %+v", exp)
	}
	r := exp.Results[0]
	if r.Total != 6 || r.AIMeta == nil || r.AIMeta.Model != "mock" {
		t.Errorf("result = %+v", r)
	}
	if r.Questions[1].AIPoints == nil || *r.Questions[1].AIPoints != 6 || r.Questions[1].Answer != "essay" {
		t.Errorf("question result = %+v", r.Questions[1])
	}
	if r.Questions[0].Answer != nil {
		t.Errorf("unanswered question answer = %v", r.Questions[0].Answer)
	}
}
