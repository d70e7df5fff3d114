package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/KankareDEV/lms-v4/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLang(context.Background(), lang)
}

func TestInitRejectsBadTag(t *testing.T) {
	if err := Init("not a tag!"); err == nil {
		t.Fatal("expected error for invalid tag")
	}
}

func TestLanguages(t *testing.T) {
	initLang(t, "en")
	langs := Languages()
	for _, want := range []string{"en", "ru"} {
		if !slices.Contains(langs, want) {
			t.Errorf("Languages() = %v, missing %q", langs, want)
		}
	}
}

func TestStatusLabels(t *testing.T) {
	tests := []struct {
		lang     string
		status   model.AttemptStatus
		awaiting bool
		want     string
	}{
		{"en", model.StatusInProgress, false, "In progress"},
		{"en", model.StatusGraded, false, "Graded"},
		{"en", model.StatusGraded, true, "Awaiting review"},
		{"ru", model.StatusSubmitted, false, "Сдано"},
		{"ru", model.StatusGrading, true, "Ожидает проверки преподавателем"},
		{"en", model.AttemptStatus("paused"), false, "paused"},
	}
	for _, tt := range tests {
		ctx := initLang(t, tt.lang)
		if got := StatusLabel(ctx, tt.status, tt.awaiting); got != tt.want {
			t.Errorf("StatusLabel(%s, %s, %v) = %q, want %q", tt.lang, tt.status, tt.awaiting, got, tt.want)
		}
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	if got := Tp(ctx, "QuestionsAnswered", 1); got != "1 question answered" {
		t.Errorf("Tp(1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsAnswered", 5); got != "5 questions answered" {
		t.Errorf("Tp(5) = %q", got)
	}

	ctx = initLang(t, "ru")
	if got := Tp(ctx, "QuestionsAnswered", 5); got != "Отвечено 5 вопросов" {
		t.Errorf("ru Tp(5) = %q", got)
	}
}

func TestTemplateData(t *testing.T) {
	ctx := initLang(t, "en")
	got := Td(ctx, "GradeMailSubject", map[string]any{"Title": "Midterm"})
	if got != "New grade: Midterm" {
		t.Errorf("Td = %q", got)
	}
}

func TestUnknownLanguageFallsBack(t *testing.T) {
	ctx := initLang(t, "fi")
	if got := T(ctx, "StatusGraded"); got != "Graded" {
		t.Errorf("T = %q, want English fallback", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")
	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
}

func TestMiddlewareUsesAcceptLanguage(t *testing.T) {
	initLang(t, "en")
	var got string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "StatusGraded")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.5")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Проверено" {
		t.Errorf("Accept-Language ru: got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/?lang=en", nil)
	req.Header.Set("Accept-Language", "ru")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Graded" {
		t.Errorf("lang query param: got %q", got)
	}
}
