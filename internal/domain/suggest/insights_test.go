package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/activity"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
)

func testEvents(n int) []activity.Event {
	out := make([]activity.Event, n)
	for i := range out {
		out[i] = activity.Event{
			Timestamp: fmt.Sprintf("2025-03-01 10:%02d", i),
			User:      "clinician",
			Action:    "Approve Mapping",
			Details:   fmt.Sprintf("event-%02d", i),
		}
	}
	return out
}

func testStats() *catalog.Stats {
	return &catalog.Stats{
		Total:    8,
		Mapped:   3,
		BySystem: map[string]int{"NAMASTE": 3, "TM2": 2, "BIO": 1, "BIO-X": 1, "ICD-11": 1},
	}
}

func TestNewSnapshot_KPIs(t *testing.T) {
	snap := NewSnapshot(testStats(), nil)
	want := KPIs{TotalCodes: 8, Mapped: 3, CoveragePct: 38, TM2Codes: 2, BiomedCodes: 2}
	if snap.KPIs != want {
		t.Errorf("got %+v, want %+v", snap.KPIs, want)
	}

	empty := NewSnapshot(&catalog.Stats{}, nil)
	if empty.KPIs.CoveragePct != 0 {
		t.Errorf("expected 0%% coverage for an empty catalog, got %d", empty.KPIs.CoveragePct)
	}
}

func TestAdapter_InsightsSummary(t *testing.T) {
	fc := &fakeCompleter{textOut: "  - all good  "}
	a := NewAdapter(fc, testCatalog(), zerolog.Nop())

	out, err := a.Insights(context.Background(), NewSnapshot(testStats(), testEvents(12)), "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "- all good" {
		t.Errorf("expected trimmed answer, got %q", out)
	}
	for _, want := range []string{"Total codes: 8", "Mapped: 3", "Coverage: 38%", "- 2025-03-01 10:07 · Approve Mapping · event-07"} {
		if !strings.Contains(fc.user, want) {
			t.Errorf("prompt missing %q:\n%s", want, fc.user)
		}
	}
	if strings.Contains(fc.user, "event-08") {
		t.Error("summary prompt should carry only the 8 most recent events")
	}
}

func TestAdapter_InsightsEmptyActivity(t *testing.T) {
	fc := &fakeCompleter{textOut: "ok"}
	a := NewAdapter(fc, testCatalog(), zerolog.Nop())
	a.Insights(context.Background(), NewSnapshot(testStats(), nil), "")
	if !strings.Contains(fc.user, "(no recent activity)") {
		t.Errorf("expected placeholder for empty activity:\n%s", fc.user)
	}
}

func TestAdapter_InsightsQuestion(t *testing.T) {
	fc := &fakeCompleter{textOut: "38 percent"}
	a := NewAdapter(fc, testCatalog(), zerolog.Nop())

	if _, err := a.Insights(context.Background(), NewSnapshot(testStats(), testEvents(20)), "What is coverage?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(fc.user, "Question: What is coverage?") {
		t.Errorf("question not in prompt:\n%s", fc.user)
	}
	if !strings.Contains(fc.user, `"coverage": 38`) || !strings.Contains(fc.user, "event-15") {
		t.Errorf("expected KPI context with 16 events:\n%s", fc.user)
	}
	if strings.Contains(fc.user, "event-16") {
		t.Error("question prompt should carry only 16 events")
	}
}

func TestAdapter_InsightsErrors(t *testing.T) {
	a := NewAdapter(nil, testCatalog(), zerolog.Nop())
	if _, err := a.Insights(context.Background(), Snapshot{}, ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	boom := errors.New("boom")
	a = NewAdapter(&fakeCompleter{err: boom}, testCatalog(), zerolog.Nop())
	_, err := a.Insights(context.Background(), Snapshot{}, "")
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Op != "insights" || !errors.Is(err, boom) {
		t.Errorf("expected insights ServiceError, got %v", err)
	}
}

type fakeStats struct {
	st  *catalog.Stats
	err error
}

func (f fakeStats) Stats(context.Context) (*catalog.Stats, error) { return f.st, f.err }

type fakeEvents []activity.Event

func (f fakeEvents) List(context.Context) ([]activity.Event, error) { return f, nil }

func insightsRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/insights", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_Insights(t *testing.T) {
	fc := &fakeCompleter{textOut: "healthy"}
	rec := &fakeRecorder{}
	h := NewHandler(NewAdapter(fc, testCatalog(), zerolog.Nop()), nil, 0, rec).
		WithWorkspace(fakeStats{st: testStats()}, fakeEvents(testEvents(3)))

	w := httptest.NewRecorder()
	if err := h.Insights(echo.New().NewContext(insightsRequest(`{}`), w)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp InsightsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Answer != "healthy" || resp.KPIs.TotalCodes != 8 || resp.KPIs.CoveragePct != 38 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(rec.actions) != 1 || rec.actions[0] != "AI Insights" {
		t.Errorf("unexpected activity %v", rec.actions)
	}
}

func TestHandler_InsightsFailures(t *testing.T) {
	e := echo.New()

	h := NewHandler(NewAdapter(&fakeCompleter{}, testCatalog(), zerolog.Nop()), nil, 0, nil)
	w := httptest.NewRecorder()
	h.Insights(e.NewContext(insightsRequest(`{}`), w))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without workspace sources, got %d", w.Code)
	}

	h.WithWorkspace(fakeStats{err: errors.New("index down")}, fakeEvents(nil))
	err := h.Insights(e.NewContext(insightsRequest(`{}`), httptest.NewRecorder()))
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for stats failure, got %v", err)
	}

	rec := &fakeRecorder{}
	h = NewHandler(NewAdapter(&fakeCompleter{err: errors.New("down")}, testCatalog(), zerolog.Nop()), nil, 0, rec).
		WithWorkspace(fakeStats{st: testStats()}, fakeEvents(nil))
	w = httptest.NewRecorder()
	h.Insights(e.NewContext(insightsRequest(`{"question":"why?"}`), w))
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	if len(rec.actions) != 0 {
		t.Errorf("failed call should not be recorded, got %v", rec.actions)
	}
}
