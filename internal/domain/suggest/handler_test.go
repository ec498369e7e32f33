package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/latest"
)

type fakeRecorder struct{ actions []string }

func (f *fakeRecorder) Record(_ context.Context, action, _ string) {
	f.actions = append(f.actions, action)
}

func suggestRequest(body, client string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/suggest", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if client != "" {
		req.Header.Set(HeaderClientID, client)
	}
	return req
}

func TestHandler_Suggest(t *testing.T) {
	fc := &fakeCompleter{jsonOut: `{"tm2":["TM2.01"]}`}
	rec := &fakeRecorder{}
	h := NewHandler(NewAdapter(fc, testCatalog(), zerolog.Nop()), nil, 0, rec)
	e := echo.New()

	w := httptest.NewRecorder()
	if err := h.Suggest(e.NewContext(suggestRequest(`{"query":"fever"}`, ""), w)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp SuggestResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.FromSystem != "NAMASTE" || len(resp.Groups) != 3 || len(resp.Groups[0].Entries) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(rec.actions) != 1 || rec.actions[0] != "AI Suggest (Mapping)" {
		t.Errorf("unexpected activity %v", rec.actions)
	}
}

func TestHandler_SuggestUnavailable(t *testing.T) {
	h := NewHandler(NewAdapter(nil, testCatalog(), zerolog.Nop()), nil, 0, nil)
	w := httptest.NewRecorder()
	h.Suggest(echo.New().NewContext(suggestRequest(`{"query":"fever"}`, ""), w))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestHandler_SuggestServiceFailure(t *testing.T) {
	fc := &fakeCompleter{err: context.DeadlineExceeded}
	h := NewHandler(NewAdapter(fc, testCatalog(), zerolog.Nop()), nil, 0, nil)
	w := httptest.NewRecorder()
	h.Suggest(echo.New().NewContext(suggestRequest(`{"query":"fever"}`, ""), w))
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestHandler_SuggestStaleResultDiscarded(t *testing.T) {
	fc := &fakeCompleter{jsonOut: `{"tm2":["X1"]}`, block: make(chan struct{}), started: make(chan struct{}, 1)}
	tracker := latest.NewTracker()
	h := NewHandler(NewAdapter(fc, testCatalog(), zerolog.Nop()), tracker, 0, nil)
	e := echo.New()

	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Suggest(e.NewContext(suggestRequest(`{"query":"fever"}`, "tab-1"), w))
		close(done)
	}()
	<-fc.started
	tracker.Issue("suggest:tab-1")
	close(fc.block)
	<-done

	if w.Code != http.StatusNoContent || w.Header().Get(HeaderSuperseded) != "true" {
		t.Errorf("expected superseded 204, got %d %q", w.Code, w.Header().Get(HeaderSuperseded))
	}
}

func TestHandler_SuggestDebounceCoalesces(t *testing.T) {
	fc := &fakeCompleter{jsonOut: `{"tm2":["X1"]}`}
	h := NewHandler(NewAdapter(fc, testCatalog(), zerolog.Nop()), nil, 200*time.Millisecond, nil)
	e := echo.New()

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Suggest(e.NewContext(suggestRequest(`{"query":"fev"}`, "tab-1"), first))
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	second := httptest.NewRecorder()
	h.Suggest(e.NewContext(suggestRequest(`{"query":"fever"}`, "tab-1"), second))
	<-done

	if first.Code != http.StatusNoContent {
		t.Errorf("first: expected 204, got %d", first.Code)
	}
	if second.Code != http.StatusOK {
		t.Errorf("second: expected 200, got %d", second.Code)
	}
	if n := fc.calls.Load(); n != 1 {
		t.Errorf("expected one outbound call, got %d", n)
	}
}

func TestHandler_Explain(t *testing.T) {
	fc := &fakeCompleter{textOut: "- a fever"}
	h := NewHandler(NewAdapter(fc, testCatalog(), zerolog.Nop()), nil, 0, nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"system":"icd-11","code":"r50.9"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w := httptest.NewRecorder()
	if err := h.Explain(e.NewContext(req, w)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "- a fever") {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(fc.user, "Term: Fever, unspecified") {
		t.Errorf("expected catalog term in prompt, got %q", fc.user)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"system":"ICD-11","code":"nope"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w = httptest.NewRecorder()
	h.Explain(e.NewContext(req, w))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandler_Ask(t *testing.T) {
	fc := &fakeCompleter{textOut: "1. Open drafts\n"}
	h := NewHandler(NewAdapter(fc, testCatalog(), zerolog.Nop()), nil, 0, nil)
	e := echo.New()

	body := `{"history":[{"role":"assistant","content":"Hi!"}],"question":"Show steps to export Bundle draft."}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w := httptest.NewRecorder()
	h.Ask(e.NewContext(req, w))
	var turn Turn
	json.Unmarshal(w.Body.Bytes(), &turn)
	if w.Code != http.StatusOK || turn.Role != "assistant" || turn.Content != "1. Open drafts" {
		t.Errorf("unexpected answer %d %+v", w.Code, turn)
	}
	if !strings.Contains(fc.user, "ASSISTANT: Hi!") {
		t.Errorf("expected history in prompt")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"question":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w = httptest.NewRecorder()
	h.Ask(e.NewContext(req, w))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
