package mapping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/record"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/kv"
)

type recordedEvent struct{ action, details string }

type fakeRecorder struct{ events []recordedEvent }

func (f *fakeRecorder) Record(_ context.Context, action, details string) {
	f.events = append(f.events, recordedEvent{action, details})
}

type testEnv struct {
	h        *Handler
	store    *Store
	mailbox  *record.Mailbox
	recorder *fakeRecorder
	e        *echo.Echo
}

func newTestEnv() *testEnv {
	store := kv.NewMemoryStore()
	ledger := NewStore(store, nil, zerolog.Nop())
	cat := catalog.New([]catalog.CodeEntry{
		{System: "NAMASTE", Code: "NAM-01", Term: "Jwara (Fever)"},
		{System: "NAMASTE", Code: "NAM-02", Term: "Kasa (Cough)"},
		{System: "ICD-11", Code: "R50.9", Term: "Fever, unspecified"},
		{System: "TM2", Code: "TM2.01", Term: "Fever pattern"},
		{System: "BIO", Code: "B01", Term: "Cough"},
	})
	mailbox := record.NewMailbox(store, nil)
	rec := &fakeRecorder{}
	h := NewHandler(ledger, catalog.NewStaticService(cat, ledger), mailbox, rec)
	return &testEnv{h: h, store: ledger, mailbox: mailbox, recorder: rec, e: echo.New()}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_ApproveFromCatalog(t *testing.T) {
	env := newTestEnv()
	rec := httptest.NewRecorder()
	body := `{"source":{"system":"NAMASTE","code":"NAM-01"},"dest":{"system":"ICD-11","code":"R50.9"}}`
	if err := env.h.Approve(env.e.NewContext(jsonRequest(http.MethodPost, "/api/v1/mappings", body), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var m Mapping
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.ID != "NAMASTE:NAM-01__ICD-11:R50.9" || m.FromSystem != "NAMASTE" {
		t.Errorf("unexpected mapping %+v", m)
	}
	if m.Source.Term != "Jwara (Fever)" {
		t.Errorf("expected catalog term snapshot, got %q", m.Source.Term)
	}
	if m.Score != 0.2 {
		t.Errorf("expected lexical score 0.2, got %v", m.Score)
	}
	if len(env.recorder.events) != 1 || env.recorder.events[0].action != "Approve Mapping" {
		t.Errorf("unexpected activity %+v", env.recorder.events)
	}
}

func TestHandler_ApproveReverseDirection(t *testing.T) {
	env := newTestEnv()
	rec := httptest.NewRecorder()
	body := `{"source":{"system":"BIO","code":"B01"},"dest":{"system":"NAMASTE","code":"NAM-02"},"score":0.8}`
	env.h.Approve(env.e.NewContext(jsonRequest(http.MethodPost, "/", body), rec))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var m Mapping
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.FromSystem != "ICD-11/TM2/BIO" || m.Score != 0.8 {
		t.Errorf("unexpected mapping %+v", m)
	}
}

func TestHandler_ApproveExternalSuggestion(t *testing.T) {
	env := newTestEnv()
	rec := httptest.NewRecorder()
	body := `{"source":{"system":"NAMASTE","code":"NAM-01"},"dest":{"system":"TM2","code":"SX99","term":"(AI suggestion)"},"score":0.8}`
	env.h.Approve(env.e.NewContext(jsonRequest(http.MethodPost, "/", body), rec))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_ApproveUnknownCode(t *testing.T) {
	env := newTestEnv()
	rec := httptest.NewRecorder()
	body := `{"source":{"system":"NAMASTE","code":"NOPE"},"dest":{"system":"ICD-11","code":"R50.9"}}`
	env.h.Approve(env.e.NewContext(jsonRequest(http.MethodPost, "/", body), rec))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.h.Approve(env.e.NewContext(jsonRequest(http.MethodPost, "/", `{"source":{},"dest":{}}`), rec))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	body = `{"source":{"system":"NAMASTE","code":"NAM-01"},"dest":{"system":"ICD-11","code":"R50.9"},"score":1.5}`
	env.h.Approve(env.e.NewContext(jsonRequest(http.MethodPost, "/", body), rec))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range score, got %d", rec.Code)
	}
}

func TestHandler_RemoveIsIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.Approve(ctx, fever, r509, "NAMASTE", 0.5)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		c := env.e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
		c.SetParamNames("id")
		c.SetParamValues(MappingID(fever, r509))
		if err := env.h.Remove(c); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	}
	if len(env.recorder.events) != 1 {
		t.Errorf("expected one activity event, got %d", len(env.recorder.events))
	}
}

func TestHandler_Export(t *testing.T) {
	env := newTestEnv()
	env.store.Approve(context.Background(), fever, r509, "NAMASTE", 0.5)

	rec := httptest.NewRecorder()
	if err := env.h.Export(env.e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "mappings.json") {
		t.Errorf("expected attachment header, got %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
	var list []Mapping
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Errorf("unexpected export body %s", rec.Body.String())
	}
}

func TestHandler_Candidates(t *testing.T) {
	env := newTestEnv()
	env.store.Approve(context.Background(), fever, r509, "NAMASTE", 0.5)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/mappings/candidates?q=fever", nil)
	if err := env.h.Candidates(env.e.NewContext(req, rec)); err != nil {
		t.Fatalf("candidates: %v", err)
	}
	var resp CandidatesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Direction != "toClassification" || resp.FromSystem != "NAMASTE" {
		t.Errorf("unexpected direction %+v", resp)
	}
	if len(resp.Groups) != 1 || resp.Groups[0].Source.Code != "NAM-01" {
		t.Fatalf("expected one group for NAM-01, got %+v", resp.Groups)
	}
	if !resp.Groups[0].Source.Mapped {
		t.Errorf("expected source marked as mapped")
	}
	if len(resp.Groups[0].Candidates) != 3 {
		t.Errorf("expected all 3 classification entries ranked, got %d", len(resp.Groups[0].Candidates))
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/mappings/candidates?q=%20%20", nil)
	env.h.Candidates(env.e.NewContext(req, rec))
	if !strings.Contains(rec.Body.String(), `"groups":[]`) {
		t.Errorf("expected empty groups for blank query, got %s", rec.Body.String())
	}
}

func TestHandler_ApplyWritesPrefill(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.Approve(ctx, fever, tmFev, "NAMASTE", 0.5)

	rec := httptest.NewRecorder()
	c := env.e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(MappingID(fever, tmFev))
	if err := env.h.Apply(c); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p, ok, err := env.mailbox.Peek(ctx)
	if err != nil || !ok {
		t.Fatalf("expected prefill present, ok=%v err=%v", ok, err)
	}
	if p.Namaste != "NAM-01" || p.TM2 != "TM2.01" || p.Biomed != "" {
		t.Errorf("unexpected prefill %+v", p)
	}

	rec = httptest.NewRecorder()
	c = env.e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")
	env.h.Apply(c)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func csvRequest(name, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/csv?name="+name, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "text/csv")
	return req
}

func TestHandler_IngestMappingsCSV(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	body := "namaste,tm2,biomed\nNAM-01,TM2.01,B01\nNAM-02,,B01\n"

	rec := httptest.NewRecorder()
	if err := env.h.IngestCSV(env.e.NewContext(csvRequest("pairs.csv", body), rec)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp IngestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Type != UploadMappings || resp.Added != 3 {
		t.Errorf("unexpected response %+v", resp)
	}

	p, ok, _ := env.mailbox.Peek(ctx)
	if !ok || p.Namaste != "NAM-01" || p.TM2 != "TM2.01" || p.Biomed != "B01" {
		t.Errorf("expected first row as prefill, got %+v ok=%v", p, ok)
	}

	list, _ := env.store.List(ctx)
	if len(list) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(list))
	}
	for _, m := range list {
		if m.Score != 1 || m.FromSystem != "NAMASTE" {
			t.Errorf("unexpected imported mapping %+v", m)
		}
		if m.Dest.System == "BIO" && m.Dest.Term != "Cough" {
			t.Errorf("expected catalog term for B01, got %q", m.Dest.Term)
		}
	}
	last := env.recorder.events[len(env.recorder.events)-1]
	if last.action != "CSV Ingestion" || last.details != "Imported 3 mapping rows from pairs.csv" {
		t.Errorf("unexpected activity %+v", last)
	}

	rec = httptest.NewRecorder()
	env.h.IngestCSV(env.e.NewContext(csvRequest("pairs.csv", body), rec))
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Added != 0 {
		t.Errorf("expected re-upload to add nothing, got %d", resp.Added)
	}
}

func TestHandler_IngestCodesCSV(t *testing.T) {
	env := newTestEnv()
	rec := httptest.NewRecorder()
	body := "code,term,system\nU-9,Uploaded disorder,NAMASTE\nNAM-01,Jwara (Fever),NAMASTE\n"
	if err := env.h.IngestCSV(env.e.NewContext(csvRequest("codes.csv", body), rec)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var resp IngestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Type != UploadCodes || resp.Added != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if _, ok := env.h.catalog.Catalog().Find("NAMASTE", "U-9"); !ok {
		t.Error("expected uploaded code in the catalog")
	}
	if resp.Prefill != nil {
		t.Error("codes upload should not write a prefill")
	}
}

func TestHandler_IngestRejectsUnknownColumns(t *testing.T) {
	env := newTestEnv()
	rec := httptest.NewRecorder()
	env.h.IngestCSV(env.e.NewContext(csvRequest("notes.csv", "a,b\n1,2\n"), rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.recorder.events) != 1 || env.recorder.events[0].details != "Unrecognized columns in notes.csv" {
		t.Errorf("unexpected activity %+v", env.recorder.events)
	}
	if _, ok, _ := env.mailbox.Peek(context.Background()); ok {
		t.Error("rejected upload should not write a prefill")
	}
}

func TestHandler_IngestEmptyCSV(t *testing.T) {
	env := newTestEnv()
	rec := httptest.NewRecorder()
	env.h.IngestCSV(env.e.NewContext(csvRequest("blank.csv", "namaste,tm2,biomed\n"), rec))
	var resp IngestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if rec.Code != http.StatusOK || resp.Type != UploadEmpty {
		t.Errorf("expected empty upload, got %d %+v", rec.Code, resp)
	}
}
