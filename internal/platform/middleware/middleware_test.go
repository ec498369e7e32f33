package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	e := echo.New()
	var seen string
	h := RequestID()(func(c echo.Context) error {
		seen, _ = c.Get(RequestIDKey).(string)
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	if len(seen) != 36 || rec.Header().Get(echo.HeaderXRequestID) != seen {
		t.Errorf("expected generated uuid echoed, got %q / %q", seen, rec.Header().Get(echo.HeaderXRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec = httptest.NewRecorder()
	h(e.NewContext(req, rec))
	if seen != "abc-123" || rec.Header().Get(echo.HeaderXRequestID) != "abc-123" {
		t.Errorf("expected incoming id kept, got %q", seen)
	}
}

func TestLogger_WritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()

	h := RequestID()(Logger(logger)(func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "nope"})
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/codes/NAMASTE/X", nil)
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON log line, got %q", buf.String())
	}
	if line["level"] != "warn" || line["path"] != "/api/v1/codes/NAMASTE/X" || line["status"] != float64(404) {
		t.Errorf("unexpected log line %v", line)
	}
	if line["request_id"] == "" {
		t.Errorf("expected request id in log line")
	}
}

func TestLogger_HandlerErrorIsRendered(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	h := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("expected error to be handled, got %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("expected error level, got %s", buf.String())
	}
}

func TestRecovery_ReturnsOutcome(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	h := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic(errors.New("boom"))
	})

	rec := httptest.NewRecorder()
	if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OperationOutcome") {
		t.Errorf("expected OperationOutcome, got %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic logged, got %s", buf.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	SecurityHeaders()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}
