package suggest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/activity"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/fhir"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/latest"
)

// Headers used for last-request-wins coalescing.
const (
	HeaderClientID   = "X-Client-ID"
	HeaderSuperseded = "X-Superseded"
)

// Handler exposes the suggestion adapter over HTTP.
type Handler struct {
	adapter  *Adapter
	tracker  *latest.Tracker
	debounce time.Duration
	activity activity.Recorder
	stats    StatsSource
	events   EventSource
}

// StatsSource reports catalog statistics.
type StatsSource interface {
	Stats(ctx context.Context) (*catalog.Stats, error)
}

// EventSource lists the activity stream, newest first.
type EventSource interface {
	List(ctx context.Context) ([]activity.Event, error)
}

// NewHandler creates a suggestion handler. Requests carrying the same
// X-Client-ID are debounced by quiet and only the newest one is answered.
func NewHandler(adapter *Adapter, tracker *latest.Tracker, quiet time.Duration, rec activity.Recorder) *Handler {
	if tracker == nil {
		tracker = latest.NewTracker()
	}
	if rec == nil {
		rec = activity.Nop{}
	}
	return &Handler{adapter: adapter, tracker: tracker, debounce: quiet, activity: rec}
}

// WithWorkspace supplies the figures used by the insights endpoint.
func (h *Handler) WithWorkspace(stats StatsSource, events EventSource) *Handler {
	h.stats = stats
	h.events = events
	return h
}

// RegisterRoutes registers suggestion and assistant routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/suggest", h.Suggest)
	api.POST("/suggest/explain", h.Explain)
	api.POST("/assistant/ask", h.Ask)
	api.POST("/assistant/insights", h.Insights)
}

func (h *Handler) serviceError(c echo.Context, err error) error {
	var svcErr *ServiceError
	switch {
	case errors.Is(err, ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, fhir.UnavailableOutcome(err.Error()))
	case errors.As(err, &svcErr):
		return c.JSON(http.StatusBadGateway, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTransient, svcErr.Error()))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func superseded(c echo.Context) error {
	c.Response().Header().Set(HeaderSuperseded, "true")
	return c.NoContent(http.StatusNoContent)
}

// SuggestRequest is the body of POST /api/v1/suggest.
type SuggestRequest struct {
	Query     string `json:"query"`
	Direction string `json:"direction"`
}

// SuggestResponse is the answer to a suggestion request.
type SuggestResponse struct {
	Query      string             `json:"query"`
	Direction  string             `json:"direction"`
	FromSystem string             `json:"fromSystem"`
	Groups     []SystemCandidates `json:"groups"`
}

// Suggest handles POST /api/v1/suggest
func (h *Handler) Suggest(c echo.Context) error {
	var req SuggestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	dir := catalog.ParseDirection(req.Direction)
	q := strings.TrimSpace(req.Query)

	if client := c.Request().Header.Get(HeaderClientID); client != "" && q != "" {
		key := "suggest:" + client
		tok := h.tracker.Issue(key)
		defer h.tracker.Done(key, tok)
		if !h.tracker.Settle(ctx, key, tok, h.debounce) {
			return superseded(c)
		}
		groups, err := h.adapter.Suggest(ctx, q, dir)
		if !h.tracker.Current(key, tok) {
			return superseded(c)
		}
		return h.writeSuggestion(c, q, dir, groups, err)
	}

	groups, err := h.adapter.Suggest(ctx, q, dir)
	return h.writeSuggestion(c, q, dir, groups, err)
}

func (h *Handler) writeSuggestion(c echo.Context, q string, dir catalog.Direction, groups []SystemCandidates, err error) error {
	if err != nil {
		return h.serviceError(c, err)
	}
	if groups == nil {
		groups = []SystemCandidates{}
	} else {
		h.activity.Record(c.Request().Context(), "AI Suggest (Mapping)", fmt.Sprintf("Asked AI for %q from %s", q, dir.FromSystem()))
	}
	return c.JSON(http.StatusOK, SuggestResponse{
		Query:      q,
		Direction:  string(dir),
		FromSystem: dir.FromSystem(),
		Groups:     groups,
	})
}

// ExplainRequest is the body of POST /api/v1/suggest/explain. Term is used
// when the code is not in the catalog.
type ExplainRequest struct {
	System string `json:"system"`
	Code   string `json:"code"`
	Term   string `json:"term,omitempty"`
}

// Explain handles POST /api/v1/suggest/explain
func (h *Handler) Explain(c echo.Context) error {
	var req ExplainRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.System) == "" || strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("system and code are required"))
	}
	entry, ok := h.adapter.catalog.Catalog().Find(req.System, req.Code)
	if !ok {
		if strings.TrimSpace(req.Term) == "" {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("CodeEntry", req.System+":"+req.Code))
		}
		entry = catalog.CodeEntry{System: catalog.NormalizeSystem(req.System), Code: strings.TrimSpace(req.Code), Term: req.Term}
	}

	ctx := c.Request().Context()
	text, err := h.adapter.Explain(ctx, entry)
	if err != nil {
		return h.serviceError(c, err)
	}
	h.activity.Record(ctx, "AI Explain Code", entry.Key())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"system":      entry.System,
		"code":        entry.Code,
		"explanation": text,
	})
}

// AskRequest is the body of POST /api/v1/assistant/ask.
type AskRequest struct {
	History  []Turn `json:"history"`
	Question string `json:"question"`
}

// Ask handles POST /api/v1/assistant/ask
func (h *Handler) Ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	answer, err := h.adapter.Ask(c.Request().Context(), req.History, req.Question)
	if errors.Is(err, ErrEmptyQuestion) {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, Turn{Role: "assistant", Content: answer})
}

// InsightsRequest is the body of POST /api/v1/assistant/insights. A blank
// question asks for a health summary.
type InsightsRequest struct {
	Question string `json:"question"`
}

// InsightsResponse carries the answer with the figures it was built from.
type InsightsResponse struct {
	Answer string `json:"answer"`
	KPIs   KPIs   `json:"kpi"`
}

// Insights handles POST /api/v1/assistant/insights
func (h *Handler) Insights(c echo.Context) error {
	var req InsightsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if h.stats == nil || h.events == nil {
		return c.JSON(http.StatusServiceUnavailable, fhir.UnavailableOutcome("workspace figures are not configured"))
	}
	ctx := c.Request().Context()
	st, err := h.stats.Stats(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	events, err := h.events.List(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	snap := NewSnapshot(st, events)
	answer, err := h.adapter.Insights(ctx, snap, req.Question)
	if err != nil {
		return h.serviceError(c, err)
	}
	details := "Workspace summary"
	if q := strings.TrimSpace(req.Question); q != "" {
		details = q
	}
	h.activity.Record(ctx, "AI Insights", details)
	return c.JSON(http.StatusOK, InsightsResponse{Answer: answer, KPIs: snap.KPIs})
}
