package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/activity"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/fhir"
)

// Handler exposes the record builder, prefill mailbox and draft bundle.
type Handler struct {
	mailbox  *Mailbox
	drafts   *DraftStore
	activity activity.Recorder
}

// NewHandler creates a new record handler.
func NewHandler(mailbox *Mailbox, drafts *DraftStore, rec activity.Recorder) *Handler {
	if rec == nil {
		rec = activity.Nop{}
	}
	return &Handler{mailbox: mailbox, drafts: drafts, activity: rec}
}

// RegisterRoutes registers record routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/record")
	g.GET("/prefill", h.PeekPrefill)
	g.PUT("/prefill", h.PutPrefill)
	g.DELETE("/prefill", h.TakePrefill)
	g.POST("/condition", h.BuildCondition)
	g.POST("/condition/bundle", h.BuildConditionBundle)
	g.POST("/import", h.Import)
	g.GET("/drafts", h.ListDrafts)
	g.POST("/drafts", h.SaveDraft)
	g.DELETE("/drafts", h.ClearDrafts)
	g.GET("/drafts/bundle", h.ExportDrafts)
	g.DELETE("/drafts/:index", h.RemoveDraft)
	g.POST("/drafts/:index/prefill", h.PrefillFromDraft)
}

// PeekPrefill handles GET /api/v1/record/prefill
func (h *Handler) PeekPrefill(c echo.Context) error {
	p, ok, err := h.mailbox.Peek(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, p)
}

// PutPrefill handles PUT /api/v1/record/prefill
func (h *Handler) PutPrefill(c echo.Context) error {
	var p Prefill
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.mailbox.Put(c.Request().Context(), p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

// TakePrefill handles DELETE /api/v1/record/prefill. The pending prefill is
// returned once and then gone.
func (h *Handler) TakePrefill(c echo.Context) error {
	ctx := c.Request().Context()
	p, ok, err := h.mailbox.Take(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	raw, _ := json.Marshal(p)
	h.activity.Record(ctx, "FHIR Prefill", string(raw))
	return c.JSON(http.StatusOK, p)
}

type conditionResponse struct {
	Condition   Condition              `json:"condition"`
	Validations []Validation           `json:"validations"`
	Outcome     *fhir.OperationOutcome `json:"outcome"`
}

// BuildCondition handles POST /api/v1/record/condition
func (h *Handler) BuildCondition(c echo.Context) error {
	var in ConditionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	vs := Validate(in)
	return c.JSON(http.StatusOK, conditionResponse{
		Condition:   BuildCondition(in),
		Validations: vs,
		Outcome:     Outcome(vs),
	})
}

// BuildConditionBundle handles POST /api/v1/record/condition/bundle
func (h *Handler) BuildConditionBundle(c echo.Context) error {
	var in ConditionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	cond := BuildCondition(in)
	cond.ID = fmt.Sprintf("cond-%d", h.drafts.clock().UnixMilli())
	bundle, err := fhir.NewCollectionBundle([]interface{}{cond})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Export Bundle", fmt.Sprintf("entries: %d", len(bundle.Entry)))
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="Bundle.json"`)
	return c.JSONPretty(http.StatusOK, bundle, "  ")
}

// Import handles POST /api/v1/record/import with a Condition or Bundle body.
func (h *Handler) Import(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}
	im, err := ExtractCodes(raw)
	if err != nil {
		if errors.Is(err, ErrInvalidJSON) {
			return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
		}
		return c.JSON(http.StatusUnprocessableEntity, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	}
	h.activity.Record(c.Request().Context(), "FHIR Import", "From JSON: "+im.Source)
	return c.JSON(http.StatusOK, im)
}

// ListDrafts handles GET /api/v1/record/drafts
func (h *Handler) ListDrafts(c echo.Context) error {
	summaries, err := h.drafts.Summaries(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summaries)
}

// SaveDraft handles POST /api/v1/record/drafts
func (h *Handler) SaveDraft(c echo.Context) error {
	var in ConditionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	saved, err := h.drafts.Add(ctx, BuildCondition(in))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Save Condition", fmt.Sprintf("Saved Condition (%s) to local Bundle draft", saved.ID))
	return c.JSON(http.StatusCreated, saved)
}

// ClearDrafts handles DELETE /api/v1/record/drafts
func (h *Handler) ClearDrafts(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.drafts.Clear(ctx); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Clear Bundle Draft", "Deleted all items")
	return c.NoContent(http.StatusNoContent)
}

func indexParam(c echo.Context) (int, error) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil || i < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "index must be a non-negative integer")
	}
	return i, nil
}

// RemoveDraft handles DELETE /api/v1/record/drafts/:index
func (h *Handler) RemoveDraft(c echo.Context) error {
	i, err := indexParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.drafts.Remove(ctx, i); err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Draft", c.Param("index")))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Delete Draft Entry", fmt.Sprintf("Removed index %d", i))
	return c.NoContent(http.StatusNoContent)
}

// PrefillFromDraft handles POST /api/v1/record/drafts/:index/prefill
func (h *Handler) PrefillFromDraft(c echo.Context) error {
	i, err := indexParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cond, err := h.drafts.Get(ctx, i)
	if err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Draft", c.Param("index")))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if cond.ResourceType != "Condition" {
		return c.JSON(http.StatusUnprocessableEntity, fhir.ErrorOutcome("Only Condition resources can prefill the record builder."))
	}
	p := PrefillFromCondition(cond)
	if err := h.mailbox.Put(ctx, p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Prefill FHIR", fmt.Sprintf("namaste=%s tm2=%s biomed=%s", p.Namaste, p.TM2, p.Biomed))
	return c.JSON(http.StatusOK, p)
}

// ExportDrafts handles GET /api/v1/record/drafts/bundle
func (h *Handler) ExportDrafts(c echo.Context) error {
	ctx := c.Request().Context()
	bundle, err := h.drafts.ExportBundle(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Export Bundle", fmt.Sprintf("Exported %d entries", len(bundle.Entry)))
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="bundle-draft-export.json"`)
	return c.JSONPretty(http.StatusOK, bundle, "  ")
}
