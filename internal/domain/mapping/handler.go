package mapping

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/activity"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/matching"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/record"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/fhir"
)

// Handler provides REST endpoints for the mapping ledger and local candidates.
type Handler struct {
	store    *Store
	catalog  *catalog.Service
	mailbox  *record.Mailbox
	activity activity.Recorder
}

// NewHandler creates a new mapping handler.
func NewHandler(store *Store, cat *catalog.Service, mailbox *record.Mailbox, rec activity.Recorder) *Handler {
	if rec == nil {
		rec = activity.Nop{}
	}
	return &Handler{store: store, catalog: cat, mailbox: mailbox, activity: rec}
}

// RegisterRoutes registers mapping routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/mappings")
	g.GET("", h.List)
	g.POST("", h.Approve)
	g.GET("/export", h.Export)
	g.GET("/candidates", h.Candidates)
	g.DELETE("/:id", h.Remove)
	g.POST("/:id/apply", h.Apply)
	api.POST("/ingest/csv", h.IngestCSV)
}

// List handles GET /api/v1/mappings
func (h *Handler) List(c echo.Context) error {
	list, err := h.store.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

// CodeRef names a catalog entry. Term is only used when the code is not in
// the catalog, as with externally suggested codes.
type CodeRef struct {
	System string `json:"system"`
	Code   string `json:"code"`
	Term   string `json:"term,omitempty"`
}

// ApproveRequest is the body of POST /api/v1/mappings.
type ApproveRequest struct {
	Source     CodeRef  `json:"source"`
	Dest       CodeRef  `json:"dest"`
	FromSystem string   `json:"fromSystem,omitempty"`
	Score      *float64 `json:"score,omitempty"`
}

func (h *Handler) resolve(ref CodeRef) (catalog.CodeEntry, error) {
	if strings.TrimSpace(ref.System) == "" || strings.TrimSpace(ref.Code) == "" {
		return catalog.CodeEntry{}, fmt.Errorf("system and code are required")
	}
	if e, ok := h.catalog.Catalog().Find(ref.System, ref.Code); ok {
		return e, nil
	}
	if strings.TrimSpace(ref.Term) == "" {
		return catalog.CodeEntry{}, fmt.Errorf("%w: %s:%s is not in the catalog", ErrNotFound, ref.System, ref.Code)
	}
	return catalog.CodeEntry{System: catalog.NormalizeSystem(ref.System), Code: strings.TrimSpace(ref.Code), Term: ref.Term}, nil
}

// Approve handles POST /api/v1/mappings. Without an explicit score the pair is
// scored lexically.
func (h *Handler) Approve(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	src, err := h.resolve(req.Source)
	if err == nil {
		var dst catalog.CodeEntry
		dst, err = h.resolve(req.Dest)
		if err == nil {
			return h.approve(c, req, src, dst)
		}
	}
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	}
	return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
}

func (h *Handler) approve(c echo.Context, req ApproveRequest, src, dst catalog.CodeEntry) error {
	ctx := c.Request().Context()
	score := matching.Score(src, dst)
	if req.Score != nil {
		score = *req.Score
	}
	if score < 0 || score > 1 {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("score must be between 0 and 1"))
	}
	fromSystem := req.FromSystem
	if fromSystem == "" {
		fromSystem = catalog.ToClassification.FromSystem()
		if !catalog.IsSource(src.System) {
			fromSystem = catalog.ToSource.FromSystem()
		}
	}

	m, err := h.store.Approve(ctx, SnapshotOf(src), SnapshotOf(dst), fromSystem, score)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Approve Mapping", fmt.Sprintf("%s:%s → %s:%s (%v)", src.System, src.Code, dst.System, dst.Code, m.Score))
	return c.JSON(http.StatusCreated, m)
}

func idParam(c echo.Context) string {
	id := c.Param("id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

// Remove handles DELETE /api/v1/mappings/:id. Unknown ids succeed.
func (h *Handler) Remove(c echo.Context) error {
	ctx := c.Request().Context()
	id := idParam(c)
	removed, err := h.store.Remove(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if removed {
		h.activity.Record(ctx, "Remove Mapping", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// Export handles GET /api/v1/mappings/export
func (h *Handler) Export(c echo.Context) error {
	data, err := h.store.ExportAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="mappings.json"`)
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// CandidatesResponse is the body of GET /api/v1/mappings/candidates.
type CandidatesResponse struct {
	Query      string           `json:"query"`
	Direction  string           `json:"direction"`
	FromSystem string           `json:"fromSystem"`
	Groups     []matching.Group `json:"groups"`
}

// Candidates handles GET /api/v1/mappings/candidates?q=&direction=
func (h *Handler) Candidates(c echo.Context) error {
	ctx := c.Request().Context()
	dir := catalog.ParseDirection(c.QueryParam("direction"))
	src, dst := h.catalog.Catalog().Pools(dir)
	groups := matching.Generate(c.QueryParam("q"), src, dst)

	mapped, err := h.store.MappedSources(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for i := range groups {
		groups[i].Source.Mapped = mapped[catalog.MappedKey(groups[i].Source.System, groups[i].Source.Code)]
		for j := range groups[i].Candidates {
			cand := &groups[i].Candidates[j]
			cand.Source.Mapped = groups[i].Source.Mapped
			cand.Dest.Mapped = mapped[catalog.MappedKey(cand.Dest.System, cand.Dest.Code)]
		}
	}
	if groups == nil {
		groups = []matching.Group{}
	}
	return c.JSON(http.StatusOK, CandidatesResponse{
		Query:      c.QueryParam("q"),
		Direction:  string(dir),
		FromSystem: dir.FromSystem(),
		Groups:     groups,
	})
}

// Apply handles POST /api/v1/mappings/:id/apply. It leaves the mapping's codes
// in the record builder's prefill mailbox.
func (h *Handler) Apply(c echo.Context) error {
	ctx := c.Request().Context()
	m, err := h.store.Get(ctx, idParam(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Mapping", idParam(c)))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	p := record.PrefillFor(m.FromSystem,
		record.CodeRef{System: m.Source.System, Code: m.Source.Code},
		record.CodeRef{System: m.Dest.System, Code: m.Dest.Code})
	if err := h.mailbox.Put(ctx, p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.activity.Record(ctx, "Apply Mapping", fmt.Sprintf("Prefilled FHIR with namaste=%s tm2=%s biomed=%s", p.Namaste, p.TM2, p.Biomed))
	return c.JSON(http.StatusOK, p)
}

// IngestResponse is the answer to a CSV upload.
type IngestResponse struct {
	Type    string          `json:"type"`
	Added   int             `json:"added"`
	Prefill *record.Prefill `json:"prefill,omitempty"`
}

// readUpload returns the uploaded bytes and a display name. It accepts a
// multipart "file" field or a raw text/csv body.
func readUpload(c echo.Context) ([]byte, string, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("file field is required: %w", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		return data, fh.Filename, err
	}
	data, err := io.ReadAll(c.Request().Body)
	name := c.QueryParam("name")
	if name == "" {
		name = "upload.csv"
	}
	return data, name, err
}

// IngestCSV handles POST /api/v1/ingest/csv. A codes file extends the catalog.
// A mappings file adds NAMASTE to TM2 and BIO mappings that are not yet in
// the ledger, and its first row becomes the record builder prefill.
func (h *Handler) IngestCSV(c echo.Context) error {
	ctx := c.Request().Context()
	data, name, err := readUpload(c)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	up, err := ParseUpload(data)
	if errors.Is(err, ErrUnrecognizedUpload) {
		h.activity.Record(ctx, "CSV Ingestion", "Unrecognized columns in "+name)
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()+" in "+name))
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	switch up.Kind {
	case UploadCodes:
		added := h.catalog.Ingest(up.Codes)
		h.activity.Record(ctx, "CSV Ingestion", fmt.Sprintf("Added %d codes from %s", added, name))
		return c.JSON(http.StatusOK, IngestResponse{Type: up.Kind, Added: added})

	case UploadMappings:
		cat := h.catalog.Catalog()
		term := func(system, code string) string {
			if e, ok := cat.Find(system, code); ok {
				return e.Term
			}
			return ""
		}
		added, err := h.store.Import(ctx, Pairs(up.Rows, term))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		resp := IngestResponse{Type: up.Kind, Added: added}
		if len(up.Rows) > 0 {
			p := up.Rows[0].Prefill()
			if err := h.mailbox.Put(ctx, p); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			resp.Prefill = &p
		}
		h.activity.Record(ctx, "CSV Ingestion", fmt.Sprintf("Imported %d mapping rows from %s", added, name))
		return c.JSON(http.StatusOK, resp)
	}

	h.activity.Record(ctx, "CSV Ingestion", "No rows in "+name)
	return c.JSON(http.StatusOK, IngestResponse{Type: UploadEmpty})
}
