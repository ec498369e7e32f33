package catalog

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/fhir"
	"github.com/vaidyasetu/vaidyasetu/pkg/pagination"
)

// Handler provides REST endpoints for browsing the code catalog.
type Handler struct {
	svc *Service
}

// NewHandler creates a new catalog handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers catalog routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/codes")
	g.GET("", h.SearchCodes)
	g.GET("/stats", h.GetStats)
	g.POST("/reload", h.Reload)
	g.GET("/:system/:code", h.GetCode)
}

// SearchCodes handles GET /api/v1/codes?q=&system=
func (h *Handler) SearchCodes(c echo.Context) error {
	pg := pagination.FromContext(c)
	results, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"), c.QueryParam("system"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.Slice(results, pg).WithLinks(c.Request().URL))
}

// GetCode handles GET /api/v1/codes/:system/:code
func (h *Handler) GetCode(c echo.Context) error {
	entry, err := h.svc.Lookup(c.Request().Context(), c.Param("system"), c.Param("code"))
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("CodeEntry", c.Param("system")+":"+c.Param("code")))
	case errors.Is(err, ErrInvalidRef):
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, entry)
}

// GetStats handles GET /api/v1/codes/stats
func (h *Handler) GetStats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

// Reload handles POST /api/v1/codes/reload
func (h *Handler) Reload(c echo.Context) error {
	res := h.svc.Reload(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":     res.Catalog.Len(),
		"rejected":  res.Catalog.Rejected(),
		"source":    res.Source,
		"warning":   res.Warning,
		"loaded_at": res.LoadedAt,
	})
}
