package activity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vaidyasetu/vaidyasetu/pkg/pagination"
)

// Handler exposes the activity stream.
type Handler struct {
	log *Log
}

// NewHandler creates a new activity handler.
func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

// RegisterRoutes registers activity routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/activity", h.List)
	api.DELETE("/activity", h.Clear)
}

// List handles GET /api/v1/activity?limit=&offset=
func (h *Handler) List(c echo.Context) error {
	pg := pagination.Parse(c, 50, MaxEvents)
	events, err := h.log.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.Slice(events, pg))
}

// Clear handles DELETE /api/v1/activity
func (h *Handler) Clear(c echo.Context) error {
	if err := h.log.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
