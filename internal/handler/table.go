package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
)

// TableViewer projects table status.  *booking.Projector satisfies it.
type TableViewer interface {
	View(ctx context.Context, tableID uint64) (booking.TableView, error)
	List(ctx context.Context) ([]booking.TableView, error)
}

// TableHandler serves the public table endpoints.  Responses may be served
// from the response cache and lag the store by the cache TTL.
type TableHandler struct {
	Tables TableViewer
}

// NewTableHandler panics on a nil viewer.
func NewTableHandler(tables TableViewer) *TableHandler {
	if tables == nil {
		panic("nil viewer passed to NewTableHandler")
	}
	return &TableHandler{Tables: tables}
}

// List handles GET /v1/tables.
func (h *TableHandler) List(c echo.Context) error {
	items, err := h.Tables.List(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []booking.TableView{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Status handles GET /v1/tables/:id/status.
func (h *TableHandler) Status(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	view, err := h.Tables.View(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"table_id": view.ID, "status": view.Status})
}
