package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// TableAdmin manages the table catalogue.  Both stores implement it.
type TableAdmin interface {
	CreateTable(ctx context.Context, t *model.Table) error
	SetMaintenance(ctx context.Context, id uint64, on bool) (model.Table, error)
}

// Deleter removes reservations; *booking.Engine implements it.
type Deleter interface {
	Delete(ctx context.Context, reservationID, actorID uint64) (booking.Release, error)
}

// AdminHandler serves the ADMIN-only endpoints.  Table changes are announced
// through Notifier so that cached table views are dropped.
type AdminHandler struct {
	Tables   TableAdmin
	Engine   Deleter
	Notifier booking.Notifier
	Now      func() time.Time
}

// NewAdminHandler panics when a required dependency is nil.
func NewAdminHandler(tables TableAdmin, engine Deleter, notifier booking.Notifier) *AdminHandler {
	if tables == nil || engine == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Tables: tables, Engine: engine, Notifier: notifier, Now: time.Now}
}

type createTableRequest struct {
	Name     string  `json:"name"`
	Location *string `json:"location"`
}

// CreateTable handles POST /v1/admin/tables.  409 when the name is taken.
func (h *AdminHandler) CreateTable(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body createTableRequest
	if err := c.Bind(&body); err != nil {
		return badBody(c)
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required", "code": "invalid_request"})
	}
	t := model.Table{Name: name}
	if body.Location != nil {
		if loc := strings.TrimSpace(*body.Location); loc != "" {
			t.Location = &loc
		}
	}
	if err := h.Tables.CreateTable(c.Request().Context(), &t); err != nil {
		return writeError(c, err)
	}
	h.announce(c.Request().Context(), t.ID, userID)
	return c.JSON(http.StatusCreated, t)
}

type maintenanceRequest struct {
	Maintenance *bool `json:"maintenance"`
}

// SetMaintenance handles PUT /v1/admin/tables/:id/maintenance with body
// {"maintenance": true|false}.
func (h *AdminHandler) SetMaintenance(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var body maintenanceRequest
	if err := c.Bind(&body); err != nil || body.Maintenance == nil {
		return badBody(c)
	}
	t, err := h.Tables.SetMaintenance(c.Request().Context(), id, *body.Maintenance)
	if err != nil {
		return writeError(c, err)
	}
	h.announce(c.Request().Context(), t.ID, userID)
	return c.JSON(http.StatusOK, t)
}

// DeleteReservation handles DELETE /v1/admin/reservations/:id.  Deleting an
// active reservation promotes the head of its queue.
func (h *AdminHandler) DeleteReservation(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	rel, err := h.Engine.Delete(c.Request().Context(), id, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rel)
}

func (h *AdminHandler) announce(ctx context.Context, tableID, actorID uint64) {
	if h.Notifier == nil {
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	h.Notifier.Notify(ctx, booking.Event{
		Type:       booking.EventTableUpdated,
		TableID:    tableID,
		ActorID:    actorID,
		OccurredAt: now().UTC(),
	})
}
