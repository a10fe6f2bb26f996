// Package handler exposes the booking engine over JSON HTTP endpoints.  The
// handlers are thin: they parse input, call the engine and translate its
// errors.  All routes behind JWTAuth read the caller from the context.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/middleware"
	"github.com/iliyamo/babyfoot-reservation/internal/repository"
)

// retryAfterSeconds is advertised when a slot lock could not be taken.
const retryAfterSeconds = 1

// getUserID returns the authenticated caller.
func getUserID(c echo.Context) (uint64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, errors.New("invalid user_id in context")
	}
	return id, nil
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s", booking.ErrInvalidRequest, name)
	}
	return id, nil
}

// slotBody is the JSON form of a slot.
type slotBody struct {
	TableID   uint64    `json:"table_id"`
	StartTime time.Time `json:"start_time"`
}

func (b slotBody) key() booking.SlotKey {
	return booking.NewSlotKey(b.TableID, b.StartTime)
}

// statusOf maps an error to its HTTP status and machine-readable code.
func statusOf(err error) (int, string) {
	if errors.Is(err, repository.ErrConflict) {
		return http.StatusConflict, "conflict"
	}
	kind := booking.Kind(err)
	switch kind {
	case "invalid_request":
		return http.StatusBadRequest, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "not_participant":
		return http.StatusForbidden, kind
	case "duplicate_booking", "slot_conflict", "invalid_transition", "already_finished":
		return http.StatusConflict, kind
	case "invalid_score":
		return http.StatusUnprocessableEntity, kind
	case "busy", "canceled":
		return http.StatusServiceUnavailable, kind
	}
	return http.StatusInternalServerError, "internal"
}

// writeError renders err as {"error", "code"}.  Internal errors are logged
// and their text withheld from the client.
func writeError(c echo.Context, err error) error {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		middleware.Logger(c).WithError(err).Error("request failed")
		msg = "internal error"
	}
	if code == "busy" {
		c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds))
	}
	return c.JSON(status, echo.Map{"error": msg, "code": code})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": "unauthorized"})
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": "invalid_request"})
}
