package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// Booker is the part of the engine used by player endpoints.
type Booker interface {
	Admit(ctx context.Context, req booking.AdmitRequest) (booking.Admission, error)
	Transition(ctx context.Context, req booking.TransitionRequest) (booking.Outcome, error)
	Reschedule(ctx context.Context, reservationID, actorID uint64, slot booking.SlotKey) (booking.Admission, error)
	Lookup(ctx context.Context, reservationID uint64) (booking.Admission, error)
	ListByPlayer(ctx context.Context, playerID uint64) ([]model.Reservation, error)
}

// ReservationHandler serves the player-facing reservation endpoints.
type ReservationHandler struct {
	Engine Booker
}

// NewReservationHandler panics on a nil engine.
func NewReservationHandler(engine Booker) *ReservationHandler {
	if engine == nil {
		panic("nil engine passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: engine}
}

type createReservationRequest struct {
	slotBody
	Participants model.Participants `json:"participants"`
}

// Create handles POST /v1/reservations.  The caller becomes the actor of the
// booking and need not play.  201 with the reservation and its queue
// position (0 when confirmed).
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body createReservationRequest
	if err := c.Bind(&body); err != nil {
		return badBody(c)
	}
	res, err := h.Engine.Admit(c.Request().Context(), booking.AdmitRequest{
		Slot:         body.key(),
		Participants: body.Participants,
		ActorID:      userID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/reservations/:id with the live queue position.
func (h *ReservationHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.Engine.Lookup(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// finishRequest keeps the scores raw so a value of the wrong type is
// reported as an invalid score, not as a malformed body.
type finishRequest struct {
	FinalScoreRed  json.RawMessage `json:"final_score_red"`
	FinalScoreBlue json.RawMessage `json:"final_score_blue"`
}

func (r finishRequest) scores() (*booking.Scores, error) {
	red, err := decodeScore("final_score_red", r.FinalScoreRed)
	if err != nil {
		return nil, err
	}
	blue, err := decodeScore("final_score_blue", r.FinalScoreBlue)
	if err != nil {
		return nil, err
	}
	if red == nil && blue == nil {
		return nil, nil
	}
	return &booking.Scores{Red: red, Blue: blue}, nil
}

func decodeScore(field string, raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", booking.ErrInvalidScore, field)
	}
	return &v, nil
}

// Start handles POST /v1/reservations/:id/start.
func (h *ReservationHandler) Start(c echo.Context) error {
	return h.transition(c, booking.ActionStart, nil)
}

// Finish handles POST /v1/reservations/:id/finish.  The body may carry the
// final score; an empty body finishes without one.
func (h *ReservationHandler) Finish(c echo.Context) error {
	var body finishRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return badBody(c)
		}
	}
	scores, err := body.scores()
	if err != nil {
		return writeError(c, err)
	}
	return h.transition(c, booking.ActionFinish, scores)
}

// Cancel handles POST /v1/reservations/:id/cancel.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	return h.transition(c, booking.ActionCancel, nil)
}

func (h *ReservationHandler) transition(c echo.Context, action booking.Action, scores *booking.Scores) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	out, err := h.Engine.Transition(c.Request().Context(), booking.TransitionRequest{
		ReservationID: id,
		Action:        action,
		ActorID:       userID,
		Scores:        scores,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Reschedule handles PATCH /v1/reservations/:id, moving a queued reservation
// to another slot.
func (h *ReservationHandler) Reschedule(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var body slotBody
	if err := c.Bind(&body); err != nil {
		return badBody(c)
	}
	res, err := h.Engine.Reschedule(c.Request().Context(), id, userID, body.key())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Mine handles GET /v1/my-reservations, newest first.
func (h *ReservationHandler) Mine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	items, err := h.Engine.ListByPlayer(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
