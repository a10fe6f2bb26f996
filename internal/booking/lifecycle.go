package booking

import (
	"fmt"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// Action is a request to move a reservation to another status.
type Action string

const (
	// Participant-facing actions.
	ActionStart  Action = "start"
	ActionFinish Action = "finish"
	ActionCancel Action = "cancel"

	// Engine-only actions.
	ActionPromote    Action = "promote"
	ActionExpire     Action = "expire"
	ActionReschedule Action = "reschedule"
)

// ParseAction converts a participant action name.  Engine-only actions are
// rejected so they cannot be requested from outside.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionFinish, ActionCancel:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, s)
}

// requiresParticipant reports whether the actor must hold a role.
func (a Action) requiresParticipant() bool {
	return a == ActionStart || a == ActionFinish || a == ActionCancel || a == ActionReschedule
}

type edge struct {
	From   model.ReservationStatus
	Action Action
	To     model.ReservationStatus
}

// edges lists every allowed transition.  Reschedule keeps PENDING here; the
// status actually stored is decided again by admission.
var edges = []edge{
	{From: model.StatusPending, Action: ActionPromote, To: model.StatusConfirmed},
	{From: model.StatusConfirmed, Action: ActionStart, To: model.StatusInProgress},
	{From: model.StatusInProgress, Action: ActionFinish, To: model.StatusFinished},
	{From: model.StatusPending, Action: ActionCancel, To: model.StatusCancelled},
	{From: model.StatusConfirmed, Action: ActionCancel, To: model.StatusCancelled},
	{From: model.StatusInProgress, Action: ActionCancel, To: model.StatusCancelled},
	{From: model.StatusPending, Action: ActionExpire, To: model.StatusExpired},
	{From: model.StatusPending, Action: ActionReschedule, To: model.StatusPending},
}

// Next returns the status reached by applying action to from.  Cancelling a
// finished reservation fails with ErrAlreadyFinished; any other edge missing
// from the table fails with a *TransitionError.
func Next(from model.ReservationStatus, action Action) (model.ReservationStatus, error) {
	for _, e := range edges {
		if e.From == from && e.Action == action {
			return e.To, nil
		}
	}
	if action == ActionCancel && from == model.StatusFinished {
		return from, ErrAlreadyFinished
	}
	return from, &TransitionError{From: from, Action: action}
}

// Releases reports whether moving from one status to another frees the slot
// and must therefore run promotion.
func Releases(from, to model.ReservationStatus) bool {
	return from.IsActive() && !to.IsActive()
}

// MaxScore is the highest score a team can reach in a match.
const MaxScore = 10

// Scores carries the optional final result reported with finish.
type Scores struct {
	Red  *int
	Blue *int
}

// Validate checks that every present score is within [0, MaxScore].
func (s *Scores) Validate() error {
	if s == nil {
		return nil
	}
	for _, v := range []*int{s.Red, s.Blue} {
		if v != nil && (*v < 0 || *v > MaxScore) {
			return fmt.Errorf("%w: %d is outside [0,%d]", ErrInvalidScore, *v, MaxScore)
		}
	}
	return nil
}
