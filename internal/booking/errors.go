package booking

import (
	"errors"
	"fmt"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// Sentinel errors returned by the engine.  Callers compare with errors.Is.
var (
	// ErrSlotConflict is returned when two admissions raced for an empty slot
	// and the store rejected the second active reservation.  Retryable.
	ErrSlotConflict = errors.New("slot conflict")

	// ErrDuplicateBooking is returned when a player already holds an active
	// reservation at the same start time.
	ErrDuplicateBooking = errors.New("duplicate booking")

	// ErrInvalidTransition is returned when the requested status change is
	// not allowed from the current status.  See TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyFinished is returned when cancelling a finished reservation.
	ErrAlreadyFinished = errors.New("reservation already finished")

	// ErrInvalidScore is returned when a final score is outside [0,10].
	ErrInvalidScore = errors.New("invalid score")

	// ErrNotParticipant is returned when the actor holds no role in the reservation.
	ErrNotParticipant = errors.New("not a participant")

	// ErrNotFound is returned when a reservation or table does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBusy is returned when the slot lock could not be acquired in time.
	// Retryable; the whole operation must be started again.
	ErrBusy = errors.New("slot busy")

	// ErrInvalidRequest is returned for malformed input (missing table,
	// misaligned start time, empty or duplicated participants).
	ErrInvalidRequest = errors.New("invalid request")
)

// TransitionError names the current status and the refused action.
type TransitionError struct {
	From   model.ReservationStatus
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a %s reservation", e.Action, e.From)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Retryable reports whether err should be retried by re-running the whole
// operation.  Only slot conflicts and lock timeouts qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrBusy)
}
