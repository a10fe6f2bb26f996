package booking

import (
	"context"
	"time"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// EventType names a committed change.
type EventType string

const (
	EventConfirmed EventType = "reservation.confirmed"
	EventQueued    EventType = "reservation.queued"
	EventPromoted  EventType = "reservation.promoted"
	EventStarted   EventType = "reservation.started"
	EventFinished  EventType = "reservation.finished"
	EventCancelled EventType = "reservation.cancelled"
	EventExpired   EventType = "reservation.expired"
	EventDeleted   EventType = "reservation.deleted"
	EventTableFree EventType = "table.freed"

	// EventTableUpdated is raised outside the engine when an administrator
	// creates a table or toggles maintenance.
	EventTableUpdated EventType = "table.updated"
)

// Event describes a change after it has been committed.
type Event struct {
	Type           EventType               `json:"type"`
	ReservationID  uint64                  `json:"reservation_id,omitempty"`
	TableID        uint64                  `json:"table_id"`
	StartTime      time.Time               `json:"start_time"`
	Status         model.ReservationStatus `json:"status,omitempty"`
	Position       int                     `json:"position,omitempty"`
	Participants   model.Participants      `json:"participants"`
	FinalScoreRed  *int                    `json:"final_score_red,omitempty"`
	FinalScoreBlue *int                    `json:"final_score_blue,omitempty"`
	ActorID        uint64                  `json:"actor_id,omitempty"`
	OccurredAt     time.Time               `json:"occurred_at"`
}

// Notifier receives events once the unit of work that produced them has
// committed.  Implementations must not block the caller for long and must
// not fail the operation; delivery errors are theirs to handle.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier []Notifier

// Notify forwards ev to every non-nil notifier.
func (m MultiNotifier) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

func reservationEvent(t EventType, r model.Reservation, actorID uint64, at time.Time) Event {
	return Event{
		Type:           t,
		ReservationID:  r.ID,
		TableID:        r.TableID,
		StartTime:      r.StartTime,
		Status:         r.Status,
		Participants:   r.Participants,
		FinalScoreRed:  r.FinalScoreRed,
		FinalScoreBlue: r.FinalScoreBlue,
		ActorID:        actorID,
		OccurredAt:     at,
	}
}
