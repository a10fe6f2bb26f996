package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/babyfoot-reservation/internal/metrics"
	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// Config tunes an Engine.  Zero values fall back to defaults.
type Config struct {
	// RetryAttempts bounds how many times an operation is re-run after a
	// slot conflict or lock timeout.  Negative disables retries.
	RetryAttempts int
	// RetryInitial is the first backoff interval.
	RetryInitial time.Duration
	// RetryMax caps a single backoff interval.
	RetryMax time.Duration

	Notifier Notifier
	Metrics  *metrics.Recorder
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

const (
	defaultRetryAttempts = 3
	defaultRetryInitial  = 20 * time.Millisecond
	defaultRetryMax      = 500 * time.Millisecond
)

// Engine exposes the reservation operations.  It is safe for concurrent use;
// all serialization happens in the store's slot-scoped units of work.
type Engine struct {
	store     Store
	projector *Projector
	notifier  Notifier
	metrics   *metrics.Recorder
	log       logrus.FieldLogger
	now       func() time.Time
	cfg       Config
}

// NewEngine builds an engine over store.
func NewEngine(store Store, cfg Config) *Engine {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = defaultRetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	e := &Engine{
		store:     store,
		projector: NewProjector(store),
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		now:       cfg.Now,
		cfg:       cfg,
	}
	if e.notifier == nil {
		e.notifier = NotifierFunc(func(context.Context, Event) {})
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Projector returns the read-side projector used by ProjectTableStatus.
func (e *Engine) Projector() *Projector { return e.projector }

// Outcome is the result of a participant action.
type Outcome struct {
	Reservation model.Reservation `json:"reservation"`
	Release
}

// TransitionRequest asks to apply Action to a reservation on behalf of ActorID.
// Scores are only read by finish.
type TransitionRequest struct {
	ReservationID uint64
	Action        Action
	ActorID       uint64
	Scores        *Scores
}

// Admit books req.Slot, confirming it when free and queueing otherwise.
func (e *Engine) Admit(ctx context.Context, req AdmitRequest) (Admission, error) {
	req.Slot = NewSlotKey(req.Slot.TableID, req.Slot.StartTime)
	if err := req.validate(); err != nil {
		e.metrics.RecordAdmission("rejected")
		return Admission{}, err
	}
	if _, err := e.store.FindTable(ctx, req.Slot.TableID); err != nil {
		e.metrics.RecordAdmission("rejected")
		return Admission{}, fmt.Errorf("find table %d: %w", req.Slot.TableID, err)
	}

	var res Admission
	var events []Event
	err := e.retry(ctx, "admit", func() error {
		events = events[:0]
		return e.store.WithinSlots(ctx, func(tx SlotTx) error {
			a, err := admit(ctx, tx, req)
			if err != nil {
				return err
			}
			res = a
			typ := EventConfirmed
			if a.Reservation.Status == model.StatusPending {
				typ = EventQueued
			}
			ev := reservationEvent(typ, a.Reservation, req.ActorID, e.now())
			ev.Position = a.Position
			events = append(events, ev)
			return nil
		}, req.Slot)
	})
	if err != nil {
		e.metrics.RecordAdmission("rejected")
		e.log.WithError(err).WithFields(logrus.Fields{
			"table_id":   req.Slot.TableID,
			"start_time": req.Slot.StartTime,
			"actor_id":   req.ActorID,
		}).Info("admission refused")
		return Admission{}, err
	}

	e.metrics.RecordAdmission(string(res.Reservation.Status))
	e.log.WithFields(logrus.Fields{
		"reservation_id": res.Reservation.ID,
		"table_id":       res.Reservation.TableID,
		"start_time":     res.Reservation.StartTime,
		"status":         res.Reservation.Status,
		"position":       res.Position,
	}).Info("reservation admitted")
	e.emit(ctx, events)
	return res, nil
}

// Transition applies a participant action.  Leaving the active set runs
// promotion in the same unit of work.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (Outcome, error) {
	var out Outcome
	var events []Event
	err := e.onReservation(ctx, "transition", req.ReservationID, func(tx SlotTx, cur model.Reservation) error {
		events = events[:0]
		to, err := Next(cur.Status, req.Action)
		if err != nil {
			return err
		}
		if req.Action.requiresParticipant() && !cur.Participants.Has(req.ActorID) {
			return fmt.Errorf("%w: player %d in reservation %d", ErrNotParticipant, req.ActorID, cur.ID)
		}
		var patch StatusPatch
		if req.Action == ActionFinish && req.Scores != nil {
			if err := req.Scores.Validate(); err != nil {
				return err
			}
			patch = StatusPatch{FinalScoreRed: req.Scores.Red, FinalScoreBlue: req.Scores.Blue}
		}

		updated, err := tx.UpdateStatus(ctx, cur.ID, to, patch)
		if err != nil {
			return fmt.Errorf("update reservation %d: %w", cur.ID, err)
		}
		var rel Release
		if Releases(cur.Status, to) {
			if rel, err = release(ctx, tx, cur); err != nil {
				return err
			}
		}
		out = Outcome{Reservation: updated, Release: rel}
		events = append(events, reservationEvent(actionEvent(req.Action), updated, req.ActorID, e.now()))
		events = append(events, e.releaseEvents(cur, rel)...)
		return nil
	})
	e.metrics.RecordTransition(string(req.Action), Kind(err))
	if err != nil {
		return Outcome{}, err
	}

	e.logRelease(e.log.WithFields(logrus.Fields{
		"reservation_id": out.Reservation.ID,
		"action":         req.Action,
		"status":         out.Reservation.Status,
	}), out.Release).Info("reservation updated")
	e.emit(ctx, events)
	return out, nil
}

// Delete removes a reservation outright.  An active reservation is released
// first, exactly as if it had been cancelled.
func (e *Engine) Delete(ctx context.Context, reservationID, actorID uint64) (Release, error) {
	var rel Release
	var events []Event
	err := e.onReservation(ctx, "delete", reservationID, func(tx SlotTx, cur model.Reservation) error {
		events = events[:0]
		if err := tx.DeleteReservation(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete reservation %d: %w", cur.ID, err)
		}
		r, err := release(ctx, tx, cur)
		if err != nil {
			return err
		}
		rel = r
		events = append(events, reservationEvent(EventDeleted, cur, actorID, e.now()))
		events = append(events, e.releaseEvents(cur, rel)...)
		return nil
	})
	e.metrics.RecordTransition("delete", Kind(err))
	if err != nil {
		return Release{}, err
	}

	e.logRelease(e.log.WithFields(logrus.Fields{
		"reservation_id": reservationID,
		"actor_id":       actorID,
	}), rel).Info("reservation deleted")
	e.emit(ctx, events)
	return rel, nil
}

// Expire moves a PENDING reservation to EXPIRED.  A pending reservation holds
// no slot, so nothing is promoted.
func (e *Engine) Expire(ctx context.Context, reservationID uint64) (model.Reservation, error) {
	var expired model.Reservation
	var events []Event
	err := e.onReservation(ctx, "expire", reservationID, func(tx SlotTx, cur model.Reservation) error {
		events = events[:0]
		to, err := Next(cur.Status, ActionExpire)
		if err != nil {
			return err
		}
		updated, err := tx.UpdateStatus(ctx, cur.ID, to, StatusPatch{})
		if err != nil {
			return fmt.Errorf("expire reservation %d: %w", cur.ID, err)
		}
		expired = updated
		events = append(events, reservationEvent(EventExpired, updated, 0, e.now()))
		return nil
	})
	e.metrics.RecordTransition(string(ActionExpire), Kind(err))
	if err != nil {
		return model.Reservation{}, err
	}
	e.log.WithField("reservation_id", reservationID).Debug("reservation expired")
	e.emit(ctx, events)
	return expired, nil
}

// Reschedule moves a PENDING reservation to another slot and runs admission
// there.  Both slots are locked for the duration of the move.
func (e *Engine) Reschedule(ctx context.Context, reservationID, actorID uint64, slot SlotKey) (Admission, error) {
	slot = NewSlotKey(slot.TableID, slot.StartTime)
	if err := slot.Validate(); err != nil {
		return Admission{}, err
	}
	if _, err := e.store.FindTable(ctx, slot.TableID); err != nil {
		return Admission{}, fmt.Errorf("find table %d: %w", slot.TableID, err)
	}

	var res Admission
	var events []Event
	err := e.retry(ctx, "reschedule", func() error {
		events = events[:0]
		cur, err := e.store.FindByID(ctx, reservationID)
		if err != nil {
			return err
		}
		from := SlotOf(cur)
		if from.Equal(slot) {
			if _, err := Next(cur.Status, ActionReschedule); err != nil {
				return err
			}
			if !cur.Participants.Has(actorID) {
				return ErrNotParticipant
			}
			return e.store.WithinSlots(ctx, func(tx SlotTx) error {
				a, err := lookupTx(ctx, tx, reservationID, from)
				res = a
				return err
			}, from)
		}
		return e.store.WithinSlots(ctx, func(tx SlotTx) error {
			cur, err := tx.FindByID(ctx, reservationID)
			if err != nil {
				return err
			}
			if !SlotOf(cur).Equal(from) {
				return fmt.Errorf("%w: reservation %d moved concurrently", ErrSlotConflict, reservationID)
			}
			a, err := reschedule(ctx, tx, cur, slot, actorID)
			if err != nil {
				return err
			}
			res = a
			typ := EventQueued
			if a.Reservation.Status == model.StatusConfirmed {
				typ = EventConfirmed
			}
			ev := reservationEvent(typ, a.Reservation, actorID, e.now())
			ev.Position = a.Position
			events = append(events, ev)
			return nil
		}, from, slot)
	})
	e.metrics.RecordTransition(string(ActionReschedule), Kind(err))
	if err != nil {
		return Admission{}, err
	}
	e.log.WithFields(logrus.Fields{
		"reservation_id": reservationID,
		"table_id":       res.Reservation.TableID,
		"start_time":     res.Reservation.StartTime,
		"status":         res.Reservation.Status,
		"position":       res.Position,
	}).Info("reservation rescheduled")
	e.emit(ctx, events)
	return res, nil
}

// Lookup returns a reservation with its live queue position.  It reads
// without locks.
func (e *Engine) Lookup(ctx context.Context, reservationID uint64) (Admission, error) {
	r, err := e.store.FindByID(ctx, reservationID)
	if err != nil {
		return Admission{}, err
	}
	if r.Status != model.StatusPending {
		return Admission{Reservation: r}, nil
	}
	pending, err := e.store.ListByTable(ctx, r.TableID, model.StatusPending)
	if err != nil {
		return Admission{}, fmt.Errorf("list pending reservations of table %d: %w", r.TableID, err)
	}
	return Admission{Reservation: r, Position: QueuePosition(r, sameSlot(pending, SlotOf(r)))}, nil
}

// ListByPlayer returns every reservation naming playerID, newest first.
func (e *Engine) ListByPlayer(ctx context.Context, playerID uint64) ([]model.Reservation, error) {
	return e.store.ListByPlayer(ctx, playerID)
}

// ProjectTableStatus derives the visible status of a table.
func (e *Engine) ProjectTableStatus(ctx context.Context, tableID uint64) (model.TableStatus, error) {
	return e.projector.Status(ctx, tableID)
}

// onReservation locks the slot of reservationID and hands fn the current row.
// The slot is looked up before locking; if the row moved meanwhile the
// attempt fails with ErrSlotConflict and is retried.
func (e *Engine) onReservation(ctx context.Context, op string, reservationID uint64, fn func(SlotTx, model.Reservation) error) error {
	return e.retry(ctx, op, func() error {
		r, err := e.store.FindByID(ctx, reservationID)
		if err != nil {
			return err
		}
		slot := SlotOf(r)
		return e.store.WithinSlots(ctx, func(tx SlotTx) error {
			cur, err := tx.FindByID(ctx, reservationID)
			if err != nil {
				return err
			}
			if !SlotOf(cur).Equal(slot) {
				return fmt.Errorf("%w: reservation %d moved concurrently", ErrSlotConflict, reservationID)
			}
			return fn(tx, cur)
		}, slot)
	})
}

// retry re-runs fn while it fails with a retryable error, with exponential
// backoff, up to the configured number of attempts.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	if e.cfg.RetryAttempts < 0 {
		return fn()
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.RetryInitial
	eb.MaxInterval = e.cfg.RetryMax
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(e.cfg.RetryAttempts)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		e.metrics.RecordRetry(op, Kind(err))
		e.log.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"wait":      wait,
		}).Debug("retrying after contention")
	})
}

func (e *Engine) emit(ctx context.Context, events []Event) {
	for _, ev := range events {
		e.notifier.Notify(ctx, ev)
	}
}

func (e *Engine) releaseEvents(old model.Reservation, rel Release) []Event {
	switch {
	case rel.Promoted != nil:
		return []Event{reservationEvent(EventPromoted, *rel.Promoted, 0, e.now())}
	case rel.Freed:
		return []Event{{
			Type:       EventTableFree,
			TableID:    old.TableID,
			StartTime:  old.StartTime,
			OccurredAt: e.now(),
		}}
	}
	return nil
}

func (e *Engine) logRelease(entry *logrus.Entry, rel Release) *logrus.Entry {
	if rel.Promoted != nil || rel.Freed {
		e.metrics.RecordRelease(rel.Promoted != nil)
	}
	if rel.Promoted != nil {
		return entry.WithField("promoted_id", rel.Promoted.ID)
	}
	if rel.Freed {
		return entry.WithField("freed", true)
	}
	return entry
}

func lookupTx(ctx context.Context, tx SlotTx, id uint64, slot SlotKey) (Admission, error) {
	r, err := tx.FindByID(ctx, id)
	if err != nil {
		return Admission{}, err
	}
	if r.Status != model.StatusPending {
		return Admission{Reservation: r}, nil
	}
	pending, err := tx.FindPendingBySlot(ctx, slot)
	if err != nil {
		return Admission{}, err
	}
	return Admission{Reservation: r, Position: QueuePosition(r, pending)}, nil
}

func sameSlot(rs []model.Reservation, slot SlotKey) []model.Reservation {
	out := rs[:0:0]
	for _, r := range rs {
		if SlotOf(r).Equal(slot) {
			out = append(out, r)
		}
	}
	return out
}

func actionEvent(a Action) EventType {
	switch a {
	case ActionStart:
		return EventStarted
	case ActionFinish:
		return EventFinished
	case ActionExpire:
		return EventExpired
	}
	return EventCancelled
}

// Kind names the error class of err for metrics and API responses.
func Kind(err error) string {
	var te *TransitionError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrDuplicateBooking):
		return "duplicate_booking"
	case errors.Is(err, ErrAlreadyFinished):
		return "already_finished"
	case errors.As(err, &te), errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidScore):
		return "invalid_score"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
