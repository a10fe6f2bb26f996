package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// AdmitRequest asks for a slot on behalf of ActorID.  The actor is checked
// for double booking even when they take no role in the match.
type AdmitRequest struct {
	Slot         SlotKey
	Participants model.Participants
	ActorID      uint64
}

// Admission is a reservation with its live queue position: 0 when active or
// terminal, N >= 1 when PENDING.
type Admission struct {
	Reservation model.Reservation `json:"reservation"`
	Position    int               `json:"queue_position"`
}

func (r AdmitRequest) validate() error {
	if err := r.Slot.Validate(); err != nil {
		return err
	}
	return validateParticipants(r.Participants)
}

func validateParticipants(p model.Participants) error {
	players := p.Players()
	if len(players) == 0 {
		return fmt.Errorf("%w: at least one participant is required", ErrInvalidRequest)
	}
	seen := make(map[uint64]struct{}, len(players))
	for _, id := range players {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: player %d holds more than one role", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// bookers returns the players that must not be double booked.
func bookers(p model.Participants, actorID uint64) []uint64 {
	ids := p.Players()
	if actorID != 0 && !p.Has(actorID) {
		ids = append(ids, actorID)
	}
	return ids
}

// checkDuplicate rejects the request when one of players already holds an
// active reservation starting at start, on any table.  skipID excludes the
// reservation being moved.
func checkDuplicate(ctx context.Context, tx SlotTx, players []uint64, start time.Time, skipID uint64) error {
	held, err := tx.FindActiveByPlayersAt(ctx, players, start)
	if err != nil {
		return fmt.Errorf("find active reservations of players: %w", err)
	}
	for _, r := range held {
		if r.ID == skipID {
			continue
		}
		for _, id := range players {
			if r.Participants.Has(id) {
				return fmt.Errorf("%w: player %d already holds reservation %d on table %d", ErrDuplicateBooking, id, r.ID, r.TableID)
			}
		}
	}
	return nil
}

// decide picks the initial status for a new entrant of slot: CONFIRMED when
// the slot has no active reservation, PENDING behind the queue otherwise.
func decide(ctx context.Context, tx SlotTx, slot SlotKey) (model.ReservationStatus, int, error) {
	active, err := tx.FindActiveBySlot(ctx, slot)
	if err != nil {
		return "", 0, fmt.Errorf("find active reservation of slot %s: %w", slot, err)
	}
	if active == nil {
		return model.StatusConfirmed, 0, nil
	}
	n, err := tx.CountPendingBySlot(ctx, slot)
	if err != nil {
		return "", 0, fmt.Errorf("count pending reservations of slot %s: %w", slot, err)
	}
	return model.StatusPending, n + 1, nil
}

// admit runs inside the slot's unit of work.
func admit(ctx context.Context, tx SlotTx, req AdmitRequest) (Admission, error) {
	if err := checkDuplicate(ctx, tx, bookers(req.Participants, req.ActorID), req.Slot.StartTime, 0); err != nil {
		return Admission{}, err
	}
	status, pos, err := decide(ctx, tx, req.Slot)
	if err != nil {
		return Admission{}, err
	}
	r := model.Reservation{
		TableID:      req.Slot.TableID,
		StartTime:    req.Slot.StartTime,
		Status:       status,
		Participants: req.Participants,
	}
	if err := tx.CreateReservation(ctx, &r); err != nil {
		return Admission{}, fmt.Errorf("create reservation: %w", err)
	}
	return Admission{Reservation: r, Position: pos}, nil
}

// reschedule moves a PENDING reservation to slot and decides its status
// there again.  CreatedAt is kept, so its rank in the new queue follows the
// original request time.
func reschedule(ctx context.Context, tx SlotTx, cur model.Reservation, slot SlotKey, actorID uint64) (Admission, error) {
	if _, err := Next(cur.Status, ActionReschedule); err != nil {
		return Admission{}, err
	}
	if !cur.Participants.Has(actorID) {
		return Admission{}, ErrNotParticipant
	}
	if err := checkDuplicate(ctx, tx, cur.Participants.Players(), slot.StartTime, cur.ID); err != nil {
		return Admission{}, err
	}
	status, _, err := decide(ctx, tx, slot)
	if err != nil {
		return Admission{}, err
	}
	moved, err := tx.UpdateSlot(ctx, cur.ID, slot, status)
	if err != nil {
		return Admission{}, fmt.Errorf("move reservation %d: %w", cur.ID, err)
	}
	if moved.Status != model.StatusPending {
		return Admission{Reservation: moved}, nil
	}
	pending, err := tx.FindPendingBySlot(ctx, slot)
	if err != nil {
		return Admission{}, fmt.Errorf("find pending reservations of slot %s: %w", slot, err)
	}
	return Admission{Reservation: moved, Position: QueuePosition(moved, pending)}, nil
}
