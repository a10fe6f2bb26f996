// Package booking implements reservation admission and queue promotion for
// babyfoot tables.  A table is booked in fixed 15 minute slots; for every
// slot at most one reservation is active (CONFIRMED or IN_PROGRESS) and any
// further requests wait in a first-come first-served queue (PENDING).
//
// All decisions that read and then write a slot run inside a unit of work
// obtained from Store.WithinSlots, which serializes work on the same slot and
// lets different slots proceed independently.
package booking

import (
	"fmt"
	"time"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// SlotDuration is the fixed length of every reservation.
const SlotDuration = 15 * time.Minute

// SlotKey identifies a reservable unit: one table at one start time.
type SlotKey struct {
	TableID   uint64
	StartTime time.Time
}

// NewSlotKey returns a SlotKey with the start time normalized to UTC.
func NewSlotKey(tableID uint64, start time.Time) SlotKey {
	return SlotKey{TableID: tableID, StartTime: start.UTC()}
}

// SlotOf returns the slot a reservation occupies.
func SlotOf(r model.Reservation) SlotKey {
	return NewSlotKey(r.TableID, r.StartTime)
}

// Validate checks that the slot names a table and starts on the 15 minute grid.
func (k SlotKey) Validate() error {
	if k.TableID == 0 {
		return fmt.Errorf("%w: table id is required", ErrInvalidRequest)
	}
	if k.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidRequest)
	}
	if !k.StartTime.Equal(k.StartTime.Truncate(SlotDuration)) {
		return fmt.Errorf("%w: start time %s is not aligned to %s", ErrInvalidRequest, k.StartTime.Format(time.RFC3339), SlotDuration)
	}
	return nil
}

// Equal reports whether two keys name the same slot.
func (k SlotKey) Equal(o SlotKey) bool {
	return k.TableID == o.TableID && k.StartTime.Equal(o.StartTime)
}

// Less orders slots by table then start time.  Locks on several slots are
// always taken in this order.
func (k SlotKey) Less(o SlotKey) bool {
	if k.TableID != o.TableID {
		return k.TableID < o.TableID
	}
	return k.StartTime.Before(o.StartTime)
}

// End returns the instant the slot ends.
func (k SlotKey) End() time.Time { return k.StartTime.Add(SlotDuration) }

// String renders the key as "<table>@<unix seconds>", stable across time zones.
func (k SlotKey) String() string {
	return fmt.Sprintf("%d@%d", k.TableID, k.StartTime.Unix())
}
