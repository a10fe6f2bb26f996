package booking

import (
	"context"
	"fmt"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// Release reports what happened to a slot after its active reservation
// left the active set.  Exactly one of Promoted and Freed is set when the
// released reservation was active; both are zero otherwise.
type Release struct {
	Promoted *model.Reservation `json:"promoted,omitempty"`
	Freed    bool               `json:"freed"`
}

// release promotes the head of old's queue, or frees the slot when the queue
// is empty.  It must run in the same unit of work that moved old out of the
// active set, after that write.  The head is promoted without a duplicate
// check, so its players may already hold another table at the same start.
func release(ctx context.Context, tx SlotTx, old model.Reservation) (Release, error) {
	if !old.Status.IsActive() {
		return Release{}, nil
	}
	slot := SlotOf(old)
	pending, err := tx.FindPendingBySlot(ctx, slot)
	if err != nil {
		return Release{}, fmt.Errorf("find pending reservations of slot %s: %w", slot, err)
	}
	head, ok := Head(pending)
	if !ok {
		return Release{Freed: true}, nil
	}
	to, err := Next(head.Status, ActionPromote)
	if err != nil {
		return Release{}, err
	}
	promoted, err := tx.UpdateStatus(ctx, head.ID, to, StatusPatch{})
	if err != nil {
		return Release{}, fmt.Errorf("promote reservation %d: %w", head.ID, err)
	}
	return Release{Promoted: &promoted}, nil
}
