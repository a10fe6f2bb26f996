package booking

import (
	"sort"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// QueuePosition derives the rank of target among the pending reservations of
// its slot: the number of pending reservations queued strictly before it,
// plus one.  Active and terminal reservations have position 0.  The rank is
// never stored, so concurrent cancellations cannot make it drift.
func QueuePosition(target model.Reservation, pending []model.Reservation) int {
	if target.Status != model.StatusPending {
		return 0
	}
	pos := 1
	for _, r := range pending {
		if r.ID == target.ID || r.Status != model.StatusPending {
			continue
		}
		if r.QueuedBefore(target) {
			pos++
		}
	}
	return pos
}

// SortQueue orders reservations by CreatedAt then ID, in place.
func SortQueue(rs []model.Reservation) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].QueuedBefore(rs[j]) })
}

// Head returns the next reservation to promote, if any.
func Head(pending []model.Reservation) (model.Reservation, bool) {
	var head model.Reservation
	found := false
	for _, r := range pending {
		if r.Status != model.StatusPending {
			continue
		}
		if !found || r.QueuedBefore(head) {
			head, found = r, true
		}
	}
	return head, found
}
