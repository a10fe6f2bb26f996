package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

func pendingAt(id uint64, created time.Time) model.Reservation {
	return model.Reservation{ID: id, Status: model.StatusPending, CreatedAt: created}
}

func TestQueuePositionIsCountBased(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := pendingAt(10, base)
	b := pendingAt(11, base.Add(time.Second))
	c := pendingAt(12, base.Add(2*time.Second))
	queue := []model.Reservation{c, a, b}

	assert.Equal(t, 1, QueuePosition(a, queue))
	assert.Equal(t, 2, QueuePosition(b, queue))
	assert.Equal(t, 3, QueuePosition(c, queue))

	// Removing an entry shifts everyone behind it, nothing is stored.
	assert.Equal(t, 2, QueuePosition(c, []model.Reservation{a, c}))
	assert.Equal(t, 1, QueuePosition(c, nil))
}

func TestQueuePositionTieBreaksOnID(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	low, high := pendingAt(3, at), pendingAt(7, at)
	queue := []model.Reservation{high, low}
	assert.Equal(t, 1, QueuePosition(low, queue))
	assert.Equal(t, 2, QueuePosition(high, queue))
}

func TestQueuePositionZeroWhenNotPending(t *testing.T) {
	r := pendingAt(1, time.Now())
	r.Status = model.StatusConfirmed
	assert.Equal(t, 0, QueuePosition(r, []model.Reservation{pendingAt(2, time.Now())}))
}

func TestHeadAndSortQueue(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := pendingAt(5, base)
	b := pendingAt(2, base.Add(time.Millisecond))
	cancelled := pendingAt(1, base.Add(-time.Hour))
	cancelled.Status = model.StatusCancelled

	head, ok := Head([]model.Reservation{b, cancelled, a})
	assert.True(t, ok)
	assert.Equal(t, a.ID, head.ID)

	_, ok = Head([]model.Reservation{cancelled})
	assert.False(t, ok)

	rs := []model.Reservation{b, a}
	SortQueue(rs)
	assert.Equal(t, []uint64{5, 2}, []uint64{rs[0].ID, rs[1].ID})
}
