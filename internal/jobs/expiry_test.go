package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/model"
	"github.com/iliyamo/babyfoot-reservation/internal/repository"
)

func TestExpiryRunOnce(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := repository.NewMemoryStore(time.Second)
	tbl := model.Table{Name: "T1"}
	require.NoError(t, store.CreateTable(ctx, &tbl))
	engine := booking.NewEngine(store, booking.Config{Logger: logger})

	now := time.Date(2026, 3, 2, 12, 7, 0, 0, time.UTC)
	over := time.Date(2026, 3, 2, 11, 45, 0, 0, time.UTC)   // ended 11:52
	running := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // ends 12:15

	admit := func(start time.Time, a, b uint64) booking.Admission {
		res, err := engine.Admit(ctx, booking.AdmitRequest{
			Slot:         booking.NewSlotKey(tbl.ID, start),
			Participants: model.Participants{RedDefense: a, BlueDefense: b},
		})
		require.NoError(t, err)
		return res
	}
	active := admit(over, 1, 2)
	stale := admit(over, 3, 4)
	current := admit(running, 5, 6)
	waiting := admit(running, 7, 8)
	require.Equal(t, model.StatusPending, stale.Reservation.Status)
	require.Equal(t, model.StatusPending, waiting.Reservation.Status)

	job := &Expiry{Store: store, Engine: engine, Now: func() time.Time { return now }, Log: logger}
	n, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[uint64]model.ReservationStatus{
		active.Reservation.ID:  model.StatusConfirmed,
		stale.Reservation.ID:   model.StatusExpired,
		current.Reservation.ID: model.StatusConfirmed,
		waiting.Reservation.ID: model.StatusPending,
	} {
		got, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "reservation %d", id)
	}

	n, err = job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type listStub []model.Reservation

func (l listStub) ListPendingStartingBefore(context.Context, time.Time) ([]model.Reservation, error) {
	return l, nil
}

type expirerStub map[uint64]error

func (e expirerStub) Expire(_ context.Context, id uint64) (model.Reservation, error) {
	return model.Reservation{ID: id}, e[id]
}

func TestExpirySkipsRacesAndReportsFailures(t *testing.T) {
	boom := errors.New("boom")
	job := &Expiry{
		Store: listStub{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}},
		Engine: expirerStub{
			2: &booking.TransitionError{From: model.StatusConfirmed, Action: booking.ActionExpire},
			3: booking.ErrNotFound,
			4: boom,
		},
	}
	n, err := job.RunOnce(context.Background())
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, boom)
}

func TestNewScheduler(t *testing.T) {
	job := &Expiry{Store: listStub{}, Engine: expirerStub{}}
	for _, schedule := range []string{"@every 1m", "*/5 * * * *", "0 */5 * * * *"} {
		c, err := NewScheduler(schedule, job)
		require.NoError(t, err, schedule)
		assert.Len(t, c.Entries(), 1)
	}
	_, err := NewScheduler("every minute", job)
	assert.Error(t, err)
}
