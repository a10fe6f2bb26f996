package repository

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
    "github.com/iliyamo/babyfoot-reservation/internal/model"
)

var slotTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newStoreWithTable(t *testing.T, timeout time.Duration) (*MemoryStore, model.Table) {
    t.Helper()
    s := NewMemoryStore(timeout)
    tbl := model.Table{Name: "Center court"}
    require.NoError(t, s.CreateTable(context.Background(), &tbl))
    return s, tbl
}

func TestMemoryStoreCommitsAndRollsBack(t *testing.T) {
    s, tbl := newStoreWithTable(t, time.Second)
    ctx := context.Background()
    slot := booking.NewSlotKey(tbl.ID, slotTime)

    boom := errors.New("boom")
    err := s.WithinSlots(ctx, func(tx booking.SlotTx) error {
        r := model.Reservation{TableID: tbl.ID, StartTime: slotTime, Status: model.StatusConfirmed}
        require.NoError(t, tx.CreateReservation(ctx, &r))
        found, err := tx.FindActiveBySlot(ctx, slot)
        require.NoError(t, err)
        require.NotNil(t, found, "staged row is visible inside the unit of work")
        return boom
    }, slot)
    require.ErrorIs(t, err, boom)

    rs, err := s.ListByTable(ctx, tbl.ID)
    require.NoError(t, err)
    assert.Empty(t, rs)

    var id uint64
    err = s.WithinSlots(ctx, func(tx booking.SlotTx) error {
        r := model.Reservation{TableID: tbl.ID, StartTime: slotTime, Status: model.StatusConfirmed}
        if err := tx.CreateReservation(ctx, &r); err != nil {
            return err
        }
        id = r.ID
        return nil
    }, slot)
    require.NoError(t, err)
    got, err := s.FindByID(ctx, id)
    require.NoError(t, err)
    assert.Equal(t, model.StatusConfirmed, got.Status)
}

func TestMemoryStoreRejectsSecondActiveRow(t *testing.T) {
    s, tbl := newStoreWithTable(t, time.Second)
    ctx := context.Background()
    slot := booking.NewSlotKey(tbl.ID, slotTime)

    err := s.WithinSlots(ctx, func(tx booking.SlotTx) error {
        first := model.Reservation{TableID: tbl.ID, StartTime: slotTime, Status: model.StatusConfirmed}
        require.NoError(t, tx.CreateReservation(ctx, &first))
        queued := model.Reservation{TableID: tbl.ID, StartTime: slotTime, Status: model.StatusPending}
        require.NoError(t, tx.CreateReservation(ctx, &queued))

        second := model.Reservation{TableID: tbl.ID, StartTime: slotTime, Status: model.StatusInProgress}
        assert.ErrorIs(t, tx.CreateReservation(ctx, &second), booking.ErrSlotConflict)

        _, err := tx.UpdateStatus(ctx, queued.ID, model.StatusConfirmed, booking.StatusPatch{})
        assert.ErrorIs(t, err, booking.ErrSlotConflict)

        // Once the first row leaves the active set the promotion is accepted.
        _, err = tx.UpdateStatus(ctx, first.ID, model.StatusCancelled, booking.StatusPatch{})
        require.NoError(t, err)
        promoted, err := tx.UpdateStatus(ctx, queued.ID, model.StatusConfirmed, booking.StatusPatch{})
        require.NoError(t, err)
        assert.Equal(t, model.StatusConfirmed, promoted.Status)
        return nil
    }, slot)
    require.NoError(t, err)
}

func TestMemoryStoreLockTimeoutIsBusy(t *testing.T) {
    s, tbl := newStoreWithTable(t, 20*time.Millisecond)
    slot := booking.NewSlotKey(tbl.ID, slotTime)

    held := make(chan struct{})
    done := make(chan struct{})
    go func() {
        _ = s.WithinSlots(context.Background(), func(booking.SlotTx) error {
            close(held)
            <-done
            return nil
        }, slot)
    }()
    <-held

    err := s.WithinSlots(context.Background(), func(booking.SlotTx) error { return nil }, slot)
    assert.ErrorIs(t, err, booking.ErrBusy)

    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    slow := NewMemoryStore(time.Minute)
    slow.locks = s.locks
    err = slow.WithinSlots(ctx, func(booking.SlotTx) error { return nil }, slot)
    assert.ErrorIs(t, err, context.Canceled)

    close(done)
    assert.Eventually(t, func() bool {
        return s.WithinSlots(context.Background(), func(booking.SlotTx) error { return nil }, slot) == nil
    }, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreLocksSeveralSlotsInOrder(t *testing.T) {
    s, tbl := newStoreWithTable(t, time.Second)
    a := booking.NewSlotKey(tbl.ID, slotTime)
    b := booking.NewSlotKey(tbl.ID, slotTime.Add(booking.SlotDuration))

    // Opposite argument order on two goroutines must not deadlock.
    errs := make(chan error, 2)
    for _, order := range [][]booking.SlotKey{{a, b}, {b, a}} {
        go func(order []booking.SlotKey) {
            errs <- s.WithinSlots(context.Background(), func(booking.SlotTx) error {
                time.Sleep(5 * time.Millisecond)
                return nil
            }, order...)
        }(order)
    }
    require.NoError(t, <-errs)
    require.NoError(t, <-errs)
    assert.Empty(t, s.locks.slots, "lock entries are dropped when unused")
}

func TestMemoryStoreCreatedAtIsStrictlyIncreasing(t *testing.T) {
    s, tbl := newStoreWithTable(t, time.Second)
    fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
    s.SetClock(func() time.Time { return fixed })
    ctx := context.Background()
    slot := booking.NewSlotKey(tbl.ID, slotTime)

    var created []model.Reservation
    for i := 0; i < 3; i++ {
        err := s.WithinSlots(ctx, func(tx booking.SlotTx) error {
            r := model.Reservation{TableID: tbl.ID, StartTime: slotTime, Status: model.StatusPending}
            created = append(created, r)
            return tx.CreateReservation(ctx, &created[len(created)-1])
        }, slot)
        require.NoError(t, err)
    }
    assert.True(t, created[0].CreatedAt.Before(created[1].CreatedAt))
    assert.True(t, created[1].CreatedAt.Before(created[2].CreatedAt))

    err := s.WithinSlots(ctx, func(tx booking.SlotTx) error {
        pending, err := tx.FindPendingBySlot(ctx, slot)
        require.NoError(t, err)
        require.Len(t, pending, 3)
        assert.Equal(t, created[0].ID, pending[0].ID)
        n, err := tx.CountPendingBySlot(ctx, slot)
        assert.Equal(t, 3, n)
        return err
    }, slot)
    require.NoError(t, err)

    old, err := s.ListPendingStartingBefore(ctx, slotTime.Add(time.Minute))
    require.NoError(t, err)
    assert.Len(t, old, 3)
    old, err = s.ListPendingStartingBefore(ctx, slotTime)
    require.NoError(t, err)
    assert.Empty(t, old)
}

func TestMemoryStoreDeleteAndPlayers(t *testing.T) {
    s, tbl := newStoreWithTable(t, time.Second)
    ctx := context.Background()
    slot := booking.NewSlotKey(tbl.ID, slotTime)

    r := model.Reservation{TableID: tbl.ID, StartTime: slotTime, Status: model.StatusConfirmed,
        Participants: model.Participants{RedAttack: 4, Referee: 8}}
    require.NoError(t, s.WithinSlots(ctx, func(tx booking.SlotTx) error { return tx.CreateReservation(ctx, &r) }, slot))

    err := s.WithinSlots(ctx, func(tx booking.SlotTx) error {
        held, err := tx.FindActiveByPlayersAt(ctx, []uint64{8}, slotTime)
        require.NoError(t, err)
        assert.Len(t, held, 1)
        held, err = tx.FindActiveByPlayersAt(ctx, []uint64{8}, slotTime.Add(booking.SlotDuration))
        require.NoError(t, err)
        assert.Empty(t, held)

        require.NoError(t, tx.DeleteReservation(ctx, r.ID))
        _, err = tx.FindByID(ctx, r.ID)
        assert.ErrorIs(t, err, ErrNotFound)
        assert.ErrorIs(t, tx.DeleteReservation(ctx, r.ID), ErrNotFound)
        return nil
    }, slot)
    require.NoError(t, err)

    mine, err := s.ListByPlayer(ctx, 8)
    require.NoError(t, err)
    assert.Empty(t, mine)
}

func TestMemoryStoreTables(t *testing.T) {
    s, tbl := newStoreWithTable(t, time.Second)
    ctx := context.Background()

    dup := model.Table{Name: "center COURT"}
    assert.ErrorIs(t, s.CreateTable(ctx, &dup), ErrConflict)

    updated, err := s.SetMaintenance(ctx, tbl.ID, true)
    require.NoError(t, err)
    assert.True(t, updated.Maintenance)

    _, err = s.SetMaintenance(ctx, 99, true)
    assert.ErrorIs(t, err, ErrNotFound)

    all, err := s.ListTables(ctx)
    require.NoError(t, err)
    require.Len(t, all, 1)
    assert.True(t, all[0].Maintenance)
}
