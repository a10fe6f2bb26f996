package repository

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
)

// slotLocker hands out one exclusive lock per slot name.  Entries are
// reference counted and dropped once nobody holds or waits for them, so the
// map only grows with the number of slots currently in use.
type slotLocker struct {
    mu    sync.Mutex
    slots map[string]*slotLock
}

type slotLock struct {
    ch   chan struct{}
    refs int
}

func newSlotLocker() *slotLocker {
    return &slotLocker{slots: make(map[string]*slotLock)}
}

// acquire waits up to timeout for the lock on name.  It returns
// booking.ErrBusy when the wait times out.
func (l *slotLocker) acquire(ctx context.Context, name string, timeout time.Duration) (func(), error) {
    l.mu.Lock()
    sl, ok := l.slots[name]
    if !ok {
        sl = &slotLock{ch: make(chan struct{}, 1)}
        l.slots[name] = sl
    }
    sl.refs++
    l.mu.Unlock()

    timer := time.NewTimer(timeout)
    defer timer.Stop()
    select {
    case sl.ch <- struct{}{}:
        return func() {
            <-sl.ch
            l.unref(name, sl)
        }, nil
    case <-timer.C:
        l.unref(name, sl)
        return nil, fmt.Errorf("%w: lock %s not granted within %s", booking.ErrBusy, name, timeout)
    case <-ctx.Done():
        l.unref(name, sl)
        return nil, ctx.Err()
    }
}

func (l *slotLocker) unref(name string, sl *slotLock) {
    l.mu.Lock()
    defer l.mu.Unlock()
    sl.refs--
    if sl.refs == 0 {
        delete(l.slots, name)
    }
}

// lockName is the name under which a slot is locked, shared by both stores.
func lockName(slot booking.SlotKey) string {
    return fmt.Sprintf("babyfoot:slot:%d:%d", slot.TableID, slot.StartTime.Unix())
}

// orderedSlots removes duplicates and sorts slots in lock order.
func orderedSlots(slots []booking.SlotKey) []booking.SlotKey {
    out := make([]booking.SlotKey, 0, len(slots))
    for _, s := range slots {
        s = booking.NewSlotKey(s.TableID, s.StartTime)
        dup := false
        for _, o := range out {
            if o.Equal(s) {
                dup = true
                break
            }
        }
        if !dup {
            out = append(out, s)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
    return out
}
