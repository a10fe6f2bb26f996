package repository

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
    "github.com/iliyamo/babyfoot-reservation/internal/model"
)

// DefaultLockTimeout bounds the wait for a slot lock when none is configured.
const DefaultLockTimeout = 2 * time.Second

// MemoryStore keeps tables and reservations in process memory.  Slot locks
// are per slot, writes made inside WithinSlots are staged and applied
// atomically on commit, and the one-active-reservation-per-slot rule is
// enforced on every write the way the MySQL unique index does.
type MemoryStore struct {
    mu           sync.RWMutex
    tables       map[uint64]model.Table
    reservations map[uint64]model.Reservation
    nextTableID  uint64
    nextResID    uint64
    lastCreated  time.Time

    locks       *slotLocker
    lockTimeout time.Duration
    now         func() time.Time
}

// NewMemoryStore returns an empty store.  A zero lockTimeout selects
// DefaultLockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
    if lockTimeout <= 0 {
        lockTimeout = DefaultLockTimeout
    }
    return &MemoryStore{
        tables:       make(map[uint64]model.Table),
        reservations: make(map[uint64]model.Reservation),
        locks:        newSlotLocker(),
        lockTimeout:  lockTimeout,
        now:          time.Now,
    }
}

// SetClock replaces the time source, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.now = now
}

// stamp returns a creation time that is strictly after every earlier one,
// truncated to microseconds like DATETIME(6).
func (s *MemoryStore) stamp() time.Time {
    t := s.now().UTC().Truncate(time.Microsecond)
    if !t.After(s.lastCreated) {
        t = s.lastCreated.Add(time.Microsecond)
    }
    s.lastCreated = t
    return t
}

// ---- tables ----

// CreateTable stores t and fills its ID and timestamps.  Names are unique.
func (s *MemoryStore) CreateTable(ctx context.Context, t *model.Table) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    for _, o := range s.tables {
        if strings.EqualFold(o.Name, t.Name) {
            return fmt.Errorf("%w: table %q already exists", ErrConflict, t.Name)
        }
    }
    s.nextTableID++
    now := s.now().UTC()
    t.ID = s.nextTableID
    t.CreatedAt, t.UpdatedAt = now, now
    s.tables[t.ID] = *t
    return nil
}

// SetMaintenance switches the maintenance override of a table.
func (s *MemoryStore) SetMaintenance(ctx context.Context, id uint64, on bool) (model.Table, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    t, ok := s.tables[id]
    if !ok {
        return model.Table{}, ErrNotFound
    }
    t.Maintenance = on
    t.UpdatedAt = s.now().UTC()
    s.tables[id] = t
    return t, nil
}

// FindTable returns the table with id.
func (s *MemoryStore) FindTable(ctx context.Context, id uint64) (model.Table, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    t, ok := s.tables[id]
    if !ok {
        return model.Table{}, ErrNotFound
    }
    return t, nil
}

// ListTables returns every table ordered by ID.
func (s *MemoryStore) ListTables(ctx context.Context) ([]model.Table, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    out := make([]model.Table, 0, len(s.tables))
    for _, t := range s.tables {
        out = append(out, t)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

// ---- lock-free reads ----

// FindByID returns the committed reservation with id.
func (s *MemoryStore) FindByID(ctx context.Context, id uint64) (model.Reservation, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    r, ok := s.reservations[id]
    if !ok {
        return model.Reservation{}, ErrNotFound
    }
    return r, nil
}

// ListByTable returns the table's reservations ordered by start time then
// queue order, restricted to statuses when any are given.
func (s *MemoryStore) ListByTable(ctx context.Context, tableID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    var out []model.Reservation
    for _, r := range s.reservations {
        if r.TableID == tableID && hasStatus(r.Status, statuses) {
            out = append(out, r)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        if !out[i].StartTime.Equal(out[j].StartTime) {
            return out[i].StartTime.Before(out[j].StartTime)
        }
        return out[i].QueuedBefore(out[j])
    })
    return out, nil
}

// ListByPlayer returns every reservation naming playerID, newest first.
func (s *MemoryStore) ListByPlayer(ctx context.Context, playerID uint64) ([]model.Reservation, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    var out []model.Reservation
    for _, r := range s.reservations {
        if r.Participants.Has(playerID) {
            out = append(out, r)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[j].QueuedBefore(out[i]) })
    return out, nil
}

// ListPendingStartingBefore returns PENDING reservations whose slot starts
// before cutoff, oldest slot first.
func (s *MemoryStore) ListPendingStartingBefore(ctx context.Context, cutoff time.Time) ([]model.Reservation, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    var out []model.Reservation
    for _, r := range s.reservations {
        if r.Status == model.StatusPending && r.StartTime.Before(cutoff) {
            out = append(out, r)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        if !out[i].StartTime.Equal(out[j].StartTime) {
            return out[i].StartTime.Before(out[j].StartTime)
        }
        return out[i].QueuedBefore(out[j])
    })
    return out, nil
}

// ---- units of work ----

// WithinSlots locks slots in order, runs fn against a staged view and
// applies the staged writes when fn succeeds.
func (s *MemoryStore) WithinSlots(ctx context.Context, fn func(tx booking.SlotTx) error, slots ...booking.SlotKey) error {
    if len(slots) == 0 {
        return fmt.Errorf("%w: no slot to lock", booking.ErrInvalidRequest)
    }
    ordered := orderedSlots(slots)
    releases := make([]func(), 0, len(ordered))
    defer func() {
        for i := len(releases) - 1; i >= 0; i-- {
            releases[i]()
        }
    }()
    for _, slot := range ordered {
        release, err := s.locks.acquire(ctx, lockName(slot), s.lockTimeout)
        if err != nil {
            return err
        }
        releases = append(releases, release)
    }

    tx := &memTx{store: s, staged: make(map[uint64]model.Reservation), deleted: make(map[uint64]bool)}
    if err := fn(tx); err != nil {
        return err
    }
    return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    // Re-check the active-slot rule against everything committed meanwhile.
    for id, r := range tx.staged {
        if !r.Status.IsActive() {
            continue
        }
        for oid, o := range s.reservations {
            if oid == id || tx.deleted[oid] {
                continue
            }
            if staged, ok := tx.staged[oid]; ok {
                o = staged
            }
            if o.Status.IsActive() && booking.SlotOf(o).Equal(booking.SlotOf(r)) {
                return fmt.Errorf("%w: slot %s already has active reservation %d", booking.ErrSlotConflict, booking.SlotOf(r), oid)
            }
        }
    }
    for id := range tx.deleted {
        delete(s.reservations, id)
    }
    for id, r := range tx.staged {
        s.reservations[id] = r
    }
    return nil
}

// memTx reads committed rows overlaid with its own staged writes.
type memTx struct {
    store   *MemoryStore
    staged  map[uint64]model.Reservation
    deleted map[uint64]bool
}

// view returns the merged rows matching keep.  Callers must not hold the
// store mutex.
func (tx *memTx) view(keep func(model.Reservation) bool) []model.Reservation {
    tx.store.mu.RLock()
    defer tx.store.mu.RUnlock()
    var out []model.Reservation
    for id, r := range tx.store.reservations {
        if tx.deleted[id] {
            continue
        }
        if staged, ok := tx.staged[id]; ok {
            r = staged
        }
        if keep(r) {
            out = append(out, r)
        }
    }
    for id, r := range tx.staged {
        if _, committed := tx.store.reservations[id]; committed {
            continue
        }
        if keep(r) {
            out = append(out, r)
        }
    }
    return out
}

func (tx *memTx) FindByID(ctx context.Context, id uint64) (model.Reservation, error) {
    if tx.deleted[id] {
        return model.Reservation{}, ErrNotFound
    }
    if r, ok := tx.staged[id]; ok {
        return r, nil
    }
    return tx.store.FindByID(ctx, id)
}

func (tx *memTx) FindActiveBySlot(ctx context.Context, slot booking.SlotKey) (*model.Reservation, error) {
    active := tx.view(func(r model.Reservation) bool {
        return r.Status.IsActive() && booking.SlotOf(r).Equal(slot)
    })
    if len(active) == 0 {
        return nil, nil
    }
    booking.SortQueue(active)
    return &active[0], nil
}

func (tx *memTx) FindPendingBySlot(ctx context.Context, slot booking.SlotKey) ([]model.Reservation, error) {
    pending := tx.view(func(r model.Reservation) bool {
        return r.Status == model.StatusPending && booking.SlotOf(r).Equal(slot)
    })
    booking.SortQueue(pending)
    return pending, nil
}

func (tx *memTx) CountPendingBySlot(ctx context.Context, slot booking.SlotKey) (int, error) {
    pending, err := tx.FindPendingBySlot(ctx, slot)
    return len(pending), err
}

func (tx *memTx) FindActiveByPlayersAt(ctx context.Context, players []uint64, start time.Time) ([]model.Reservation, error) {
    held := tx.view(func(r model.Reservation) bool {
        if !r.Status.IsActive() || !r.StartTime.Equal(start) {
            return false
        }
        for _, id := range players {
            if r.Participants.Has(id) {
                return true
            }
        }
        return false
    })
    booking.SortQueue(held)
    return held, nil
}

func (tx *memTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
    if err := tx.checkActive(r.ID, *r); err != nil {
        return err
    }
    tx.store.mu.Lock()
    tx.store.nextResID++
    r.ID = tx.store.nextResID
    r.CreatedAt = tx.store.stamp()
    tx.store.mu.Unlock()
    r.StartTime = r.StartTime.UTC()
    r.UpdatedAt = r.CreatedAt
    tx.staged[r.ID] = *r
    return nil
}

func (tx *memTx) UpdateStatus(ctx context.Context, id uint64, status model.ReservationStatus, patch booking.StatusPatch) (model.Reservation, error) {
    r, err := tx.FindByID(ctx, id)
    if err != nil {
        return model.Reservation{}, err
    }
    r.Status = status
    if patch.FinalScoreRed != nil {
        v := *patch.FinalScoreRed
        r.FinalScoreRed = &v
    }
    if patch.FinalScoreBlue != nil {
        v := *patch.FinalScoreBlue
        r.FinalScoreBlue = &v
    }
    if err := tx.checkActive(id, r); err != nil {
        return model.Reservation{}, err
    }
    r.UpdatedAt = tx.store.clock()
    tx.staged[id] = r
    return r, nil
}

func (tx *memTx) UpdateSlot(ctx context.Context, id uint64, slot booking.SlotKey, status model.ReservationStatus) (model.Reservation, error) {
    r, err := tx.FindByID(ctx, id)
    if err != nil {
        return model.Reservation{}, err
    }
    r.TableID = slot.TableID
    r.StartTime = slot.StartTime.UTC()
    r.Status = status
    if err := tx.checkActive(id, r); err != nil {
        return model.Reservation{}, err
    }
    r.UpdatedAt = tx.store.clock()
    tx.staged[id] = r
    return r, nil
}

func (tx *memTx) DeleteReservation(ctx context.Context, id uint64) error {
    if _, err := tx.FindByID(ctx, id); err != nil {
        return err
    }
    delete(tx.staged, id)
    tx.deleted[id] = true
    return nil
}

// checkActive emulates the unique index on active slots.
func (tx *memTx) checkActive(id uint64, r model.Reservation) error {
    if !r.Status.IsActive() {
        return nil
    }
    slot := booking.SlotOf(r)
    others := tx.view(func(o model.Reservation) bool {
        return o.ID != id && o.Status.IsActive() && booking.SlotOf(o).Equal(slot)
    })
    if len(others) > 0 {
        return fmt.Errorf("%w: slot %s already has active reservation %d", booking.ErrSlotConflict, slot, others[0].ID)
    }
    return nil
}

func (s *MemoryStore) clock() time.Time {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return s.now().UTC().Truncate(time.Microsecond)
}

func hasStatus(s model.ReservationStatus, statuses []model.ReservationStatus) bool {
    if len(statuses) == 0 {
        return true
    }
    for _, want := range statuses {
        if s == want {
            return true
        }
    }
    return false
}

var _ booking.Store = (*MemoryStore)(nil)
