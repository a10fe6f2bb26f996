package booking

import (
	"context"
	"time"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// StatusPatch carries the optional fields written together with a status.
type StatusPatch struct {
	FinalScoreRed  *int
	FinalScoreBlue *int
}

// SlotTx is a unit of work scoped to one or more locked slots.  Everything
// done through it commits or rolls back together.  Lookups that miss return
// ErrNotFound; FindActiveBySlot returns nil without error when the slot is free.
type SlotTx interface {
	FindByID(ctx context.Context, id uint64) (model.Reservation, error)
	FindActiveBySlot(ctx context.Context, slot SlotKey) (*model.Reservation, error)
	// FindPendingBySlot returns the queue ordered by CreatedAt then ID.
	FindPendingBySlot(ctx context.Context, slot SlotKey) ([]model.Reservation, error)
	CountPendingBySlot(ctx context.Context, slot SlotKey) (int, error)
	// FindActiveByPlayersAt returns active reservations on any table that
	// start at start and name one of the players in any role.
	FindActiveByPlayersAt(ctx context.Context, players []uint64, start time.Time) ([]model.Reservation, error)

	// CreateReservation stores r and fills ID, CreatedAt and UpdatedAt.  It
	// returns ErrSlotConflict when r is active and the slot already has an
	// active reservation.
	CreateReservation(ctx context.Context, r *model.Reservation) error
	// UpdateStatus sets status and the patch fields.  Same conflict signal
	// as CreateReservation.
	UpdateStatus(ctx context.Context, id uint64, status model.ReservationStatus, patch StatusPatch) (model.Reservation, error)
	// UpdateSlot moves a reservation to another slot with the given status.
	UpdateSlot(ctx context.Context, id uint64, slot SlotKey, status model.ReservationStatus) (model.Reservation, error)
	DeleteReservation(ctx context.Context, id uint64) error
}

// TableReader is the read side consumed by the occupancy projector.  It is
// used without slot locks.
type TableReader interface {
	FindTable(ctx context.Context, id uint64) (model.Table, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	// ListByTable returns the table's reservations restricted to statuses
	// (all statuses when none are given).
	ListByTable(ctx context.Context, tableID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error)
}

// Store is the durable reservation collection required by the engine.
type Store interface {
	TableReader

	// WithinSlots locks every slot (in SlotKey.Less order), runs fn inside a
	// single transaction and releases the locks after commit or rollback.
	// A lock that cannot be acquired in bounded time yields ErrBusy.
	WithinSlots(ctx context.Context, fn func(tx SlotTx) error, slots ...SlotKey) error

	FindByID(ctx context.Context, id uint64) (model.Reservation, error)
	ListByPlayer(ctx context.Context, playerID uint64) ([]model.Reservation, error)
	// ListPendingStartingBefore returns PENDING reservations whose slot
	// starts before cutoff.  Used by the expiry job.
	ListPendingStartingBefore(ctx context.Context, cutoff time.Time) ([]model.Reservation, error)
}
