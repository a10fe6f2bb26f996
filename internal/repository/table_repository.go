package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
    "github.com/iliyamo/babyfoot-reservation/internal/model"
)

// TableRepo provides access to the tables table.
type TableRepo struct {
    db *sql.DB
}

// NewTableRepo returns a new TableRepo bound to the given database.
func NewTableRepo(db *sql.DB) *TableRepo { return &TableRepo{db: db} }

const tableColumns = `id, name, location, maintenance, created_at, updated_at`

func scanTable(s rowScanner) (model.Table, error) {
    var t model.Table
    var loc sql.NullString
    if err := s.Scan(&t.ID, &t.Name, &loc, &t.Maintenance, &t.CreatedAt, &t.UpdatedAt); err != nil {
        return model.Table{}, err
    }
    if loc.Valid {
        l := loc.String
        t.Location = &l
    }
    return t, nil
}

// CreateTable inserts t and reads back its ID and timestamps.  A duplicate
// name yields ErrConflict.
func (r *TableRepo) CreateTable(ctx context.Context, t *model.Table) error {
    var loc any
    if t.Location != nil {
        loc = *t.Location
    }
    result, err := r.db.ExecContext(ctx, `INSERT INTO tables (name, location, maintenance) VALUES (?, ?, ?)`, t.Name, loc, t.Maintenance)
    if err != nil {
        return mapMySQLError(err)
    }
    id, err := result.LastInsertId()
    if err != nil {
        return err
    }
    stored, err := r.FindTable(ctx, uint64(id))
    if err != nil {
        return err
    }
    *t = stored
    return nil
}

// SetMaintenance switches the maintenance override.
func (r *TableRepo) SetMaintenance(ctx context.Context, id uint64, on bool) (model.Table, error) {
    if _, err := r.db.ExecContext(ctx, `UPDATE tables SET maintenance = ? WHERE id = ?`, on, id); err != nil {
        return model.Table{}, err
    }
    return r.FindTable(ctx, id)
}

// FindTable returns the table with id.
func (r *TableRepo) FindTable(ctx context.Context, id uint64) (model.Table, error) {
    t, err := scanTable(r.db.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = ?`, id))
    if errors.Is(err, sql.ErrNoRows) {
        return model.Table{}, fmt.Errorf("table %d: %w", id, ErrNotFound)
    }
    return t, err
}

// ListTables returns every table ordered by ID.
func (r *TableRepo) ListTables(ctx context.Context) ([]model.Table, error) {
    rows, err := r.db.QueryContext(ctx, `SELECT `+tableColumns+` FROM tables ORDER BY id`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Table
    for rows.Next() {
        t, err := scanTable(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, t)
    }
    return out, rows.Err()
}

// MySQLStore combines the reservation and table repositories into a
// booking.Store.
type MySQLStore struct {
    *ReservationRepo
    *TableRepo
}

// NewMySQLStore builds the production store.
func NewMySQLStore(db *sql.DB, lockTimeout time.Duration) *MySQLStore {
    return &MySQLStore{
        ReservationRepo: NewReservationRepo(db, lockTimeout),
        TableRepo:       NewTableRepo(db),
    }
}

var _ booking.Store = (*MySQLStore)(nil)
