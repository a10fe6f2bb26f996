package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "math"
    "strings"
    "time"

    "github.com/go-sql-driver/mysql"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
    "github.com/iliyamo/babyfoot-reservation/internal/model"
)

// ReservationRepo stores reservations in MySQL.  Work on a slot runs on a
// pinned connection that holds a named lock (GET_LOCK) for the slot while a
// transaction executes, so admission and promotion on the same slot are
// serialized and different slots never wait on each other.  The unique
// index on the generated active_slot column is the backstop: a second
// active row for a slot fails with error 1062, surfaced as
// booking.ErrSlotConflict.
type ReservationRepo struct {
    db          *sql.DB
    lockTimeout time.Duration
}

// NewReservationRepo returns a ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB, lockTimeout time.Duration) *ReservationRepo {
    if lockTimeout <= 0 {
        lockTimeout = DefaultLockTimeout
    }
    return &ReservationRepo{db: db, lockTimeout: lockTimeout}
}

const reservationColumns = `id, table_id, start_time, status,
    red_defense_id, red_attack_id, blue_defense_id, blue_attack_id, referee_id,
    final_score_red, final_score_blue, created_at, updated_at`

// activeStatusList is the SQL literal list of statuses holding a slot.
const activeStatusList = `('CONFIRMED','IN_PROGRESS')`

// queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type queryer interface {
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
    Scan(dest ...any) error
}

func scanReservation(s rowScanner) (model.Reservation, error) {
    var (
        r                                model.Reservation
        status                           string
        redDef, redAtt, blueDef, blueAtt sql.NullInt64
        referee, scoreRed, scoreBlue     sql.NullInt64
    )
    err := s.Scan(&r.ID, &r.TableID, &r.StartTime, &status,
        &redDef, &redAtt, &blueDef, &blueAtt, &referee,
        &scoreRed, &scoreBlue, &r.CreatedAt, &r.UpdatedAt)
    if err != nil {
        return model.Reservation{}, err
    }
    r.Status = model.ReservationStatus(status)
    r.StartTime = r.StartTime.UTC()
    r.Participants = model.Participants{
        RedDefense:  nullID(redDef),
        RedAttack:   nullID(redAtt),
        BlueDefense: nullID(blueDef),
        BlueAttack:  nullID(blueAtt),
        Referee:     nullID(referee),
    }
    r.FinalScoreRed = nullInt(scoreRed)
    r.FinalScoreBlue = nullInt(scoreBlue)
    return r, nil
}

func scanReservations(rows *sql.Rows) ([]model.Reservation, error) {
    defer rows.Close()
    var out []model.Reservation
    for rows.Next() {
        r, err := scanReservation(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, r)
    }
    return out, rows.Err()
}

func nullID(v sql.NullInt64) uint64 {
    if !v.Valid {
        return 0
    }
    return uint64(v.Int64)
}

func nullInt(v sql.NullInt64) *int {
    if !v.Valid {
        return nil
    }
    i := int(v.Int64)
    return &i
}

// idArg maps the empty role to NULL.
func idArg(id uint64) any {
    if id == 0 {
        return nil
    }
    return id
}

func intArg(v *int) any {
    if v == nil {
        return nil
    }
    return *v
}

func findReservation(ctx context.Context, q queryer, id uint64) (model.Reservation, error) {
    row := q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
    r, err := scanReservation(row)
    if errors.Is(err, sql.ErrNoRows) {
        return model.Reservation{}, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
    }
    return r, err
}

// ---- lock-free reads ----

// FindByID returns the reservation with id.
func (r *ReservationRepo) FindByID(ctx context.Context, id uint64) (model.Reservation, error) {
    return findReservation(ctx, r.db, id)
}

// ListByTable returns a table's reservations ordered by slot then queue
// order, restricted to statuses when any are given.
func (r *ReservationRepo) ListByTable(ctx context.Context, tableID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error) {
    q := `SELECT ` + reservationColumns + ` FROM reservations WHERE table_id = ?`
    args := []any{tableID}
    if len(statuses) > 0 {
        q += ` AND status IN (` + placeholders(len(statuses)) + `)`
        for _, s := range statuses {
            args = append(args, string(s))
        }
    }
    q += ` ORDER BY start_time, created_at, id`
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    return scanReservations(rows)
}

// ListByPlayer returns every reservation naming playerID in any role,
// newest first.
func (r *ReservationRepo) ListByPlayer(ctx context.Context, playerID uint64) ([]model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE red_defense_id = ? OR red_attack_id = ? OR blue_defense_id = ?
                  OR blue_attack_id = ? OR referee_id = ?
               ORDER BY created_at DESC, id DESC`
    rows, err := r.db.QueryContext(ctx, q, playerID, playerID, playerID, playerID, playerID)
    if err != nil {
        return nil, err
    }
    return scanReservations(rows)
}

// ListPendingStartingBefore returns PENDING reservations whose slot starts
// before cutoff.
func (r *ReservationRepo) ListPendingStartingBefore(ctx context.Context, cutoff time.Time) ([]model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE status = 'PENDING' AND start_time < ?
               ORDER BY start_time, created_at, id`
    rows, err := r.db.QueryContext(ctx, q, cutoff.UTC())
    if err != nil {
        return nil, err
    }
    return scanReservations(rows)
}

// ---- units of work ----

// WithinSlots takes the named lock of every slot in order on one pinned
// connection, runs fn in a transaction on that connection and releases the
// locks once the transaction is over.
func (r *ReservationRepo) WithinSlots(ctx context.Context, fn func(tx booking.SlotTx) error, slots ...booking.SlotKey) error {
    if len(slots) == 0 {
        return fmt.Errorf("%w: no slot to lock", booking.ErrInvalidRequest)
    }
    conn, err := r.db.Conn(ctx)
    if err != nil {
        return fmt.Errorf("pin connection: %w", err)
    }
    defer conn.Close()

    var held []string
    defer func() {
        // Released on a fresh context so a cancelled request cannot leak locks.
        for i := len(held) - 1; i >= 0; i-- {
            _, _ = conn.ExecContext(context.Background(), `DO RELEASE_LOCK(?)`, held[i])
        }
    }()
    wait := int(math.Ceil(r.lockTimeout.Seconds()))
    for _, slot := range orderedSlots(slots) {
        name := lockName(slot)
        var got sql.NullInt64
        if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, wait).Scan(&got); err != nil {
            return mapMySQLError(fmt.Errorf("lock %s: %w", name, err))
        }
        if !got.Valid || got.Int64 != 1 {
            return fmt.Errorf("%w: lock %s not granted within %s", booking.ErrBusy, name, r.lockTimeout)
        }
        held = append(held, name)
    }

    tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
    if err != nil {
        return fmt.Errorf("begin tx: %w", err)
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    if err := fn(&sqlSlotTx{tx: tx}); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return mapMySQLError(fmt.Errorf("commit: %w", err))
    }
    committed = true
    return nil
}

// sqlSlotTx implements booking.SlotTx on a transaction.
type sqlSlotTx struct {
    tx *sql.Tx
}

func (t *sqlSlotTx) FindByID(ctx context.Context, id uint64) (model.Reservation, error) {
    return findReservation(ctx, t.tx, id)
}

func (t *sqlSlotTx) FindActiveBySlot(ctx context.Context, slot booking.SlotKey) (*model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE table_id = ? AND start_time = ? AND status IN ` + activeStatusList + `
               ORDER BY created_at, id LIMIT 1`
    res, err := scanReservation(t.tx.QueryRowContext(ctx, q, slot.TableID, slot.StartTime))
    if errors.Is(err, sql.ErrNoRows) {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    return &res, nil
}

func (t *sqlSlotTx) FindPendingBySlot(ctx context.Context, slot booking.SlotKey) ([]model.Reservation, error) {
    const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE table_id = ? AND start_time = ? AND status = 'PENDING'
               ORDER BY created_at, id`
    rows, err := t.tx.QueryContext(ctx, q, slot.TableID, slot.StartTime)
    if err != nil {
        return nil, err
    }
    return scanReservations(rows)
}

func (t *sqlSlotTx) CountPendingBySlot(ctx context.Context, slot booking.SlotKey) (int, error) {
    const q = `SELECT COUNT(*) FROM reservations WHERE table_id = ? AND start_time = ? AND status = 'PENDING'`
    var n int
    err := t.tx.QueryRowContext(ctx, q, slot.TableID, slot.StartTime).Scan(&n)
    return n, err
}

func (t *sqlSlotTx) FindActiveByPlayersAt(ctx context.Context, players []uint64, start time.Time) ([]model.Reservation, error) {
    if len(players) == 0 {
        return nil, nil
    }
    in := placeholders(len(players))
    roles := []string{"red_defense_id", "red_attack_id", "blue_defense_id", "blue_attack_id", "referee_id"}
    conds := make([]string, len(roles))
    args := []any{start.UTC()}
    for i, col := range roles {
        conds[i] = col + ` IN (` + in + `)`
        for _, id := range players {
            args = append(args, id)
        }
    }
    q := `SELECT ` + reservationColumns + ` FROM reservations
          WHERE start_time = ? AND status IN ` + activeStatusList + ` AND (` + strings.Join(conds, " OR ") + `)
          ORDER BY created_at, id`
    rows, err := t.tx.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    return scanReservations(rows)
}

// CreateReservation inserts res and reads the row back to pick up the ID and
// the database-assigned timestamps.
func (t *sqlSlotTx) CreateReservation(ctx context.Context, res *model.Reservation) error {
    const q = `INSERT INTO reservations
               (table_id, start_time, status, red_defense_id, red_attack_id, blue_defense_id, blue_attack_id, referee_id)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
    p := res.Participants
    result, err := t.tx.ExecContext(ctx, q, res.TableID, res.StartTime.UTC(), string(res.Status),
        idArg(p.RedDefense), idArg(p.RedAttack), idArg(p.BlueDefense), idArg(p.BlueAttack), idArg(p.Referee))
    if err != nil {
        return mapMySQLError(err)
    }
    id, err := result.LastInsertId()
    if err != nil {
        return err
    }
    stored, err := findReservation(ctx, t.tx, uint64(id))
    if err != nil {
        return err
    }
    *res = stored
    return nil
}

func (t *sqlSlotTx) UpdateStatus(ctx context.Context, id uint64, status model.ReservationStatus, patch booking.StatusPatch) (model.Reservation, error) {
    const q = `UPDATE reservations
               SET status = ?, final_score_red = COALESCE(?, final_score_red), final_score_blue = COALESCE(?, final_score_blue)
               WHERE id = ?`
    if _, err := t.tx.ExecContext(ctx, q, string(status), intArg(patch.FinalScoreRed), intArg(patch.FinalScoreBlue), id); err != nil {
        return model.Reservation{}, mapMySQLError(err)
    }
    return findReservation(ctx, t.tx, id)
}

func (t *sqlSlotTx) UpdateSlot(ctx context.Context, id uint64, slot booking.SlotKey, status model.ReservationStatus) (model.Reservation, error) {
    const q = `UPDATE reservations SET table_id = ?, start_time = ?, status = ? WHERE id = ?`
    if _, err := t.tx.ExecContext(ctx, q, slot.TableID, slot.StartTime.UTC(), string(status), id); err != nil {
        return model.Reservation{}, mapMySQLError(err)
    }
    return findReservation(ctx, t.tx, id)
}

func (t *sqlSlotTx) DeleteReservation(ctx context.Context, id uint64) error {
    result, err := t.tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
    if err != nil {
        return mapMySQLError(err)
    }
    n, err := result.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return fmt.Errorf("reservation %d: %w", id, ErrNotFound)
    }
    return nil
}

// MySQL error numbers the stores translate.
const (
    errDupEntry        = 1062
    errLockWaitTimeout = 1205
    errDeadlock        = 1213
    errNoReferencedRow = 1452
)

// mapMySQLError converts driver errors into the booking taxonomy.  A
// duplicate on the active_slot index is a slot conflict; any other
// duplicate is a plain ErrConflict.
func mapMySQLError(err error) error {
    var me *mysql.MySQLError
    if !errors.As(err, &me) {
        return err
    }
    switch me.Number {
    case errDupEntry:
        if strings.Contains(me.Message, "active_slot") {
            return fmt.Errorf("%w: %v", booking.ErrSlotConflict, err)
        }
        return fmt.Errorf("%w: %v", ErrConflict, err)
    case errLockWaitTimeout, errDeadlock:
        return fmt.Errorf("%w: %v", booking.ErrBusy, err)
    case errNoReferencedRow:
        return fmt.Errorf("%w: %v", ErrNotFound, err)
    }
    return err
}

func placeholders(n int) string {
    if n <= 0 {
        return ""
    }
    return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
