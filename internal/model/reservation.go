package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
    StatusPending    ReservationStatus = "PENDING"
    StatusConfirmed  ReservationStatus = "CONFIRMED"
    StatusInProgress ReservationStatus = "IN_PROGRESS"
    StatusFinished   ReservationStatus = "FINISHED"
    StatusCancelled  ReservationStatus = "CANCELLED"
    StatusExpired    ReservationStatus = "EXPIRED"
)

// ActiveStatuses are the statuses that occupy a slot for admission purposes.
var ActiveStatuses = []ReservationStatus{StatusConfirmed, StatusInProgress}

// IsActive reports whether the status holds the slot.
func (s ReservationStatus) IsActive() bool {
    return s == StatusConfirmed || s == StatusInProgress
}

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
    return s == StatusFinished || s == StatusCancelled || s == StatusExpired
}

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
    switch s {
    case StatusPending, StatusConfirmed, StatusInProgress, StatusFinished, StatusCancelled, StatusExpired:
        return true
    }
    return false
}

// Participants holds the player references of a match.  A zero ID means
// the role is empty.  The reservation does not own the players.
//
// Fields:
//  RedDefense  – reservations.red_defense_id (nullable)
//  RedAttack   – reservations.red_attack_id (nullable)
//  BlueDefense – reservations.blue_defense_id (nullable)
//  BlueAttack  – reservations.blue_attack_id (nullable)
//  Referee     – reservations.referee_id (nullable)
type Participants struct {
    RedDefense  uint64 `json:"red_defense,omitempty"`
    RedAttack   uint64 `json:"red_attack,omitempty"`
    BlueDefense uint64 `json:"blue_defense,omitempty"`
    BlueAttack  uint64 `json:"blue_attack,omitempty"`
    Referee     uint64 `json:"referee,omitempty"`
}

// Players returns the non-empty player IDs in role order, referee last.
func (p Participants) Players() []uint64 {
    ids := make([]uint64, 0, 5)
    for _, id := range []uint64{p.RedDefense, p.RedAttack, p.BlueDefense, p.BlueAttack, p.Referee} {
        if id != 0 {
            ids = append(ids, id)
        }
    }
    return ids
}

// Has reports whether playerID fills any role, referee included.
func (p Participants) Has(playerID uint64) bool {
    if playerID == 0 {
        return false
    }
    for _, id := range p.Players() {
        if id == playerID {
            return true
        }
    }
    return false
}

// Empty reports whether no role is filled.
func (p Participants) Empty() bool { return len(p.Players()) == 0 }

// Reservation is a booking of one table for one 15 minute slot.
//
// Fields:
//  ID             – primary key identifier.
//  TableID        – table being booked.
//  StartTime      – slot start (UTC, on the 15 minute grid).
//  Status         – lifecycle state, see ReservationStatus.
//  Participants   – players in the four roles plus the optional referee.
//  FinalScoreRed  – red team score, set only when FINISHED.
//  FinalScoreBlue – blue team score, set only when FINISHED.
//  CreatedAt      – creation timestamp; the queue tie-break.
//  UpdatedAt      – last update timestamp.
type Reservation struct {
    ID             uint64            `json:"id"`                         // reservations.id
    TableID        uint64            `json:"table_id"`                   // reservations.table_id
    StartTime      time.Time         `json:"start_time"`                 // reservations.start_time
    Status         ReservationStatus `json:"status"`                     // reservations.status
    Participants   Participants      `json:"participants"`               // reservations.*_id
    FinalScoreRed  *int              `json:"final_score_red,omitempty"`  // reservations.final_score_red (nullable)
    FinalScoreBlue *int              `json:"final_score_blue,omitempty"` // reservations.final_score_blue (nullable)
    CreatedAt      time.Time         `json:"created_at"`                 // reservations.created_at
    UpdatedAt      time.Time         `json:"updated_at"`                 // reservations.updated_at
}

// EndTime returns the end of the reservation's slot.
func (r Reservation) EndTime(duration time.Duration) time.Time {
    return r.StartTime.Add(duration)
}

// QueuedBefore reports whether r precedes other in queue order: earlier
// CreatedAt first, ties broken by the lower ID.
func (r Reservation) QueuedBefore(other Reservation) bool {
    if !r.CreatedAt.Equal(other.CreatedAt) {
        return r.CreatedAt.Before(other.CreatedAt)
    }
    return r.ID < other.ID
}
