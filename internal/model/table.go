package model

import "time"

// TableStatus is the externally visible state of a table.  It is derived,
// never stored; see booking.Project.
type TableStatus string

const (
    TableAvailable   TableStatus = "AVAILABLE"
    TableOccupied    TableStatus = "OCCUPIED"
    TableMaintenance TableStatus = "MAINTENANCE"
)

// Table represents a physical babyfoot table that members can book.
// Maintenance is set by administrators and takes precedence over any
// reservation-derived status.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – unique display name.
//  Location    – optional free-form location (room, floor).
//  Maintenance – administrator override.
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type Table struct {
    ID          uint64    `json:"id"`                 // tables.id
    Name        string    `json:"name"`               // tables.name
    Location    *string   `json:"location,omitempty"` // tables.location (nullable)
    Maintenance bool      `json:"maintenance"`        // tables.maintenance
    CreatedAt   time.Time `json:"created_at"`         // tables.created_at
    UpdatedAt   time.Time `json:"updated_at"`         // tables.updated_at
}
