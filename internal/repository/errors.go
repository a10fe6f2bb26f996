// Package repository holds the stores behind the booking engine: a MySQL
// store used in production and an in-memory store used by tests and by the
// server when STORE_DRIVER=memory.  Both satisfy booking.Store.
//
// Lookups that miss return booking.ErrNotFound (re-exported here as
// ErrNotFound) so handlers can map them with errors.Is without caring which
// store is configured.
package repository

import (
    "errors"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
)

// ErrNotFound is returned when a table or reservation does not exist.
var ErrNotFound = booking.ErrNotFound

// ErrConflict is returned when a write would break a uniqueness rule that
// is not a slot rule, such as creating two tables with the same name.
// Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
