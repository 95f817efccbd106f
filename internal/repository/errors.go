package repository

import "errors"

// ErrNotFound is returned when a record id has no stored entry.
var ErrNotFound = errors.New("record not found")
