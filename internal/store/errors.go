package store

import "errors"

var (
	// ErrNotFound is returned by lookups that find no matching row.
	ErrNotFound = errors.New("store: not found")
)
