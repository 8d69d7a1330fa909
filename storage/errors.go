package storage

import "errors"

// Common errors
var (
	// ErrNotFound means no record of the requested type exists at any
	// specificity level for a name.
	ErrNotFound = errors.New("not found")
	// ErrDecode is returned for a single stored row that cannot be parsed.
	ErrDecode = errors.New("invalid row")
	// ErrStore wraps driver level failures.
	ErrStore = errors.New("store error")
	// ErrUnknownCodec is returned for an unsupported codec name.
	ErrUnknownCodec = errors.New("unknown codec")
	// ErrReadOnly is returned when a backend cannot be written to.
	ErrReadOnly = errors.New("backend is read-only")
)
