package store

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNotOwned is returned when the record exists but belongs to a
	// different user. Callers must surface this as an authorization failure,
	// never as an empty result.
	ErrNotOwned = errors.New("record not owned by caller")
	// ErrInvalidIndex is returned for version-group index updates that are
	// odd or out of bounds.
	ErrInvalidIndex = errors.New("invalid version group index")
)
