package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownType     = errors.New("unknown entity type")
	ErrInvalidChange   = errors.New("invalid change")
	ErrNothingRecorded = errors.New("no changes to record")
)
