package domain

import "errors"

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidWorkKind   = errors.New("invalid work kind")
	ErrInvalidQuery      = errors.New("invalid deletion query")
)
