package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrInvalid      = errors.New("domain: invalid")
	ErrUnauthorized = errors.New("domain: unauthorized")
)
