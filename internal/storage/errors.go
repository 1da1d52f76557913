package storage

import "errors"

var (
	// ErrNotFound is returned by writers when a referenced parent row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a row fails the fact table invariants.
	ErrInvalidInput = errors.New("invalid input")
)
