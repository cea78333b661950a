package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyPaid is returned when a ride already carries a different payment reference.
	ErrAlreadyPaid = errors.New("ride already paid")
)
