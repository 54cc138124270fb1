package repository

import "errors"

var (
	ErrNotFound = errors.New("error not found")
	// ErrMultipleOpenRows - more than one open row matched an (owner, stock)
	// pair that must be unique. Data-integrity fault, surfaced, never
	// silently averaged across.
	ErrMultipleOpenRows = errors.New("error multiple open rows for owner and stock")
)
