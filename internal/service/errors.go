package service

import "errors"

var (
	ErrNotFound = errors.New("error not found")
	// ErrValidation - malformed submission rejected before reaching the
	// valuation engine.
	ErrValidation = errors.New("error validation failed")
	// ErrMultipleOpenPositions - more than one open row for an (owner, stock)
	// pair where exactly one is expected.
	ErrMultipleOpenPositions = errors.New("error multiple open positions")
	// ErrMalformedSnapshot - the transaction set itself is invalid (partial
	// sell leg). Non-recoverable: aborts the whole valuation.
	ErrMalformedSnapshot = errors.New("error malformed transaction snapshot")
)
