package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// Ledger errors
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReservationSettled  = errors.New("reservation already settled")

	// Dispatch errors
	ErrTemplateDisabled = errors.New("template is disabled")
)
