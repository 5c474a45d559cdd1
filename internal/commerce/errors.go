package commerce

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrValidation        = errors.New("validation failed")
	ErrExternalService   = errors.New("external service error")
	ErrConflict          = errors.New("conflict")
)
