package model

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRange       = errors.New("invalid range")
	ErrUnsupportedScope   = errors.New("not implemented for this product")
	ErrMigrationsDisabled = errors.New("migrations are not enabled")
	ErrValidation         = errors.New("validation error")
)
