package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced id or code does not exist.
	// Callers treat it as "no classification" or "no price".
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned when a caller passes no usable key.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIntegrityViolation is returned when static data or stored rows
	// reference hierarchy codes that do not exist or break tree invariants.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrValidationFailure is returned when a decomposition fails its checklist.
	ErrValidationFailure = errors.New("validation failure")
)

var (
	// ErrProductNotFound is returned when a product is not found.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)

	ErrCategoryNotFound       = fmt.Errorf("category %w", ErrNotFound)
	ErrReferencePriceNotFound = fmt.Errorf("reference price %w", ErrNotFound)
)
