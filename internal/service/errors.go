package service

import (
	"errors"
	"fmt"

	"docvault/internal/token"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrEncryption        = errors.New("encryption failed")
	ErrDecryption        = errors.New("decryption failed")
	ErrStorage           = errors.New("object storage failure")
	ErrCorruptedDocument = errors.New("document content failed integrity verification")
	ErrNotFound          = errors.New("document not found")
	ErrTimeout           = errors.New("operation timed out")
	ErrNotReady          = errors.New("document is not ready")
	ErrInvalidTransition = errors.New("invalid document status transition")

	// ErrInvalidToken is the broker's error so callers can match either.
	ErrInvalidToken = token.ErrInvalidToken
)

// ValidationError describes rejected input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
