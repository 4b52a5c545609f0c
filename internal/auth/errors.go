package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrConflict           = errors.New("conflict")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")

	ErrTokenExpired      = tokenError{reason: "token expired"}
	ErrTokenBadSignature = tokenError{reason: "token signature invalid"}
	ErrTokenMalformed    = tokenError{reason: "token malformed"}
)

// tokenError lets codec failures keep their own identity while still
// matching ErrInvalidToken.
type tokenError struct {
	reason string
}

func (e tokenError) Error() string {
	return e.reason
}

func (e tokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

// LockedError is returned while an account is locked. Until is safe to
// disclose to the caller.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
