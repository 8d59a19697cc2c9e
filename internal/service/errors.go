package service

import (
	"errors"
	"strings"
	"unicode/utf8"

	"consultancy/api/internal/repository"
	"consultancy/api/internal/security"
)

var (
	ErrDuplicateEmail        = repository.ErrDuplicateEmail
	ErrInvalidOrExpiredToken = repository.ErrTokenNotFound
	ErrInvalidToken          = security.ErrInvalidToken

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is not active")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrMFANotEnabled      = errors.New("mfa is not enabled")
	ErrMFAAlreadyEnabled  = errors.New("mfa is already enabled")
	ErrMFASetupRequired   = errors.New("mfa setup has not been started")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrExportUnavailable  = errors.New("data export is not configured")
)

// ValidationError carries human-readable messages for rejected input.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

func newValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

const minPasswordLength = 8

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return newValidationError("password must be at least 8 characters")
	}
	return nil
}
