package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap or match to one of these so
// callers can branch with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrRunInProgress means another sync or backfill holds the run lock.
	ErrRunInProgress = errors.New("run in progress")

	// ErrWriteFailed means the store rejected a record.
	ErrWriteFailed = errors.New("write failed")

	// ErrConfiguration means the service cannot start with its configuration.
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError rejects one input field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadyExistsError is a unique-constraint hit on insert. The writer falls
// back to an update when it sees one.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{Entity: entity, ID: id}
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// ExternalAPIError describes a provider failure: a network error, a non-2xx
// status or a payload that could not be parsed. Adapters convert it into an
// empty page rather than returning it.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{Source: source, StatusCode: statusCode, Message: message, Cause: cause}
}

func (e *ExternalAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s API error: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

func (e *ExternalAPIError) Unwrap() error { return e.Cause }

// WriteError is a store failure for a single record.
type WriteError struct {
	Op  string
	Key IdentityKey
	Err error
}

func NewWriteError(op string, key IdentityKey, err error) *WriteError {
	return &WriteError{Op: op, Key: key, Err: err}
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is matches ErrWriteFailed so callers need not know the cause.
func (e *WriteError) Is(target error) bool { return target == ErrWriteFailed }

// ConfigurationError is fatal at startup: missing secrets, an unreachable store
// or an invalid setting.
type ConfigurationError struct {
	Key     string
	Message string
	Cause   error
}

func NewConfigurationError(key, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: message, Cause: cause}
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", e.Key, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
