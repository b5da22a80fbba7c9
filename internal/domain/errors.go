package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderDisabled indicates the provider is disabled in the catalog.
	ErrProviderDisabled = errors.New("provider disabled")

	// ErrNoProviders indicates no enabled provider is available for a run.
	ErrNoProviders = errors.New("no enabled providers")

	// ErrExhausted indicates every candidate provider was tried for an
	// identifier without success.
	ErrExhausted = errors.New("all providers exhausted")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// FetchError is the classified failure returned by a fetcher adapter. Every
// fetch failure carries a FailureCategory so the orchestrator and retry
// scheduler can decide what is worth retrying without inspecting
// provider-specific causes.
type FetchError struct {
	// Provider is the catalog name of the provider that failed.
	Provider string

	// Category classifies the failure.
	Category FailureCategory

	// StatusCode is the HTTP status that triggered the failure, if any.
	StatusCode int

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch from %s failed: %s", e.Provider, e.Category)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewFetchError creates a FetchError for the given provider and category.
func NewFetchError(provider string, category FailureCategory, cause error) *FetchError {
	return &FetchError{Provider: provider, Category: category, Cause: cause}
}

// CategoryOf extracts the failure category from an error. A *FetchError
// anywhere in the chain wins; otherwise the error is treated as a network
// failure, the broadest transient classification.
func CategoryOf(err error) FailureCategory {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return CategoryNetworkError
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
