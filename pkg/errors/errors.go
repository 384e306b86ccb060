// Package errors provides custom error types for the meridian engine.
// These errors enable programmatic error checking across the identity
// graph, policy engine, pipeline, and audit collaborators.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is reports whether any error in err's chain matches target.
// It's an alias for the standard library errors.Is.
var Is = errors.Is

// As finds the first error in err's chain that matches target.
// It's an alias for the standard library errors.As.
var As = errors.As

// Common sentinel errors for the meridian engine
var (
	// ErrNotFound indicates that a requested record or index row was not found
	ErrNotFound = errors.New("not found")

	// ErrCASConflict indicates that a compare-and-swap on an index row lost
	// to a concurrent writer
	ErrCASConflict = errors.New("compare-and-swap conflict")

	// ErrEmptyKeySet indicates that a fragment carried no non-null
	// aggregation key
	ErrEmptyKeySet = errors.New("no aggregation key present")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfiguration indicates an invalid policy or engine declaration
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAuditUnavailable indicates the audit sink rejected a write
	ErrAuditUnavailable = errors.New("audit sink unavailable")

	// ErrReservedPhase indicates an attempt to register a contributor step
	// inside a framework-reserved pipeline phase
	ErrReservedPhase = errors.New("phase is framework-reserved")

	// ErrUnknownEntityType indicates a fragment referenced an entity type
	// with no declared policy set
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")
)

// ConfigurationError represents an invalid policy or engine declaration.
// It is raised eagerly at startup, never at request time.
type ConfigurationError struct {
	Component string
	Field     string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error in %s (field %q): %s", e.Component, e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
}

// Is implements errors.Is support
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// Unwrap implements errors.Unwrap
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(component, field, message string) *ConfigurationError {
	return &ConfigurationError{Component: component, Field: field, Message: message}
}

// ValidationError represents a Validation-phase rejection of a fragment.
// The pipeline aborts before Aggregation; no writes occur.
type ValidationError struct {
	Step    string
	Field   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	switch {
	case e.Step != "" && e.Field != "":
		return fmt.Sprintf("validation failed in step %s for field %s: %s", e.Step, e.Field, e.Message)
	case e.Step != "":
		return fmt.Sprintf("validation failed in step %s: %s", e.Step, e.Message)
	default:
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Unwrap implements errors.Unwrap
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError
func NewValidationError(step, message string, err error) *ValidationError {
	return &ValidationError{Step: step, Message: message, Err: err}
}

// IdentityError represents a failure to resolve a canonical identity,
// raised before any write occurs.
type IdentityError struct {
	EntityType string
	Message    string
	Err        error
}

// Error implements the error interface
func (e *IdentityError) Error() string {
	if e.EntityType != "" {
		return fmt.Sprintf("identity resolution failed for %s: %s", e.EntityType, e.Message)
	}
	return fmt.Sprintf("identity resolution failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *IdentityError) Is(target error) bool {
	return target == ErrEmptyKeySet
}

// Unwrap implements errors.Unwrap
func (e *IdentityError) Unwrap() error {
	return e.Err
}

// NewIdentityError creates a new IdentityError
func NewIdentityError(entityType, message string, err error) *IdentityError {
	return &IdentityError{EntityType: entityType, Message: message, Err: err}
}

// AuditWriteError represents a failed audit sink write. The write failure is
// fatal to the enclosing canonization so no uncommitted-but-unaudited state
// exists. Callers needing resilience wrap the sink themselves.
type AuditWriteError struct {
	CanonicalID string
	Phase       string
	Event       string
	Err         error
}

// Error implements the error interface
func (e *AuditWriteError) Error() string {
	if e.CanonicalID != "" {
		return fmt.Sprintf("audit write failed for %s (%s/%s): %v", e.CanonicalID, e.Phase, e.Event, e.Err)
	}
	return fmt.Sprintf("audit write failed (%s/%s): %v", e.Phase, e.Event, e.Err)
}

// Is implements errors.Is support
func (e *AuditWriteError) Is(target error) bool {
	return target == ErrAuditUnavailable
}

// Unwrap implements errors.Unwrap
func (e *AuditWriteError) Unwrap() error {
	return e.Err
}

// NewAuditWriteError creates a new AuditWriteError
func NewAuditWriteError(canonicalID, phase, event string, err error) *AuditWriteError {
	return &AuditWriteError{CanonicalID: canonicalID, Phase: phase, Event: event, Err: err}
}

// NotFoundError represents an error when a record or row is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// StoreError represents a persistence collaborator failure
type StoreError struct {
	Operation string // "get", "put", "cas", "rewrite"
	Resource  string // "record", "index", "staging"
	ID        string
	Err       error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s of %s %s failed: %v", e.Operation, e.Resource, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s of %s failed: %v", e.Operation, e.Resource, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore wraps an error as a StoreError
func WrapStore(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Operation: operation, Resource: resource, ID: id, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCASConflict checks if an error is a compare-and-swap conflict
func IsCASConflict(err error) bool {
	return errors.Is(err, ErrCASConflict)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsIdentity checks if an error is an identity resolution error
func IsIdentity(err error) bool {
	return errors.Is(err, ErrEmptyKeySet)
}

// IsAuditWrite checks if an error is an audit write failure
func IsAuditWrite(err error) bool {
	return errors.Is(err, ErrAuditUnavailable)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
