package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed or out-of-range input
	ErrValidation = errors.New("validation failed")

	// ErrEligibility is returned when a plan is not available to a customer
	ErrEligibility = errors.New("plan not available to customer")

	// ErrInvalidState is returned when an operation is illegal in the current lifecycle state
	ErrInvalidState = errors.New("invalid state")

	// ErrImmutableField is returned when a field frozen after creation is changed
	ErrImmutableField = errors.New("field is immutable")

	// ErrConcurrentModification is returned when an update lost a version race
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrNotFound is returned when an entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating an entity whose identity is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnavailable is returned when an optional collaborator is not configured
	ErrUnavailable = errors.New("not configured")
)

// ValidationError describes which field was rejected
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// EligibilityError is returned by enrollment when the plan's visibility excludes the customer
type EligibilityError struct {
	PlanID     string
	CustomerID string
	Reason     string
}

func (e *EligibilityError) Error() string {
	msg := fmt.Sprintf("plan %s not available to customer %s", e.PlanID, e.CustomerID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *EligibilityError) Is(target error) bool { return target == ErrEligibility }

// InvalidStateError is returned when a transition is not legal from the current status
type InvalidStateError struct {
	Entity    string
	ID        string
	Operation string
	State     string
	Reason    string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s %s %s in state %s", e.Operation, e.Entity, e.ID, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ImmutableFieldError is returned when a frozen field is changed
type ImmutableFieldError struct {
	Entity string
	Field  string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("%s field %s cannot be changed after creation", e.Entity, e.Field)
}

func (e *ImmutableFieldError) Is(target error) bool { return target == ErrImmutableField }

// NotFound builds the error stores return for a missing entity
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

// Conflict builds the error stores return when a version check fails
func Conflict(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrConcurrentModification)
}

// AlreadyExists builds the error stores return when an ID is taken
func AlreadyExists(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrAlreadyExists)
}
