// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrNoPrice             = errors.New("no price for instrument")
	ErrInvalidScenario     = errors.New("invalid scenario")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionExists      = errors.New("plan already has an open position")
	ErrPositionClosed      = errors.New("position already closed")
	ErrLedgerEntryExists   = errors.New("ledger entry already exists")
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrNotificationFailed  = errors.New("notification delivery failed")
	ErrDatabaseError       = errors.New("database error")
	ErrInputValidation     = errors.New("input validation failed")
)

// ScenarioError describes a scenario that cannot be traded.
type ScenarioError struct {
	PlanID   string
	Scenario string
	Missing  []string
	Reason   string
}

func (e *ScenarioError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("scenario error [%s/%s]: missing %s", e.PlanID, e.Scenario, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("scenario error [%s/%s]: %s", e.PlanID, e.Scenario, e.Reason)
}

func (e *ScenarioError) Unwrap() error {
	return ErrInvalidScenario
}

// NewScenarioError creates a new ScenarioError.
func NewScenarioError(planID, scenario, reason string, missing ...string) *ScenarioError {
	return &ScenarioError{
		PlanID:   planID,
		Scenario: scenario,
		Missing:  missing,
		Reason:   reason,
	}
}

// InvariantError represents a broken programming contract, such as
// probabilities not summing to 100 or two open positions for one plan.
type InvariantError struct {
	Rule   string
	PlanID string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation [%s] plan %s: %s", e.Rule, e.PlanID, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(rule, planID, detail string) *InvariantError {
	return &InvariantError{
		Rule:   rule,
		PlanID: planID,
		Detail: detail,
	}
}

// StoreError represents a persistence failure.
type StoreError struct {
	Operation string
	Entity    string
	ID        string
	Err       error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store error [%s %s %s]: %v", e.Operation, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("store error [%s %s]: %v", e.Operation, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(operation, entity, id string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Entity:    entity,
		ID:        id,
		Err:       err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NotificationError wraps a failure from a notification channel.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification error [%s]: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() []error {
	return []error{ErrNotificationFailed, e.Err}
}

// NewNotificationError creates a new NotificationError.
func NewNotificationError(channel string, err error) *NotificationError {
	return &NotificationError{Channel: channel, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
