package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrValidation       = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrProvider         = errors.New("payment provider error")
	ErrPayout           = errors.New("payout failed")
	ErrPayoutInProgress = errors.New("payout already in progress")
	ErrInternalError    = errors.New("internal server error")
)

// ValidationError reports missing or malformed caller input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid request: %s is required", e.Field)
	}
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Missing returns a ValidationError for a required field
func Missing(field string) error {
	return &ValidationError{Field: field}
}

// NotFoundError reports an unresolved identity, invoice or payout
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ProviderError wraps a rejection or transport failure from the payment provider
type ProviderError struct {
	Op   string
	Code int
	Name string
	Err  error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("provider %s: %d %s", e.Op, e.Code, e.Name)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("provider %s failed", e.Op)
	}
}

// Unwrap exposes both the provider sentinel and the underlying cause
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvider}
	}
	return []error{ErrProvider, e.Err}
}

// PayoutError reports a failed reward transfer for a game
type PayoutError struct {
	GameID string
	Err    error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("payout for game %s: %v", e.GameID, e.Err)
}

func (e *PayoutError) Unwrap() []error {
	return []error{ErrPayout, e.Err}
}

// IsValidationError checks if an error is caused by caller input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
