package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain error kinds. Every error returned by the settlement services matches
// exactly one of these with errors.Is.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrNotAuthorized = errors.New("not authorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrBusinessRule  = errors.New("business rule violation")
)

// Not found errors
var (
	ErrEscrowNotFound     = fmt.Errorf("escrow entry not found: %w", ErrNotFound)
	ErrCommissionNotFound = fmt.Errorf("commission record not found: %w", ErrNotFound)
	ErrPayoutNotFound     = fmt.Errorf("payout not found: %w", ErrNotFound)
	ErrOrderNotFound      = fmt.Errorf("order not found: %w", ErrNotFound)
	ErrSellerNotFound     = fmt.Errorf("seller not found: %w", ErrNotFound)
)

// Business rule errors
var (
	ErrPayoutNotRetryable    = &BusinessRuleError{Message: "Only failed payouts can be retried"}
	ErrRetryLimitExceeded    = &BusinessRuleError{Message: "Payout has exceeded maximum retry attempts"}
	ErrPayoutInFlight        = &BusinessRuleError{Message: "Payout is already being processed"}
	ErrEscrowAlreadyReleased = &BusinessRuleError{Message: "Escrow funds were already released and cannot be refunded; a reversal is required"}
	ErrEscrowAlreadyHeld     = &BusinessRuleError{Message: "Escrow is already held for this order and seller"}
	ErrEscrowDwellNotElapsed = &BusinessRuleError{Message: "Escrow cannot be released before the payout eligibility period has elapsed"}
)

// FieldError is a single field-level validation message
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed or missing input as a list of field messages
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError creates a ValidationError for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add appends a field message
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field messages were collected
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// BusinessRuleError is returned when a domain invariant blocks an operation
type BusinessRuleError struct {
	Message string
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

func (e *BusinessRuleError) Unwrap() error {
	return ErrBusinessRule
}
