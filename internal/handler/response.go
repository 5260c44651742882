package handler

import (
	"errors"
	"net/http"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/middleware"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error types
const (
	ErrorTypeValidation   = "https://settlement.marketplace.dev/errors/validation"
	ErrorTypeNotFound     = "https://settlement.marketplace.dev/errors/not-found"
	ErrorTypeUnauthorized = "https://settlement.marketplace.dev/errors/unauthorized"
	ErrorTypeForbidden    = "https://settlement.marketplace.dev/errors/forbidden"
	ErrorTypeConflict     = "https://settlement.marketplace.dev/errors/conflict"
	ErrorTypeBusinessRule = "https://settlement.marketplace.dev/errors/business-rule"
	ErrorTypeInternal     = "https://settlement.marketplace.dev/errors/internal"
)

func problem(c echo.Context, status int, errorType, title, detail string, errs []ValidationError) error {
	return c.JSON(status, ProblemDetails{
		Type:     errorType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		Errors:   errs,
	})
}

// NewValidationError creates a validation error response
func NewValidationError(c echo.Context, detail string, errors []ValidationError) error {
	return problem(c, http.StatusBadRequest, ErrorTypeValidation, "Validation Error", detail, errors)
}

// NewNotFoundError creates a not found error response
func NewNotFoundError(c echo.Context, detail string) error {
	return problem(c, http.StatusNotFound, ErrorTypeNotFound, "Not Found", detail, nil)
}

// NewUnauthorizedError creates an unauthorized error response
func NewUnauthorizedError(c echo.Context, detail string) error {
	return problem(c, http.StatusUnauthorized, ErrorTypeUnauthorized, "Unauthorized", detail, nil)
}

// NewForbiddenError creates a forbidden error response
func NewForbiddenError(c echo.Context, detail string) error {
	return problem(c, http.StatusForbidden, ErrorTypeForbidden, "Forbidden", detail, nil)
}

// NewConflictError creates a conflict error response
func NewConflictError(c echo.Context, detail string) error {
	return problem(c, http.StatusConflict, ErrorTypeConflict, "Conflict", detail, nil)
}

// NewBusinessRuleError creates a business rule violation response
func NewBusinessRuleError(c echo.Context, detail string) error {
	return problem(c, http.StatusConflict, ErrorTypeBusinessRule, "Business Rule Violation", detail, nil)
}

// NewInternalError creates an internal error response
func NewInternalError(c echo.Context, detail string) error {
	return problem(c, http.StatusInternalServerError, ErrorTypeInternal, "Internal Server Error", detail, nil)
}

// handleServiceError maps domain errors to appropriate HTTP responses
func handleServiceError(c echo.Context, err error, internalDetail string) error {
	var verr *domain.ValidationError
	var rule *domain.BusinessRuleError
	switch {
	case errors.As(err, &verr):
		fields := make([]ValidationError, len(verr.Fields))
		for i, f := range verr.Fields {
			fields[i] = ValidationError{Field: f.Field, Message: f.Message}
		}
		return NewValidationError(c, "Request validation failed", fields)
	case errors.Is(err, domain.ErrInvalidInput):
		return NewValidationError(c, err.Error(), nil)
	case errors.Is(err, domain.ErrNotAuthorized):
		return NewForbiddenError(c, "You are not allowed to perform this operation")
	case errors.Is(err, domain.ErrEscrowNotFound):
		return NewNotFoundError(c, "Escrow entry not found")
	case errors.Is(err, domain.ErrCommissionNotFound):
		return NewNotFoundError(c, "Commission record not found")
	case errors.Is(err, domain.ErrPayoutNotFound):
		return NewNotFoundError(c, "Payout not found")
	case errors.Is(err, domain.ErrNotFound):
		return NewNotFoundError(c, "Resource not found")
	case errors.Is(err, domain.ErrEscrowAlreadyHeld):
		return NewConflictError(c, domain.ErrEscrowAlreadyHeld.Message)
	case errors.As(err, &rule):
		return NewBusinessRuleError(c, rule.Message)
	default:
		log.Error().Err(err).Str("path", c.Request().URL.Path).Msg(internalDetail)
		return NewInternalError(c, internalDetail)
	}
}

// parseUUIDParam reads a path parameter as a UUID
func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, domain.NewValidationError(name, "Must be a valid UUID")
	}
	return id, nil
}

// canReadSeller reports whether the caller may read data owned by sellerID:
// admins and the system may read any seller, sellers only themselves
func canReadSeller(c echo.Context, sellerID uuid.UUID) bool {
	actor := middleware.GetActor(c)
	if actor.IsPrivileged() {
		return true
	}
	return actor.Role == domain.RoleSeller && middleware.GetSellerID(c) == sellerID
}

// needsRedaction reports whether provider error detail must be hidden from the caller
func needsRedaction(c echo.Context) bool {
	return !middleware.GetActor(c).IsPrivileged()
}
