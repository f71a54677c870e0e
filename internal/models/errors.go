package models

import "fmt"

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidField       ErrorCode = "INVALID_FIELD"
	ErrorCodeMissingField       ErrorCode = "MISSING_FIELD"
	ErrorCodeInsufficientStock  ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrorCodeReservationExpired ErrorCode = "RESERVATION_EXPIRED"
	ErrorCodeProductBusy        ErrorCode = "PRODUCT_BUSY"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodeDuplicateRequest   ErrorCode = "DUPLICATE_REQUEST"
	ErrorCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	ErrorCodeValidationError    ErrorCode = "VALIDATION_ERROR"
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeBusy            = "busy"
	ProblemTypeInternalError   = "internal-error"
)

// ValidationError represents bad input shape (InvalidArgument)
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// BusinessError represents expected business-rule failures (insufficient
// stock, illegal state transition). Never logged at error severity.
type BusinessError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundError represents an unknown product or reservation
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
}

// BusyError is returned when the per-product lock cannot be acquired within
// the configured timeout. Callers are expected to retry with backoff.
type BusyError struct {
	ProductID string `json:"product_id"`
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("product '%s' is busy, retry later", e.ProductID)
}

// InvariantViolationError signals ledger corruption (reserved below zero or
// above current). It is fatal to the triggering operation, logged at error
// severity and never auto-corrected.
type InvariantViolationError struct {
	ProductID string `json:"product_id"`
	Message   string `json:"message"`
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violated for product '%s': %s", e.ProductID, e.Message)
}

// Error factory functions

func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

func NewBusinessError(code ErrorCode, message string, details any) *BusinessError {
	return &BusinessError{Code: code, Message: message, Details: details}
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func NewBusyError(productID string) *BusyError {
	return &BusyError{ProductID: productID}
}

func NewInvariantViolation(productID, message string) *InvariantViolationError {
	return &InvariantViolationError{ProductID: productID, Message: message}
}

// Error type guards

func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

func IsBusinessError(err error) bool {
	_, ok := err.(*BusinessError)
	return ok
}

func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

func IsBusyError(err error) bool {
	_, ok := err.(*BusyError)
	return ok
}

func IsInvariantViolation(err error) bool {
	_, ok := err.(*InvariantViolationError)
	return ok
}

// BusinessErrorCode returns the code carried by a BusinessError, or empty.
func BusinessErrorCode(err error) ErrorCode {
	if be, ok := err.(*BusinessError); ok {
		return be.Code
	}
	return ""
}

// ProblemDetails is the RFC-7807 style error envelope returned by the HTTP layer
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
	Code   string `json:"code,omitempty"`
	Errors any    `json:"errors,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a validation error problem
func NewValidationProblem(field, message string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: message,
		Field:  field,
		Code:   string(code),
	}
}

// NewMultiValidationProblem creates a multi-field validation error problem
func NewMultiValidationProblem(violations []ValidationError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: "Multiple validation errors occurred",
		Errors: violations,
	}
}

// NewBusinessLogicProblem creates a business logic error problem
func NewBusinessLogicProblem(status int, title, detail string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusinessError,
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   string(code),
	}
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: 404,
		Detail: resource + " not found",
	}
}

// NewBusyProblem creates a lock-contention problem; callers retry with backoff
func NewBusyProblem(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusy,
		Title:  "Resource Busy",
		Status: 503,
		Detail: detail,
		Code:   string(ErrorCodeProductBusy),
	}
}

func problemType(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409, 422:
		return ProblemTypeBusinessError
	case 503:
		return ProblemTypeBusy
	default:
		return ProblemTypeInternalError
	}
}
