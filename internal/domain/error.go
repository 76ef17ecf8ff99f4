package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Application error codes.
// These map to HTTP status codes and determine user-facing messages.
const (
	ECONFLICT    = "conflict"         // 409 - Stock shortfall, illegal transition, duplicate
	EINTERNAL    = "internal"         // 500 - Internal server error (hide details)
	EINVALID     = "invalid"          // 400 - Validation error (bad input)
	ENOTFOUND    = "not_found"        // 404 - Resource not found
	EPAYMENT     = "payment_declined" // 402 - Provider rejected the charge
	EUNAVAILABLE = "unavailable"      // 503 - Provider transient failure, safe to retry checkout
	ERECONCILE   = "reconciliation"   // 500 - Money and system of record disagree; escalated
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ECONFLICT).
	Code string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "checkout.prepare").
	// Used for debugging and logging, not shown to users.
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var se *StockShortfallError
	if errors.As(err, &se) {
		return ECONFLICT
	}

	var te *TransitionError
	if errors.As(err, &te) {
		return ECONFLICT
	}

	return EINTERNAL
}

// ErrorMessage extracts a user-facing message from an error.
// For internal errors, returns a generic message to avoid leaking details.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}

	var se *StockShortfallError
	if errors.As(err, &se) {
		return se.Error()
	}

	var te *TransitionError
	if errors.As(err, &te) {
		return te.Error()
	}

	return "An internal error occurred. Please try again later."
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "checkout.validate", "quantity must be positive: %d", qty)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Preserves the underlying error for logging while providing structure.
// Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// NotFound creates a not found error for a resource.
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to users will be generic; the underlying error is for logging.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Stock shortfall (structured, drives "only N left" UI)
// =============================================================================

// Shortfall reports how many units of a product could not be covered.
type Shortfall struct {
	ProductID uuid.UUID
	Requested int32
	Available int32
}

// Amount is the number of missing units for this product.
func (s Shortfall) Amount() int32 {
	return s.Requested - s.Available
}

// StockShortfallError is returned when a reservation cannot be fully covered.
// The hold is all-or-nothing: no partial reservation is taken.
type StockShortfallError struct {
	Op         string
	Shortfalls []Shortfall
}

func (e *StockShortfallError) Error() string {
	if len(e.Shortfalls) == 1 {
		s := e.Shortfalls[0]
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
			s.ProductID, s.Requested, s.Available)
	}
	return fmt.Sprintf("insufficient stock for %d products", len(e.Shortfalls))
}

// IsStockShortfall returns the shortfall detail if err carries one.
func IsStockShortfall(err error) (*StockShortfallError, bool) {
	var se *StockShortfallError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// =============================================================================
// Illegal state transitions
// =============================================================================

// TransitionError is returned when an entity's current state does not permit
// the requested transition. Callers must re-read current state; the
// transition is never coerced into the nearest valid state.
type TransitionError struct {
	Entity string // "order", "payment", "reservation"
	From   string
	To     string
	Reason string // optional guard failure detail
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal %s transition %s -> %s: %s", e.Entity, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

// IsTransitionError returns the transition detail if err carries one.
func IsTransitionError(err error) (*TransitionError, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
