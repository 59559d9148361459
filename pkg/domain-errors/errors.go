// Package dErrors provides code-typed domain errors shared across all
// services. Stores return sentinel infrastructure errors; services translate
// them into these at the boundary so transports can map codes to statuses
// without inspecting error strings.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation covers malformed or constraint-violating input,
	// including uniqueness violations and invalid state-transition attempts.
	CodeValidation Code = "validation"
	// CodeInvalidInput covers inputs that fail parsing before any domain
	// rule is consulted (bad UUIDs, empty required strings).
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound means a referenced entity does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict covers cross-entity mismatches, e.g. branch/scheme
	// mismatch on a manual sync link.
	CodeConflict Code = "conflict"
	// CodeApprovalRequired is a control-flow signal, not a failure: the
	// operation was accepted but deferred behind a maker-checker gate.
	CodeApprovalRequired Code = "approval_required"
	// CodeInvariantViolation marks a broken aggregate invariant. Services
	// usually re-map these to CodeValidation or CodeConflict for callers.
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"
)

// DomainError carries a code alongside the message and an optional detail
// payload (used by the activation gate to return every unmet condition at
// once rather than just the first).
type DomainError struct {
	Code    Code
	Message string
	Details []string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// New creates a domain error with a code.
func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewWithDetails creates a domain error carrying per-condition details.
func NewWithDetails(code Code, message string, details []string) error {
	return &DomainError{Code: code, Message: message, Details: details}
}

// Wrap annotates err with a code and message while preserving the chain.
func Wrap(err error, code Code, message string) error {
	return &DomainError{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal when err is not a
// domain error.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DetailsOf returns the detail list carried by err, if any.
func DetailsOf(err error) []string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}

// ToHTTPStatus maps a code onto the HTTP status the transport layer emits.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeApprovalRequired:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
