package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Callers MUST use these constants instead of
// hardcoded strings so telemetry can group failures by code.
const (
	// Record-level (recovered locally by the stream transform)
	ErrCodeInvalidDatetime ErrorCode = "invalid_datetime"
	ErrCodeInvalidEnvelope ErrorCode = "invalid_envelope"

	// Run-level (fatal to a consolidation run)
	ErrCodeOutputKeyExists ErrorCode = "output_key_exists"
	ErrCodeBadListing      ErrorCode = "bad_listing"
	ErrCodeBadFetch        ErrorCode = "bad_fetch"
	ErrCodeBadRecoveryLine ErrorCode = "bad_recovery_line"
	ErrCodeNoFragments     ErrorCode = "no_fragments"

	// Infrastructure
	ErrCodeUpstreamStorage    ErrorCode = "upstream_storage"
	ErrCodeInternalScratch    ErrorCode = "internal_scratch_io"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// Fatal reports whether an error with this code must abort a consolidation
// run. Only the record-level codes are recoverable, and only inside the
// stream transform.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrCodeInvalidDatetime, ErrCodeInvalidEnvelope:
		return false
	default:
		return true
	}
}

// AppError is the standard application error type used throughout the module.
// All domain errors should be expressed as AppError so that logs and metrics
// can be grouped by Code while the underlying cause stays reachable through
// errors.Is/errors.As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternalUnexpected when the chain holds none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsCode reports whether any AppError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}
