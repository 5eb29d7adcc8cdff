// Package errors provides structured error types for blksched
// with error codes, categories, and remediation guidance
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error codes for blksched
// Format: BLKSCHED-<CATEGORY><NUMBER>
// Categories: C=Config, S=Scheduling, P=Policy, D=Device, B=Bug
const (
	// Configuration errors (user fix)
	ErrCodeInvalidConfig    ErrorCode = "BLKSCHED-C001"
	ErrCodeInvalidThreshold ErrorCode = "BLKSCHED-C002"
	ErrCodeInvalidOption    ErrorCode = "BLKSCHED-C003"

	// Scheduling errors
	ErrCodeQueueShutDown  ErrorCode = "BLKSCHED-S001"
	ErrCodeSwitchBlocked  ErrorCode = "BLKSCHED-S002"
	ErrCodeSwitchFailed   ErrorCode = "BLKSCHED-S003"
	ErrCodeRequestKilled  ErrorCode = "BLKSCHED-S004"
	ErrCodeRequestAborted ErrorCode = "BLKSCHED-S005"

	// Policy errors
	ErrCodePolicyNotFound ErrorCode = "BLKSCHED-P001"
	ErrCodePolicyInit     ErrorCode = "BLKSCHED-P002"
	ErrCodePolicyAttr     ErrorCode = "BLKSCHED-P003"

	// Device errors (consumer-reported)
	ErrCodeDeviceError ErrorCode = "BLKSCHED-D001"
	ErrCodeDeviceBusy  ErrorCode = "BLKSCHED-D002"
	ErrCodeFlushFailed ErrorCode = "BLKSCHED-D003"
	ErrCodeTraceIO     ErrorCode = "BLKSCHED-D004"
	ErrCodeTraceFormat ErrorCode = "BLKSCHED-D005"

	// Internal errors (report to maintainers)
	ErrCodeInvalidState ErrorCode = "BLKSCHED-B001"
	ErrCodeAccounting   ErrorCode = "BLKSCHED-B002"
)

// Category represents error categories
type Category string

const (
	CategoryConfig     Category = "configuration"
	CategoryScheduling Category = "scheduling"
	CategoryPolicy     Category = "policy"
	CategoryDevice     Category = "device"
	CategoryInternal   Category = "internal"
)

// SchedError is a structured error with code, category, and remediation
type SchedError struct {
	Code        ErrorCode
	Category    Category
	Message     string
	Details     string
	Remediation string
	Cause       error
}

// Error implements error interface
func (e *SchedError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf("\n\nDetails:\n  %s", e.Details)
	}
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n\nTo fix:\n  %s", e.Remediation)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *SchedError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for error comparison
func (e *SchedError) Is(target error) bool {
	if t, ok := target.(*SchedError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithCause attaches an underlying cause
func (e *SchedError) WithCause(cause error) *SchedError {
	e.Cause = cause
	return e
}

// WithDetails attaches detail text
func (e *SchedError) WithDetails(details string) *SchedError {
	e.Details = details
	return e
}

// NewConfigError creates a configuration error
func NewConfigError(code ErrorCode, message, remediation string) *SchedError {
	return &SchedError{
		Code:        code,
		Category:    CategoryConfig,
		Message:     message,
		Remediation: remediation,
	}
}

// NewSchedError creates a scheduling error
func NewSchedError(code ErrorCode, message string) *SchedError {
	return &SchedError{
		Code:     code,
		Category: CategoryScheduling,
		Message:  message,
	}
}

// NewPolicyError creates a policy error
func NewPolicyError(code ErrorCode, message, remediation string) *SchedError {
	return &SchedError{
		Code:        code,
		Category:    CategoryPolicy,
		Message:     message,
		Remediation: remediation,
	}
}

// NewDeviceError creates a device error
func NewDeviceError(code ErrorCode, message string) *SchedError {
	return &SchedError{
		Code:     code,
		Category: CategoryDevice,
		Message:  message,
	}
}

// NewInternalError creates an internal error
func NewInternalError(code ErrorCode, message string) *SchedError {
	return &SchedError{
		Code:        code,
		Category:    CategoryInternal,
		Message:     message,
		Remediation: "This is a bug in blksched or a scheduling policy. Please report it.",
	}
}

// GetCode extracts the error code, or empty string for plain errors
func GetCode(err error) ErrorCode {
	var se *SchedError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
