// Package errors provides structured error handling for vulnscan operations.
// It defines error codes, error types, and provides utilities for creating
// and classifying errors with context and structured information.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeUnavailable   ErrorCode = "UNAVAILABLE"

	// Job lifecycle errors.
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeInvalidState  ErrorCode = "INVALID_STATE"
	CodeScanFailed    ErrorCode = "SCAN_FAILED"

	// Notification errors.
	CodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"

	// Database errors.
	CodeConflict           ErrorCode = "CONFLICT"
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
)

// JobError represents an error raised by a job control operation or by the
// execution of a scan job.
type JobError struct {
	Code    ErrorCode
	Message string
	JobID   string
	Target  string
	Cause   error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	switch {
	case e.JobID != "":
		return fmt.Sprintf("[%s] %s (job: %s)", e.Code, e.Message, e.JobID)
	case e.Target != "":
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// NewJobError creates a new job error with the specified code and message.
func NewJobError(code ErrorCode, message string) *JobError {
	return &JobError{Code: code, Message: message}
}

// WrapJobError wraps an existing error as a job error.
func WrapJobError(code ErrorCode, message string, err error) *JobError {
	return &JobError{Code: code, Message: message, Cause: err}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var jobErr *JobError
	if stderrors.As(err, &jobErr) {
		return jobErr.Code
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsNotFound reports whether err refers to an unknown resource.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsInvalidState reports whether err rejects an operation for the job's current status.
func IsInvalidState(err error) bool {
	return IsCode(err, CodeInvalidState)
}

// IsInvalidTarget reports whether err rejects a malformed target.
func IsInvalidTarget(err error) bool {
	return IsCode(err, CodeTargetInvalid)
}

// HTTPStatus maps an error to the HTTP status code the API reports for it.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeTargetInvalid, CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for a malformed scan target.
func ErrInvalidTarget(target string) *JobError {
	return &JobError{Code: CodeTargetInvalid, Message: "Invalid IP address", Target: target}
}

// ErrJobNotFound creates an error for an unknown job id.
func ErrJobNotFound(jobID string) *JobError {
	return &JobError{Code: CodeNotFound, Message: "Scan not found", JobID: jobID}
}

// ErrJobNotRunning creates an error for an abort of a job that is not running.
func ErrJobNotRunning(jobID, status string) *JobError {
	return &JobError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("Scan is not running (status: %s)", status),
		JobID:   jobID,
	}
}

// ErrScanFailed creates an error describing a scan adapter failure.
func ErrScanFailed(target string, err error) *JobError {
	return &JobError{Code: CodeScanFailed, Message: "Scan failed", Target: target, Cause: err}
}

// ErrUnavailable creates an error for operations rejected during shutdown.
func ErrUnavailable(message string) *JobError {
	return &JobError{Code: CodeUnavailable, Message: message}
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
