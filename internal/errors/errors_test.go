package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeUnknown,
		CodeValidation,
		CodeConfiguration,
		CodeTimeout,
		CodeCanceled,
		CodeUnavailable,
		CodeTargetInvalid,
		CodeNotFound,
		CodeInvalidState,
		CodeScanFailed,
		CodeDeliveryFailed,
		CodeConflict,
		CodeDatabaseConnection,
		CodeDatabaseQuery,
		CodeDatabaseMigration,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if string(code) == "" {
			t.Errorf("Error code %v should not be empty", code)
		}
		if seen[code] {
			t.Errorf("Error code %s is duplicated", code)
		}
		seen[code] = true
	}
}

func TestJobError(t *testing.T) {
	t.Run("error with job id", func(t *testing.T) {
		err := ErrJobNotFound("abc")
		expected := "[NOT_FOUND] Scan not found (job: abc)"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("error with target", func(t *testing.T) {
		err := ErrInvalidTarget("not-an-ip")
		expected := "[TARGET_INVALID] Invalid IP address (target: not-an-ip)"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("error without context", func(t *testing.T) {
		err := NewJobError(CodeValidation, "validation failed")
		expected := "[VALIDATION] validation failed"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("wrapped error", func(t *testing.T) {
		cause := fmt.Errorf("nmap exited")
		err := ErrScanFailed("10.0.0.5", cause)
		if err.Unwrap() != cause {
			t.Error("Unwrap should return the cause")
		}
		if !errors.Is(err, cause) {
			t.Error("errors.Is should find the cause")
		}
	})
}

func TestDatabaseError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := ErrDatabaseConnection(cause)
	if err.Code != CodeDatabaseConnection {
		t.Errorf("Expected code %s, got %s", CodeDatabaseConnection, err.Code)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}

	err.Operation = "create job"
	expected := "[DATABASE_CONNECTION] Failed to connect to database (operation: create job)"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
}

func TestConfigError(t *testing.T) {
	err := ErrConfigInvalid("scanning.max_concurrent_scans", -1)
	if err.Field != "scanning.max_concurrent_scans" {
		t.Errorf("Expected field to be set, got '%s'", err.Field)
	}
	expected := "[VALIDATION] Invalid configuration value (field: scanning.max_concurrent_scans)"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"job error", ErrJobNotRunning("x", "completed"), CodeInvalidState},
		{"database error", NewDatabaseError(CodeNotFound, "missing"), CodeNotFound},
		{"config error", ErrConfigInvalid("a", 1), CodeValidation},
		{"wrapped job error", fmt.Errorf("abort: %w", ErrJobNotFound("x")), CodeNotFound},
		{"plain error", fmt.Errorf("boom"), CodeUnknown},
		{"nil error", nil, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("Expected code %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !IsNotFound(ErrJobNotFound("x")) {
		t.Error("IsNotFound should match NOT_FOUND")
	}
	if !IsInvalidState(ErrJobNotRunning("x", "queued")) {
		t.Error("IsInvalidState should match INVALID_STATE")
	}
	if !IsInvalidTarget(ErrInvalidTarget("x")) {
		t.Error("IsInvalidTarget should match TARGET_INVALID")
	}
	if IsCode(nil, CodeUnknown) {
		t.Error("IsCode should be false for nil errors")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrInvalidTarget("x"), http.StatusBadRequest},
		{ErrJobNotFound("x"), http.StatusNotFound},
		{ErrJobNotRunning("x", "queued"), http.StatusConflict},
		{ErrUnavailable("closing"), http.StatusServiceUnavailable},
		{NewJobError(CodeTimeout, "slow"), http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.status {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}
