package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrInvalidConfiguration", ErrInvalidConfiguration, "invalid configuration"},
		{"ErrPoolClosed", ErrPoolClosed, "worker pool is closed"},
		{"ErrNilTask", ErrNilTask, "task cannot be nil"},
		{"ErrTimeout", ErrTimeout, "operation timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err: &ValidationError{
				Module: "workerpool",
				Field:  "size",
				Value:  -1,
				Reason: "must be positive",
			},
			want: "workerpool: invalid size=-1 (must be positive)",
		},
		{
			name: "with hint",
			err: &ValidationError{
				Module: "workerpool",
				Field:  "size",
				Value:  0,
				Reason: "must be positive",
				Hint:   "use a value greater than 0",
			},
			want: "workerpool: invalid size=0 (must be positive) - use a value greater than 0",
		},
		{
			name: "string value",
			err: &ValidationError{
				Module: "probe",
				Field:  "address",
				Value:  "",
				Reason: "cannot be empty",
			},
			want: "probe: invalid address= (cannot be empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	verr := NewValidationError("test", "field", 0, "test")

	if verr.Unwrap() != ErrInvalidConfiguration {
		t.Errorf("Unwrap() = %v, want ErrInvalidConfiguration", verr.Unwrap())
	}
	if !errors.Is(verr, ErrInvalidConfiguration) {
		t.Error("ValidationError should wrap ErrInvalidConfiguration")
	}
}

func TestValidationError_WithHint(t *testing.T) {
	err := NewValidationError("test", "field", 0, "invalid").
		WithHint("try using a positive value")

	if err.Hint != "try using a positive value" {
		t.Errorf("Hint = %q, want %q", err.Hint, "try using a positive value")
	}

	result := err.WithHint("new hint")
	if result != err {
		t.Error("WithHint should return the same instance")
	}
}

func TestOperationError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewOperationError("probe", "dial", cause).WithContext("localhost:8010")

	want := "probe.dial failed: connection refused (localhost:8010)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("OperationError should wrap the cause error")
	}

	bare := NewOperationError("probe", "read", cause)
	if got := bare.Error(); got != "probe.read failed: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTaskError(t *testing.T) {
	cause := errors.New("boom")

	t.Run("failure", func(t *testing.T) {
		err := &TaskError{TaskID: 7, WorkerID: 2, Err: cause}
		if !strings.Contains(err.Error(), "task 7 failed on worker 2") {
			t.Errorf("unexpected message %q", err.Error())
		}
		if !errors.Is(err, cause) {
			t.Error("TaskError should wrap its cause")
		}
		if IsTaskPanic(err) {
			t.Error("plain failure reported as panic")
		}
	})

	t.Run("panic", func(t *testing.T) {
		err := &TaskError{TaskID: 1, Err: cause, Panicked: true, Stack: "stack"}
		if !strings.Contains(err.Error(), "panicked") {
			t.Errorf("unexpected message %q", err.Error())
		}
		if !IsTaskPanic(err) {
			t.Error("IsTaskPanic should detect panics")
		}
	})
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation error", NewValidationError("test", "field", 0, "test"), true},
		{"wrapped validation error", &OperationError{Cause: NewValidationError("test", "field", 0, "test")}, true},
		{"operation error", &OperationError{Cause: errors.New("test")}, false},
		{"sentinel", ErrInvalidConfiguration, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationError(tt.err); got != tt.want {
				t.Errorf("IsValidationError() = %v, want %v", got, tt.want)
			}
		})
	}
}
