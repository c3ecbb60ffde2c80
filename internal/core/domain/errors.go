package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for unknown connection, alert or mapping ids.
	ErrNotFound = errors.New("not found")

	// ErrNetwork is returned by a manual test that failed to reach the API.
	ErrNetwork = errors.New("network error")

	// ErrTimeout is returned by a manual test that exceeded the probe timeout.
	ErrTimeout = errors.New("probe timed out")

	// ErrConfig is returned when a probe cannot be built (bad credential reference).
	ErrConfig = errors.New("configuration error")

	// ErrAlreadyInProgress is returned when a manual test is already running.
	ErrAlreadyInProgress = errors.New("test already in progress")
)

// ValidationError reports bad input. It is always returned before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProbeError is returned by a failed manual test. The observation was recorded.
type ProbeError struct {
	ConnectionID string
	Kind         ErrorKind
	Message      string
	Observation  Observation
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s failed (%s): %s", e.ConnectionID, e.Kind, e.Message)
}

func (e *ProbeError) Unwrap() error {
	switch e.Kind {
	case ErrorKindTimeout:
		return ErrTimeout
	case ErrorKindConfig:
		return ErrConfig
	default:
		return ErrNetwork
	}
}
