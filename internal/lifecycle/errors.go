package lifecycle

import "fmt"

// ValidationError rejects a transition before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// CriticalError is an unexpected failure inside the notification step. The
// business action that triggered it has already been committed.
type CriticalError struct {
	Action string
	Err    error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("notification for %s failed unexpectedly (the %s itself was completed): %v", e.Action, e.Action, e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }
