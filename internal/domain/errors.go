package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ValidationError represents a malformed handle, label or payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input"
	}
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

// ConflictError represents a handle, label or identity that is already claimed.
type ConflictError struct {
	Resource string
	Key      string
}

func (e ConflictError) Error() string {
	if e.Resource == "" {
		return "conflict"
	}
	return fmt.Sprintf("%s %q already claimed", e.Resource, e.Key)
}

func (e ConflictError) Is(target error) bool {
	_, ok := target.(ConflictError)
	if ok {
		return true
	}
	_, ok = target.(*ConflictError)
	return ok
}

// TransportError wraps a send/join failure of the messaging transport.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

func (e TransportError) Is(target error) bool {
	_, ok := target.(TransportError)
	if ok {
		return true
	}
	_, ok = target.(*TransportError)
	return ok
}

// TimeoutError is raised when the remote directory exceeds its budget.
// It never reaches end users; callers fall back to cached data.
type TimeoutError struct {
	Op string
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e TimeoutError) Is(target error) bool {
	_, ok := target.(TimeoutError)
	if ok {
		return true
	}
	_, ok = target.(*TimeoutError)
	return ok
}

// Sentinels for errors.Is matching.
var (
	ErrNotFound   = NotFoundError{}
	ErrValidation = ValidationError{}
	ErrConflict   = ConflictError{}
	ErrTransport  = TransportError{}
	ErrTimeout    = TimeoutError{}
)

// ExhaustedError means every value of a finite space is claimed. It also
// matches ConflictError.
type ExhaustedError struct {
	Resource string
}

func (e ExhaustedError) Error() string {
	return fmt.Sprintf("no free %s left", e.Resource)
}

func (e ExhaustedError) Is(target error) bool {
	switch target.(type) {
	case ExhaustedError, *ExhaustedError, ConflictError, *ConflictError:
		return true
	}
	return false
}

// ErrHandlesExhausted is returned when no handle in the space is free.
var ErrHandlesExhausted = ExhaustedError{Resource: "handle"}
