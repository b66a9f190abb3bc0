package oncez

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConstructionError provides rich context about a failed constructor run.
// It wraps the underlying error with the type that was being built, when
// the attempt happened, how long it ran, and whether the constructor
// panicked or was canceled. A ConstructionError always means nothing was
// cached: the next Get for the same type starts from a clean state.
type ConstructionError struct {
	Timestamp time.Time
	Err       error
	TypeName  string
	Source    Name
	Duration  time.Duration
	Panicked  bool
	Canceled  bool
}

// Error implements the error interface, providing a detailed error message.
func (e *ConstructionError) Error() string {
	location := fmt.Sprintf("constructing %s in %q", e.TypeName, e.Source)

	if e.Panicked {
		return fmt.Sprintf("%s panicked after %v: %v", location, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error, supporting error wrapping patterns.
func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// IsPanic returns true if the constructor panicked rather than returning
// an error.
func (e *ConstructionError) IsPanic() bool {
	return e.Panicked
}

// IsCanceled returns true if the failure was caused by context
// cancellation or deadline expiry.
func (e *ConstructionError) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}
