package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by Subscribe after Stop or after Run returned.
	ErrStopped = errors.New("engine: stopped")

	// ErrNilObserver is returned by Subscribe when given no observer.
	ErrNilObserver = errors.New("engine: nil observer")
)

// ObserverError records one failed delivery. An observer that returned an
// error or panicked is reported through this type; delivery to the other
// observers is unaffected.
type ObserverError struct {
	Observer uint64
	Panic    any
	Err      error
}

// Error implements the error interface.
func (e *ObserverError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("observer %d panicked: %v", e.Observer, e.Panic)
	}
	return fmt.Sprintf("observer %d: %v", e.Observer, e.Err)
}

// Unwrap returns the observer's own error.
func (e *ObserverError) Unwrap() error {
	return e.Err
}

// IsObserverPanic reports whether err records an observer panic.
// Uses errors.As to handle wrapped errors.
func IsObserverPanic(err error) bool {
	var oe *ObserverError
	if errors.As(err, &oe) {
		return oe.Panic != nil
	}
	return false
}
