package assetgo

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a path cannot be resolved to a loadable
	// location and fallbacks are disabled.
	ErrNotFound = errors.New("resource not found")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("resource manager closed")
)

// LoadError indicates a decode or construction failure for a resource.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type LoadError struct {
	Path  string
	Type  string
	cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s %q: %v", e.Type, e.Path, e.cause)
}

func (e *LoadError) Unwrap() error { return e.cause }

// ValidationError indicates malformed resource data detected after loading.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ValidationError struct {
	Path  string
	cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %q: %v", e.Path, e.cause)
}

func (e *ValidationError) Unwrap() error { return e.cause }
