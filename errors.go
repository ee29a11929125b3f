// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package drawingarea

import "errors"

// Errors.
var (
	// ErrNoBackendAvailable is returned when no drawing area backends are
	// registered or none can serve the given parameters.
	ErrNoBackendAvailable = errors.New("drawingarea: no backend available")

	// ErrIncompatibleArea is matched by every *IncompatibleAreaError.
	ErrIncompatibleArea = errors.New("drawingarea: incompatible drawing area")

	// ErrNoLoop is returned when Parameters carry no run loop.
	ErrNoLoop = errors.New("drawingarea: no run loop")

	// ErrNoConnection is returned by backends that need a transport when
	// Parameters carry none.
	ErrNoConnection = errors.New("drawingarea: no connection")

	// ErrNoTarget is returned by backends that composite locally when
	// Parameters carry no target image.
	ErrNoTarget = errors.New("drawingarea: no compositing target")

	// ErrClosed is returned by operations on a closed drawing area.
	ErrClosed = errors.New("drawingarea: closed")
)

// IncompatibleAreaError is returned when an area is asked to adopt state from
// a predecessor of a different backend.
type IncompatibleAreaError struct {
	Want Kind
	Got  Kind
}

func (e *IncompatibleAreaError) Error() string {
	return "drawingarea: cannot adopt from " + e.Got.String() + " area into " + e.Want.String() + " area"
}

// Is reports whether target is ErrIncompatibleArea.
func (e *IncompatibleAreaError) Is(target error) bool {
	return target == ErrIncompatibleArea
}

// BackendNotFoundError indicates a backend kind is not registered.
type BackendNotFoundError struct {
	Kind Kind
}

func (e *BackendNotFoundError) Error() string {
	return "drawingarea: backend not found: " + e.Kind.String()
}

// BackendUnavailableError indicates a backend exists but is not available.
type BackendUnavailableError struct {
	Kind Kind
}

func (e *BackendUnavailableError) Error() string {
	return "drawingarea: backend unavailable: " + e.Kind.String()
}
