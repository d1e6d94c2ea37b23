package manager

import "fmt"

type modelNotFoundError struct{ id string }

func (e *modelNotFoundError) Error() string { return fmt.Sprintf("model not found: %s", e.id) }

// ErrModelNotFound constructs the error for an unknown model ID.
func ErrModelNotFound(id string) error { return &modelNotFoundError{id: id} }

// IsModelNotFound reports whether err indicates an unknown model ID.
func IsModelNotFound(err error) bool {
	_, ok := err.(*modelNotFoundError)
	return ok
}

type modelUnavailableError struct {
	id     string
	status Status
}

func (e *modelUnavailableError) Error() string {
	return fmt.Sprintf("model %s is not ready (status %s)", e.id, e.status)
}

// ErrModelUnavailable constructs the error for an instance in a
// non-routable state.
func ErrModelUnavailable(id string, status Status) error {
	return &modelUnavailableError{id: id, status: status}
}

// IsModelUnavailable reports whether err indicates an instance that exists
// but cannot take traffic right now.
func IsModelUnavailable(err error) bool {
	_, ok := err.(*modelUnavailableError)
	return ok
}

type alreadyRunningError struct{ id string }

func (e *alreadyRunningError) Error() string {
	return fmt.Sprintf("instance %s is already running", e.id)
}

// IsAlreadyRunning reports whether err indicates a start of a live instance.
func IsAlreadyRunning(err error) bool {
	_, ok := err.(*alreadyRunningError)
	return ok
}

type operationInProgressError struct{ id string }

func (e *operationInProgressError) Error() string {
	return fmt.Sprintf("another operation on %s is in progress", e.id)
}

// IsOperationInProgress reports whether err indicates a concurrent
// start/restart on the same instance.
func IsOperationInProgress(err error) bool {
	_, ok := err.(*operationInProgressError)
	return ok
}

type portExhaustedError struct {
	base   int
	window int
}

func (e *portExhaustedError) Error() string {
	return fmt.Sprintf("no free port in range %d-%d", e.base, e.base+e.window-1)
}

// IsPortExhausted reports whether err indicates the port window is full.
func IsPortExhausted(err error) bool {
	_, ok := err.(*portExhaustedError)
	return ok
}

type healthTimeoutError struct {
	id      string
	timeout string
}

func (e *healthTimeoutError) Error() string {
	return fmt.Sprintf("instance %s did not become healthy within %s", e.id, e.timeout)
}

// IsHealthTimeout reports whether err indicates a startup health deadline
// that expired.
func IsHealthTimeout(err error) bool {
	_, ok := err.(*healthTimeoutError)
	return ok
}

type processExitedError struct {
	id  string
	err error
}

func (e *processExitedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("instance %s exited during startup: %v", e.id, e.err)
	}
	return fmt.Sprintf("instance %s exited during startup", e.id)
}

func (e *processExitedError) Unwrap() error { return e.err }

// IsProcessExited reports whether err indicates the child died before it
// ever answered a health probe.
func IsProcessExited(err error) bool {
	_, ok := err.(*processExitedError)
	return ok
}
