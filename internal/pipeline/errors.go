package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariant marks a violated stage contract, such as an encoder
	// emitting more than one packet per tick
	ErrInvariant = errors.New("pipeline invariant violated")

	ErrInitialized    = errors.New("pipeline already initialized")
	ErrNotInitialized = errors.New("pipeline not initialized")
	ErrRunning        = errors.New("pipeline already running")
	ErrStopped        = errors.New("pipeline stopped")
	ErrUnknownKind    = errors.New("unknown stage kind")

	// ErrFieldSet is returned when a context field is written twice
	ErrFieldSet = errors.New("context field already set")
)

// InitError is returned when a stage fails to initialize. The pipeline stays
// uninitialized.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize stage %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ProcessError is a fatal error raised while a stage processed a tick. It
// terminates the execution goroutine.
type ProcessError struct {
	Stage string
	Err   error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
