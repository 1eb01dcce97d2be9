package domain

import "errors"

var (
	// ErrNotFound marks absent sessions, agents or pointers. Callers recover
	// by creating fresh state.
	ErrNotFound = errors.New("not found")

	// ErrGeneration marks a generation backend failure or timeout.
	ErrGeneration = errors.New("generation failed")

	// ErrValidation marks input rejected before reaching the orchestrator.
	ErrValidation = errors.New("validation failed")

	// ErrStorage marks an unreachable or failing persistent store.
	ErrStorage = errors.New("storage failure")
)
