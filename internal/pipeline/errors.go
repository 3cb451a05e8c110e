package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateStage is returned when a stage key is registered twice.
	ErrDuplicateStage = errors.New("pipeline: duplicate stage")

	// ErrUnknownStage is returned when a stage key is not in the registry,
	// or a requested start stage is not in the enabled set.
	ErrUnknownStage = errors.New("pipeline: unknown stage")

	// ErrMissingDependency is returned when an enabled stage requires a
	// stage that is unknown or disabled. Detected before any stage runs.
	ErrMissingDependency = errors.New("pipeline: missing dependency")

	// ErrCyclicDependency is returned when the requires graph contains a
	// cycle. Detected before any stage runs.
	ErrCyclicDependency = errors.New("pipeline: cyclic dependency")

	// ErrUndeclaredOutput is returned when a stage writes a call output key
	// it did not declare.
	ErrUndeclaredOutput = errors.New("pipeline: undeclared output key")
)

// StageError carries the failing stage and call so a re-run can resume from
// exactly the failing stage.
type StageError struct {
	Stage  string
	CallID string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (call %s): %v", e.Stage, e.CallID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
