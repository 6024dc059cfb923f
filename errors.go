package loom

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore          = errors.New("loom: no snapshot store configured")
	ErrStoreClosed      = errors.New("loom: store closed")
	ErrSnapshotNotFound = errors.New("loom: snapshot not found")

	// Not found errors.
	ErrWorkflowNotFound = errors.New("loom: workflow not registered")
	ErrRunNotFound      = errors.New("loom: run not found")
	ErrStepNotFound     = errors.New("loom: step not found")

	// State errors.
	ErrNotSuspended = errors.New("loom: run is not suspended")
	ErrNotRunning   = errors.New("loom: run is not running")
)

// DefinitionError reports construction-time misuse of the workflow builder
// API: committing a workflow with no execution flow, duplicate step ids,
// statically incompatible schemas, or executing an uncommitted graph.
// These surface synchronously from Commit or CreateRun, never mid-run.
type DefinitionError struct {
	WorkflowID string
	Reason     string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("loom: workflow %q: %s", e.WorkflowID, e.Reason)
}

// ValidationError reports a schema mismatch on workflow input, a step's
// resolved input, or suspend/resume payloads. The underlying validation
// issues are carried as the wrapped cause.
type ValidationError struct {
	WorkflowID string
	StepID     string // empty for workflow-level input validation
	Cause      error
}

func (e *ValidationError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("loom: workflow %q: input validation failed: %v", e.WorkflowID, e.Cause)
	}
	return fmt.Sprintf("loom: workflow %q step %q: input validation failed: %v", e.WorkflowID, e.StepID, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// StepExecutionError reports that a step's Execute function returned an
// error. The original error is carried as the wrapped cause.
type StepExecutionError struct {
	WorkflowID string
	StepID     string
	Cause      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("loom: workflow %q step %q: %v", e.WorkflowID, e.StepID, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

// TripwireError is a deliberate abort signaled by a step: refused on
// purpose, not a bug. Runs terminated by a tripwire end with a distinct
// terminal status so callers can tell intentional refusal apart from
// failure.
type TripwireError struct {
	Reason      string
	Retry       bool
	Metadata    map[string]any
	ProcessorID string
}

func (e *TripwireError) Error() string {
	return fmt.Sprintf("loom: tripwire: %s", e.Reason)
}

// NewTripwire creates a TripwireError with the given reason.
func NewTripwire(reason string) *TripwireError {
	return &TripwireError{Reason: reason}
}

// AbortError reports that a run was canceled, either via Run.Cancel, a
// step calling Abort, or an externally supplied signal. Cancellation is
// cooperative: in-flight step code is never forcibly stopped.
type AbortError struct {
	RunID string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("loom: run %s aborted", e.RunID)
}
