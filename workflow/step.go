package workflow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/xraph/loom"
	"github.com/xraph/loom/backoff"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/schema"
)

// ExecuteFunc is the execution contract of a step. It returns the step's
// output, or signals an alternate outcome by returning the error from
// StepContext.Suspend or StepContext.Bail. Any other non-nil error marks
// the step failed.
type ExecuteFunc func(ctx context.Context, sc *StepContext) (any, error)

// StepConfig configures a new step.
type StepConfig struct {
	// ID uniquely identifies the step within a graph. Required.
	ID string

	// Description is optional human-readable documentation.
	Description string

	InputSchema   schema.Schema
	OutputSchema  schema.Schema
	SuspendSchema schema.Schema
	ResumeSchema  schema.Schema
	StateSchema   schema.Schema

	// Retries is the number of times a failed execution is re-attempted
	// before the step settles as failed. Zero means no retries.
	// Suspension, bail, tripwire, and cancellation are never retried.
	Retries int

	// RetryBackoff computes the delay before each retry attempt. Nil
	// with Retries > 0 uses backoff.DefaultStrategy.
	RetryBackoff backoff.Strategy

	// Execute is the step body. Required.
	Execute ExecuteFunc
}

// Step is an immutable atomic unit of work with typed input and output.
// Create one with NewStep; the zero value is not usable.
type Step struct {
	id            string
	description   string
	inputSchema   schema.Schema
	outputSchema  schema.Schema
	suspendSchema schema.Schema
	resumeSchema  schema.Schema
	stateSchema   schema.Schema
	retries       int
	retryBackoff  backoff.Strategy
	execute       ExecuteFunc
}

// NewStep validates the config and returns an immutable step definition.
func NewStep(cfg StepConfig) (*Step, error) {
	if cfg.ID == "" {
		return nil, &loom.DefinitionError{Reason: "step id is required"}
	}
	// "." is reserved for addressing steps inside nested workflows.
	if strings.Contains(cfg.ID, ".") {
		return nil, &loom.DefinitionError{Reason: "step " + cfg.ID + ": id must not contain '.'"}
	}
	if cfg.Execute == nil {
		return nil, &loom.DefinitionError{Reason: "step " + cfg.ID + ": execute function is required"}
	}
	if cfg.Retries < 0 {
		return nil, &loom.DefinitionError{Reason: "step " + cfg.ID + ": negative retry count"}
	}
	bo := cfg.RetryBackoff
	if bo == nil && cfg.Retries > 0 {
		bo = backoff.DefaultStrategy()
	}
	return &Step{
		id:            cfg.ID,
		description:   cfg.Description,
		inputSchema:   cfg.InputSchema,
		outputSchema:  cfg.OutputSchema,
		suspendSchema: cfg.SuspendSchema,
		resumeSchema:  cfg.ResumeSchema,
		stateSchema:   cfg.StateSchema,
		retries:       cfg.Retries,
		retryBackoff:  bo,
		execute:       cfg.Execute,
	}, nil
}

// MustStep is like NewStep but panics on invalid config. Use for steps
// declared at package init time.
func MustStep(cfg StepConfig) *Step {
	s, err := NewStep(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// ID returns the step's unique identifier.
func (s *Step) ID() string { return s.id }

// Description returns the step's documentation string.
func (s *Step) Description() string { return s.description }

// InputSchema returns the step's declared input schema (may be nil).
func (s *Step) InputSchema() schema.Schema { return s.inputSchema }

// OutputSchema returns the step's declared output schema (may be nil).
func (s *Step) OutputSchema() schema.Schema { return s.outputSchema }

// ResumeSchema returns the step's declared resume-payload schema (may be nil).
func (s *Step) ResumeSchema() schema.Schema { return s.resumeSchema }

// Executable is anything that can occupy a step position in a graph:
// a *Step, or a committed *Definition executed as a nested workflow
// (its step id equals the workflow id).
type Executable interface {
	// ExecID is the step id the executable is addressed by in results,
	// snapshots, and events.
	ExecID() string

	isExecutable()
}

func (s *Step) isExecutable() {}

// ExecID implements Executable.
func (s *Step) ExecID() string { return s.id }

// ──────────────────────────────────────────────────
// Step execution context
// ──────────────────────────────────────────────────

// stateSink receives user-state writes. The run's own state is the usual
// sink; foreach batches substitute a buffer that is merged back only
// after the batch settles.
type stateSink interface {
	snapshotState() map[string]any
	mergeState(partial map[string]any)
}

// EventWriter receives custom values written by a step via
// StepContext.Write. The streaming run surface implements it; non-
// streaming runs discard writes.
type EventWriter interface {
	WriteStepOutput(stepID string, value any)
}

// StepContext is the execution context passed to a step's Execute
// function. It exposes the resolved input, user state, the request
// context, resume data, suspension and early-termination signals, and
// cooperative cancellation.
type StepContext struct {
	runID      id.RunID
	workflowID string
	stepID     string
	input      any
	resumeData any
	initData   any
	state      stateSink
	reqCtx     *RequestContext
	results    *resultSet
	cancel     *CancelToken
	writer     EventWriter
	logger     *slog.Logger
	host       any

	suspendSchema schema.Schema
}

// Input returns the step's resolved input: the predecessor's output, the
// result of an intervening map, or the workflow input for the first node.
func (sc *StepContext) Input() any { return sc.input }

// ResumeData returns the caller-supplied data when this step is being
// resumed after suspension, or nil on a cold execution.
func (sc *StepContext) ResumeData() any { return sc.resumeData }

// RunID returns the identifier of the executing run.
func (sc *StepContext) RunID() id.RunID { return sc.runID }

// WorkflowID returns the id of the workflow definition being executed.
func (sc *StepContext) WorkflowID() string { return sc.workflowID }

// Logger returns the run's logger.
func (sc *StepContext) Logger() *slog.Logger { return sc.logger }

// Host returns the host instance the run was created with (for example
// the engine), or nil.
func (sc *StepContext) Host() any { return sc.host }

// State returns a copy of the user state object.
func (sc *StepContext) State() map[string]any { return sc.state.snapshotState() }

// SetState merges the partial object into the user state. Inside a
// foreach batch the write is buffered and committed only after the batch
// settles.
func (sc *StepContext) SetState(partial map[string]any) { sc.state.mergeState(partial) }

// RequestContext returns the run's shared key/value propagation channel.
func (sc *StepContext) RequestContext() *RequestContext { return sc.reqCtx }

// GetInitData returns the workflow's initial input data.
func (sc *StepContext) GetInitData() any { return sc.initData }

// GetStepResult returns the recorded result of a previously executed step.
func (sc *StepContext) GetStepResult(stepID string) (*StepResult, bool) {
	return sc.results.get(stepID)
}

// Suspend halts the walk at this step. The payload is validated against
// the step's suspend schema and recorded in the snapshot; the run ends
// with status suspended and can be re-entered with Resume. The returned
// error must be returned from Execute.
func (sc *StepContext) Suspend(payload any) error {
	if sc.suspendSchema != nil {
		if err := sc.suspendSchema.Validate(payload); err != nil {
			return &loom.ValidationError{WorkflowID: sc.workflowID, StepID: sc.stepID, Cause: err}
		}
	}
	return &suspendSignal{stepID: sc.stepID, payload: payload}
}

// Bail ends the entire run successfully with output as the final result,
// skipping all remaining nodes. The returned error must be returned from
// Execute.
func (sc *StepContext) Bail(output any) error {
	return &bailSignal{output: output}
}

// Abort triggers the run's cancellation signal. The engine will not
// schedule further nodes; in-flight step code keeps running until it
// observes the signal.
func (sc *StepContext) Abort() { sc.cancel.Cancel() }

// AbortSignal returns a channel closed when the run is canceled.
func (sc *StepContext) AbortSignal() <-chan struct{} { return sc.cancel.Done() }

// Write emits a custom value into the run's event stream. Writes are
// discarded when the run is not being streamed.
func (sc *StepContext) Write(value any) {
	if sc.writer != nil {
		sc.writer.WriteStepOutput(sc.stepID, value)
	}
}

// ──────────────────────────────────────────────────
// Control-flow signals
// ──────────────────────────────────────────────────

// suspendSignal is returned (as an error) from StepContext.Suspend and
// recognized by the interpreter. The path is filled in as the signal
// propagates up the node tree.
type suspendSignal struct {
	stepID  string
	payload any
	path    Path
}

func (s *suspendSignal) Error() string {
	return "workflow: step " + s.stepID + " suspended"
}

// bailSignal is returned (as an error) from StepContext.Bail and
// recognized by the interpreter.
type bailSignal struct {
	output any
}

func (s *bailSignal) Error() string {
	return "workflow: run bailed"
}
