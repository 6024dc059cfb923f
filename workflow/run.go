package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
)

// Run is one execution instance of a workflow. The in-memory object is
// transient; its snapshot is durable and outlives the process. All run
// operations funnel into the same interpreter.
type Run struct {
	id         id.RunID
	def        *Definition
	store      SnapshotStore
	emitter    Emitter
	logger     *slog.Logger
	cancel     *CancelToken
	reqCtx     *RequestContext
	resourceID string
	host       any

	state   *runState
	results *resultSet

	mu             sync.Mutex
	status         Status
	initData       any
	suspendedPaths map[string]Path
	executing      bool
}

// ID returns the run identifier.
func (r *Run) ID() id.RunID { return r.id }

// WorkflowID returns the id of the workflow definition being executed.
func (r *Run) WorkflowID() string { return r.def.cfg.ID }

// Definition returns the committed workflow definition.
func (r *Run) Definition() *Definition { return r.def }

// Status returns the run's current status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// RequestContext returns the run's key/value propagation channel.
func (r *Run) RequestContext() *RequestContext { return r.reqCtx }

// setStatus records a status transition. At most one non-terminal status
// holds at a time.
func (r *Run) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// hydrate rebinds the run to a persisted snapshot.
func (r *Run) hydrate(snap *Snapshot) {
	r.status = snap.Status
	r.initData = snap.InitData
	r.state = newRunState(snap.State)
	r.reqCtx = NewRequestContext(snap.RequestContext)
	r.results = newResultSet(snap.Context)
	r.suspendedPaths = snap.SuspendedPaths
}

// begin marks the run as executing, rejecting concurrent drivers.
func (r *Run) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executing {
		return fmt.Errorf("workflow %s: run %s is already executing", r.def.cfg.ID, r.id)
	}
	r.executing = true
	r.status = StatusRunning
	return nil
}

func (r *Run) end() {
	r.mu.Lock()
	r.executing = false
	r.mu.Unlock()
}

// Start validates the input, seeds the run context, and interprets the
// graph to completion, suspension, or cancellation. In-band outcomes
// (failure, suspension, tripwire, cancellation) are reported on the
// RunResult, never as a returned error.
func (r *Run) Start(ctx context.Context, input any) (*RunResult, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.end()

	return r.drive(ctx, &executor{run: r, input: input, seedInput: true}), nil
}

// Stream is Start with an ordered, single-pass event stream. Events are
// delivered in scheduling order; the finish event carries the terminal
// status. The stream result equals what Start would have returned.
func (r *Run) Stream(ctx context.Context, input any) (*Stream, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}

	stream := newStream()
	go func() {
		defer r.end()
		result := r.drive(ctx, &executor{run: r, input: input, seedInput: true, stream: stream})
		stream.finish(result, nil)
	}()
	return stream, nil
}

// ResumeOptions identifies the suspended step to re-enter and the data to
// hand it.
type ResumeOptions struct {
	// Step is the suspended step's id; for a step suspended inside a
	// nested workflow, the dotted id path ("nested-wf.step"). May be
	// empty when exactly one step is suspended.
	Step string

	// ResumeData is handed to the step via StepContext.ResumeData,
	// validated against the step's resume schema.
	ResumeData any
}

// Resume re-enters a suspended run at the recorded path, supplying
// ResumeData to the suspended step instead of re-invoking its suspension.
// Steps already marked success are replayed from the snapshot, not
// re-executed. Requires a suspended snapshot.
func (r *Run) Resume(ctx context.Context, opts ResumeOptions) (*RunResult, error) {
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	if r.Status() != StatusSuspended {
		return nil, fmt.Errorf("workflow %s: run %s: %w", r.def.cfg.ID, r.id, loom.ErrNotSuspended)
	}

	target, err := r.resolveResumeTarget(opts.Step)
	if err != nil {
		return nil, err
	}
	if err := r.validateResumeData(target, opts.ResumeData); err != nil {
		return nil, err
	}

	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.end()

	return r.drive(ctx, &executor{
		run:          r,
		resumeTarget: strings.Split(target, "."),
		resumeData:   opts.ResumeData,
	}), nil
}

// Restart re-enters a run whose process died mid-execution: its snapshot
// is still in status running. Steps already recorded success are never
// re-invoked; the step that was in flight at crash time is re-executed
// (its fate is unknown), then the walk continues forward. Unlike Resume,
// Restart supplies no caller data.
func (r *Run) Restart(ctx context.Context) (*RunResult, error) {
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	if r.Status() != StatusRunning {
		return nil, fmt.Errorf("workflow %s: run %s: %w", r.def.cfg.ID, r.id, loom.ErrNotRunning)
	}

	// The in-flight step's fate is unknown: drop its partial result so
	// the interpreter re-executes it instead of replaying.
	dropRunning(r.results)

	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.end()

	return r.drive(ctx, &executor{run: r}), nil
}

// Cancel triggers the run's cancellation signal. A currently executing
// run settles as canceled at the next scheduler boundary; a suspended run
// transitions directly to canceled without resuming. Hooks still fire.
func (r *Run) Cancel(ctx context.Context) error {
	r.cancel.Cancel()

	r.mu.Lock()
	idle := !r.executing
	suspended := r.status == StatusSuspended
	terminal := r.status.Terminal()
	if idle && !terminal {
		r.status = StatusCanceled
	}
	r.mu.Unlock()

	if !idle || terminal {
		return nil
	}

	if suspended && r.store != nil {
		if err := r.persistSnapshot(ctx, StatusCanceled, nil, ""); err != nil {
			return err
		}
	}
	r.emitter.EmitRunCanceled(ctx, r)
	r.fireFinish(ctx, StatusCanceled)
	return nil
}

// drive executes the interpreter, handles status bookkeeping, snapshot
// persistence, lifecycle emission, and callbacks.
func (r *Run) drive(ctx context.Context, exec *executor) *RunResult {
	// Propagate external context cancellation into the run's token.
	stop := context.AfterFunc(ctx, r.cancel.Cancel)
	defer stop()

	start := time.Now()
	r.emitter.EmitRunStarted(ctx, r)
	exec.emitEvent(Event{Type: EventStart, Timestamp: time.Now().UTC()})

	result := exec.execute(ctx)
	elapsed := time.Since(start)
	r.setStatus(result.Status)

	r.maybePersist(ctx, result)

	switch result.Status {
	case StatusSuccess:
		r.emitter.EmitRunCompleted(ctx, r, elapsed)
	case StatusFailed:
		r.emitter.EmitRunFailed(ctx, r, result.Err)
	case StatusSuspended:
		r.emitter.EmitRunSuspended(ctx, r)
	case StatusCanceled:
		r.emitter.EmitRunCanceled(ctx, r)
	case StatusTripwire:
		r.emitter.EmitRunFailed(ctx, r, result.Tripwire)
	}

	exec.emitEvent(Event{
		Type:      EventFinish,
		Status:    result.Status,
		Output:    result.Result,
		Timestamp: time.Now().UTC(),
	})

	if result.Status == StatusFailed && r.def.cfg.OnError != nil {
		r.def.cfg.OnError(ctx, r.callbackInfo(result.Status), result.Err)
	}
	if result.Status.Terminal() {
		r.fireFinish(ctx, result.Status)
	}

	return result
}

// maybePersist writes the snapshot according to the persistence policy:
// always on suspension, otherwise only when ShouldPersistSnapshot
// approves the new status.
func (r *Run) maybePersist(ctx context.Context, result *RunResult) {
	if r.store == nil {
		return
	}
	should := result.Status == StatusSuspended
	if !should && r.def.cfg.ShouldPersistSnapshot != nil {
		should = r.def.cfg.ShouldPersistSnapshot(result.Status)
	}
	if !should {
		return
	}
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	if err := r.persistSnapshot(ctx, result.Status, result.Result, errMsg); err != nil {
		r.logger.Error("failed to persist snapshot",
			slog.String("run_id", r.id.String()),
			slog.String("workflow", r.def.cfg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// persistSnapshot writes the run's current progress to the store.
func (r *Run) persistSnapshot(ctx context.Context, status Status, result any, errMsg string) error {
	r.mu.Lock()
	suspended := make(map[string]Path, len(r.suspendedPaths))
	for k, v := range r.suspendedPaths {
		suspended[k] = v
	}
	initData := r.initData
	r.mu.Unlock()

	active := make([]Path, 0, len(suspended))
	for _, p := range suspended {
		active = append(active, p)
	}

	snap := &Snapshot{
		RunID:               r.id.String(),
		WorkflowID:          r.def.cfg.ID,
		Status:              status,
		Context:             r.results.snapshot(),
		ActivePaths:         active,
		SuspendedPaths:      suspended,
		InitData:            initData,
		State:               r.state.snapshotState(),
		RequestContext:      r.reqCtx.Snapshot(),
		Result:              result,
		Error:               errMsg,
		SerializedStepGraph: r.def.serialized,
		Timestamp:           time.Now().UTC(),
	}
	if err := r.store.PersistWorkflowSnapshot(ctx, r.def.cfg.ID, r.id, snap); err != nil {
		return fmt.Errorf("workflow %s: persist snapshot for run %s: %w", r.def.cfg.ID, r.id, err)
	}
	return nil
}

// reload refreshes the run from its persisted snapshot when a store is
// configured and the in-memory object is cold (created without binding).
func (r *Run) reload(ctx context.Context) error {
	r.mu.Lock()
	executing := r.executing
	r.mu.Unlock()
	if executing {
		return fmt.Errorf("workflow %s: run %s is already executing", r.def.cfg.ID, r.id)
	}
	if r.store == nil {
		return nil
	}
	snap, err := r.store.LoadWorkflowSnapshot(ctx, r.def.cfg.ID, r.id)
	if err != nil {
		if errors.Is(err, loom.ErrSnapshotNotFound) {
			return nil
		}
		return fmt.Errorf("workflow %s: load snapshot for run %s: %w", r.def.cfg.ID, r.id, err)
	}
	r.hydrate(snap)
	return nil
}

// resolveResumeTarget picks the suspended step to re-enter. An empty
// requested id is allowed only when exactly one step is suspended.
func (r *Run) resolveResumeTarget(requested string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requested != "" {
		if _, ok := r.suspendedPaths[requested]; ok {
			return requested, nil
		}
		return "", fmt.Errorf("workflow %s: step %q is not suspended in run %s: %w",
			r.def.cfg.ID, requested, r.id, loom.ErrStepNotFound)
	}
	if len(r.suspendedPaths) == 1 {
		for key := range r.suspendedPaths {
			return key, nil
		}
	}
	return "", fmt.Errorf("workflow %s: run %s has %d suspended steps; ResumeOptions.Step is required",
		r.def.cfg.ID, r.id, len(r.suspendedPaths))
}

// validateResumeData checks the payload against the target step's resume
// schema. The run state is untouched on failure.
func (r *Run) validateResumeData(target string, data any) error {
	segments := strings.Split(target, ".")
	def := r.def
	for i, segment := range segments {
		exec, ok := def.steps[segment]
		if !ok {
			return nil
		}
		if nested, isDef := exec.(*Definition); isDef && i < len(segments)-1 {
			def = nested
			continue
		}
		if rs := execResumeSchema(exec); rs != nil {
			if err := rs.Validate(data); err != nil {
				return &loom.ValidationError{WorkflowID: r.def.cfg.ID, StepID: target, Cause: err}
			}
		}
		return nil
	}
	return nil
}

// fireFinish invokes the OnFinish callback, if configured.
func (r *Run) fireFinish(ctx context.Context, status Status) {
	if r.def.cfg.OnFinish == nil {
		return
	}
	r.def.cfg.OnFinish(ctx, r.callbackInfo(status))
}

func (r *Run) callbackInfo(status Status) *CallbackInfo {
	r.mu.Lock()
	initData := r.initData
	r.mu.Unlock()
	return &CallbackInfo{
		RunID:          r.id.String(),
		WorkflowID:     r.def.cfg.ID,
		Status:         status,
		State:          r.state.snapshotState(),
		ResourceID:     r.resourceID,
		InitData:       initData,
		Logger:         r.logger,
		RequestContext: r.reqCtx.Snapshot(),
		Host:           r.host,
	}
}

// dropRunning removes partial results recorded as running, including
// inside nested workflow results, so Restart re-executes them.
func dropRunning(rs *resultSet) {
	for stepID, result := range rs.snapshot() {
		if result.Status == StepRunning {
			rs.delete(stepID)
			continue
		}
		if len(result.Steps) > 0 {
			pruneRunning(result.Steps)
			rs.set(stepID, result)
		}
	}
}

func pruneRunning(steps map[string]*StepResult) {
	for stepID, result := range steps {
		if result.Status == StepRunning {
			delete(steps, stepID)
			continue
		}
		if len(result.Steps) > 0 {
			pruneRunning(result.Steps)
		}
	}
}
