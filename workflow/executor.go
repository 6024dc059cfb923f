package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/loom"
)

// errCanceled is the internal signal that the run's cancellation token
// fired. It never escapes the interpreter: the walk settles as a
// RunResult with status canceled.
var errCanceled = errors.New("workflow: run canceled")

// suspension aggregates the suspend signals raised during one walk.
// Concurrent blocks can suspend more than one step at a time.
type suspension struct {
	sigs []*suspendSignal
}

func (s *suspension) Error() string {
	if len(s.sigs) == 1 {
		return s.sigs[0].Error()
	}
	return fmt.Sprintf("workflow: %d steps suspended", len(s.sigs))
}

// scope is the execution frame of one graph: its definition, result map,
// state sink, and the remaining resume-target segments. Nested workflows
// push a child scope with their own result map.
type scope struct {
	def        *Definition
	results    *resultSet
	state      stateSink
	resume     []string
	resumeData any
}

// executor interprets a frozen graph against a run. One executor drives
// one Start, Resume, or Restart pass.
type executor struct {
	run       *Run
	input     any
	seedInput bool
	stream    *Stream

	resumeTarget []string
	resumeData   any
}

// execute walks the graph from the root and settles the run into a
// RunResult. All outcomes are in-band.
func (e *executor) execute(ctx context.Context) *RunResult {
	r := e.run
	cfg := r.def.cfg

	input := r.initData
	if e.seedInput {
		if cfg.ValidateInputs && cfg.InputSchema != nil {
			if err := cfg.InputSchema.Validate(e.input); err != nil {
				return e.settle(nil, &loom.ValidationError{WorkflowID: cfg.ID, Cause: err})
			}
		}
		r.mu.Lock()
		r.initData = e.input
		r.mu.Unlock()
		input = e.input
	}

	r.mu.Lock()
	r.suspendedPaths = make(map[string]Path)
	r.mu.Unlock()

	sc := &scope{
		def:        r.def,
		results:    r.results,
		state:      r.state,
		resume:     e.resumeTarget,
		resumeData: e.resumeData,
	}
	out, err := e.execSequence(ctx, sc, r.def.graph, input, Path{})

	if err == nil && cfg.ValidateInputs && cfg.OutputSchema != nil {
		if verr := cfg.OutputSchema.Validate(out); verr != nil {
			err = &loom.ValidationError{WorkflowID: cfg.ID, Cause: verr}
		}
	}
	return e.settle(out, err)
}

// settle classifies the walk's outcome into a RunResult.
func (e *executor) settle(out any, err error) *RunResult {
	r := e.run
	result := &RunResult{
		Steps: r.results.snapshot(),
		State: r.state.snapshotState(),
	}

	var (
		sus  *suspension
		bail *bailSignal
		trip *loom.TripwireError
	)
	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.Result = out
	case errors.As(err, &sus):
		result.Status = StatusSuspended
		suspended := make(map[string]Path, len(sus.sigs))
		for _, sig := range sus.sigs {
			suspended[sig.stepID] = sig.path
			result.Suspended = append(result.Suspended, sig.path)
		}
		result.SuspendPayload = sus.sigs[0].payload
		r.mu.Lock()
		r.suspendedPaths = suspended
		r.mu.Unlock()
	case errors.As(err, &bail):
		result.Status = StatusSuccess
		result.Result = bail.output
	case errors.Is(err, errCanceled):
		result.Status = StatusCanceled
	case errors.As(err, &trip):
		result.Status = StatusTripwire
		result.Tripwire = trip
	default:
		result.Status = StatusFailed
		result.Err = err
	}
	return result
}

// execSequence walks a graph's top-level nodes in order, threading each
// node's output into the next node's input.
func (e *executor) execSequence(ctx context.Context, sc *scope, nodes []*node, input any, path Path) (any, error) {
	current := input
	for i, n := range nodes {
		if e.run.cancel.Canceled() {
			return nil, errCanceled
		}
		out, err := e.execNode(ctx, sc, n, current, path.index(i))
		if err != nil {
			return nil, err
		}
		current = out
	}
	return current, nil
}

func (e *executor) execNode(ctx context.Context, sc *scope, n *node, input any, path Path) (any, error) {
	switch n.kind {
	case kindStep:
		return e.execExecutable(ctx, sc, n.exec, input, path, true)
	case kindParallel:
		return e.execParallel(ctx, sc, n, input, path)
	case kindBranch:
		return e.execBranch(ctx, sc, n, input, path)
	case kindLoop:
		return e.execLoop(ctx, sc, n, input, path)
	case kindForeach:
		return e.execForeach(ctx, sc, n, input, path)
	case kindMap:
		return e.execMap(ctx, sc, n, input)
	default:
		return nil, fmt.Errorf("workflow %s: unknown node kind %s", sc.def.cfg.ID, n.kind)
	}
}

// execExecutable runs one step or nested workflow, honoring the replay
// rule: a result recorded success is returned from the snapshot without
// re-invoking the executable, and a recorded suspension that is not the
// resume target re-raises itself untouched.
func (e *executor) execExecutable(ctx context.Context, sc *scope, exec Executable, input any, path Path, allowReplay bool) (any, error) {
	if e.run.cancel.Canceled() {
		return nil, errCanceled
	}

	stepID := exec.ExecID()
	resumeHere := len(sc.resume) > 0 && sc.resume[0] == stepID

	if allowReplay {
		if prior, ok := sc.results.get(stepID); ok {
			switch {
			case prior.Status == StepSuccess:
				return prior.Output, nil
			case prior.Status == StepSuspended && !resumeHere:
				sig := &suspendSignal{stepID: stepID, payload: prior.SuspendPayload, path: path}
				return nil, &suspension{sigs: []*suspendSignal{sig}}
			case prior.Status == StepSuspended && prior.Payload != nil:
				// Re-enter the suspended step with its original input.
				input = prior.Payload
			}
		}
	}

	switch x := exec.(type) {
	case *Step:
		return e.execStep(ctx, sc, x, input, path, resumeHere && len(sc.resume) == 1)
	case *Definition:
		return e.execNested(ctx, sc, x, input, path, resumeHere)
	default:
		return nil, fmt.Errorf("workflow %s: step %q has unsupported executable type %T", sc.def.cfg.ID, stepID, exec)
	}
}

// execStep invokes one atomic step and classifies its outcome.
func (e *executor) execStep(ctx context.Context, sc *scope, step *Step, input any, path Path, resumed bool) (any, error) {
	r := e.run
	cfg := sc.def.cfg

	if cfg.ValidateInputs && step.inputSchema != nil {
		if err := step.inputSchema.Validate(input); err != nil {
			return nil, &loom.ValidationError{WorkflowID: cfg.ID, StepID: step.id, Cause: err}
		}
	}

	started := time.Now().UTC()
	record := &StepResult{Status: StepRunning, Payload: input, StartedAt: started}
	if resumed {
		record.ResumePayload = e.resumeData
		record.ResumedAt = &started
		if prior, ok := sc.results.get(step.id); ok {
			record.StartedAt = prior.StartedAt
			record.SuspendPayload = prior.SuspendPayload
			record.SuspendedAt = prior.SuspendedAt
		}
	}
	sc.results.set(step.id, record)
	e.checkpoint(ctx)

	e.emitEvent(Event{Type: EventStepStart, StepID: step.id, Payload: input})
	r.logger.Debug("executing step",
		slog.String("workflow", cfg.ID),
		slog.String("run_id", r.id.String()),
		slog.String("step", step.id),
	)

	stepCtx := &StepContext{
		runID:         r.id,
		workflowID:    cfg.ID,
		stepID:        step.id,
		input:         input,
		initData:      r.initData,
		state:         sc.state,
		reqCtx:        r.reqCtx,
		results:       sc.results,
		cancel:        r.cancel,
		logger:        r.logger,
		host:          r.host,
		suspendSchema: step.suspendSchema,
	}
	if resumed {
		stepCtx.resumeData = e.resumeData
	}
	if e.stream != nil {
		stepCtx.writer = e.stream
	}

	out, err := invokeStep(ctx, step, stepCtx)
	for attempt := 1; err != nil && attempt <= step.retries && retryable(err, r.cancel); attempt++ {
		r.logger.Warn("retrying step",
			slog.String("workflow", cfg.ID),
			slog.String("run_id", r.id.String()),
			slog.String("step", step.id),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if waitErr := sleepOrCancel(ctx, r.cancel, step.retryBackoff.Delay(attempt)); waitErr != nil {
			err = waitErr
			break
		}
		out, err = invokeStep(ctx, step, stepCtx)
	}
	ended := time.Now().UTC()

	if err == nil && cfg.ValidateInputs && step.outputSchema != nil {
		if verr := step.outputSchema.Validate(out); verr != nil {
			err = &loom.ValidationError{WorkflowID: cfg.ID, StepID: step.id, Cause: verr}
		}
	}

	// The running record is already published; settle a fresh copy so
	// concurrent snapshot clones never observe a mid-mutation record.
	record = record.clone()

	var (
		sig  *suspendSignal
		bail *bailSignal
	)
	switch {
	case err == nil:
		record.Status = StepSuccess
		record.Output = out
		record.EndedAt = &ended
		sc.results.set(step.id, record)
		e.checkpoint(ctx)
		e.emitEvent(Event{Type: EventStepResult, StepID: step.id, Output: out})
		e.emitEvent(Event{Type: EventStepFinish, StepID: step.id, StepStatus: StepSuccess})
		r.emitter.EmitStepCompleted(ctx, r, step.id, ended.Sub(started))
		return out, nil

	case errors.As(err, &sig):
		sig.path = path
		record.Status = StepSuspended
		record.SuspendPayload = sig.payload
		record.SuspendedAt = &ended
		sc.results.set(step.id, record)
		e.emitEvent(Event{Type: EventStepSuspended, StepID: step.id, Payload: sig.payload})
		r.emitter.EmitStepSuspended(ctx, r, step.id)
		return nil, &suspension{sigs: []*suspendSignal{sig}}

	case errors.As(err, &bail):
		// Bail is a successful early exit: the step settles success and
		// the signal collapses the rest of the walk.
		record.Status = StepSuccess
		record.Output = bail.output
		record.EndedAt = &ended
		sc.results.set(step.id, record)
		e.checkpoint(ctx)
		e.emitEvent(Event{Type: EventStepResult, StepID: step.id, Output: bail.output})
		e.emitEvent(Event{Type: EventStepFinish, StepID: step.id, StepStatus: StepSuccess})
		r.emitter.EmitStepCompleted(ctx, r, step.id, ended.Sub(started))
		return nil, bail

	case r.cancel.Canceled():
		record.Status = StepFailed
		record.Error = (&loom.AbortError{RunID: r.id.String()}).Error()
		record.EndedAt = &ended
		sc.results.set(step.id, record)
		return nil, errCanceled

	default:
		wrapped := err
		var trip *loom.TripwireError
		if !errors.As(err, &trip) {
			wrapped = &loom.StepExecutionError{WorkflowID: cfg.ID, StepID: step.id, Cause: err}
		}
		record.Status = StepFailed
		record.Error = err.Error()
		record.EndedAt = &ended
		sc.results.set(step.id, record)
		e.checkpoint(ctx)
		e.emitEvent(Event{Type: EventStepFinish, StepID: step.id, StepStatus: StepFailed})
		r.emitter.EmitStepFailed(ctx, r, step.id, wrapped)
		return nil, wrapped
	}
}

// execNested runs a committed workflow in a step position. The nested
// graph gets its own result scope, recorded under the parent step id;
// suspensions bubble up with the nested workflow id prefixed onto the
// step key so the resume path addresses the leaf unambiguously.
func (e *executor) execNested(ctx context.Context, sc *scope, def *Definition, input any, path Path, resumeHere bool) (any, error) {
	stepID := def.cfg.ID

	if sc.def.cfg.ValidateInputs && def.cfg.InputSchema != nil {
		if err := def.cfg.InputSchema.Validate(input); err != nil {
			return nil, &loom.ValidationError{WorkflowID: sc.def.cfg.ID, StepID: stepID, Cause: err}
		}
	}

	var priorSteps map[string]*StepResult
	started := time.Now().UTC()
	if prior, ok := sc.results.get(stepID); ok {
		priorSteps = prior.Steps
		started = prior.StartedAt
	}

	child := &scope{
		def:        def,
		results:    newResultSet(priorSteps),
		state:      sc.state,
		resumeData: sc.resumeData,
	}
	if resumeHere && len(sc.resume) > 1 {
		child.resume = sc.resume[1:]
	}

	record := &StepResult{Status: StepRunning, Payload: input, StartedAt: started}
	sc.results.set(stepID, record)

	out, err := e.execSequence(ctx, child, def.graph, input, path.child(stepID))
	ended := time.Now().UTC()
	record = record.clone()
	record.Steps = child.results.snapshot()

	var (
		sus  *suspension
		bail *bailSignal
	)
	switch {
	case err == nil:
		record.Status = StepSuccess
		record.Output = out
		record.EndedAt = &ended
		sc.results.set(stepID, record)
		e.checkpoint(ctx)
		return out, nil
	case errors.As(err, &sus):
		for _, sig := range sus.sigs {
			sig.stepID = stepID + "." + sig.stepID
		}
		record.Status = StepSuspended
		record.SuspendedAt = &ended
		sc.results.set(stepID, record)
		return nil, err
	case errors.As(err, &bail):
		record.Status = StepSuccess
		record.Output = bail.output
		record.EndedAt = &ended
		sc.results.set(stepID, record)
		return nil, err
	case errors.Is(err, errCanceled):
		record.Status = StepFailed
		record.Error = errCanceled.Error()
		record.EndedAt = &ended
		sc.results.set(stepID, record)
		return nil, err
	default:
		record.Status = StepFailed
		record.Error = err.Error()
		record.EndedAt = &ended
		sc.results.set(stepID, record)
		return nil, err
	}
}

// execParallel runs all children concurrently against the same input.
// The block output maps each child's step id to its output. Every child
// runs to settlement before the block classifies; a failure outranks
// sibling suspensions.
func (e *executor) execParallel(ctx context.Context, sc *scope, n *node, input any, path Path) (any, error) {
	outs := make([]any, len(n.children))
	errs := make([]error, len(n.children))

	var g errgroup.Group
	for i, child := range n.children {
		g.Go(func() error {
			outs[i], errs[i] = e.execExecutable(ctx, sc, child, input, path.index(i), true)
			return nil
		})
	}
	g.Wait()

	if err := classifyGroup(errs); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(n.children))
	for i, child := range n.children {
		out[child.ExecID()] = outs[i]
	}
	return out, nil
}

// execBranch evaluates every predicate against the input and runs all
// matching arms concurrently. The first declared matching arm's output
// flows forward; each arm's result stays addressable by its step id.
func (e *executor) execBranch(ctx context.Context, sc *scope, n *node, input any, path Path) (any, error) {
	var matched []int
	for i, arm := range n.arms {
		ok, err := arm.When(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: branch predicate %d: %w", sc.def.cfg.ID, i, err)
		}
		if ok {
			matched = append(matched, i)
		}
	}
	if len(matched) == 0 {
		e.run.logger.Debug("no branch arm matched",
			slog.String("workflow", sc.def.cfg.ID),
			slog.String("run_id", e.run.id.String()),
		)
		return nil, nil
	}

	outs := make([]any, len(matched))
	errs := make([]error, len(matched))
	var g errgroup.Group
	for slot, armIdx := range matched {
		arm := n.arms[armIdx]
		g.Go(func() error {
			outs[slot], errs[slot] = e.execExecutable(ctx, sc, arm.Do, input, path.index(armIdx), true)
			return nil
		})
	}
	g.Wait()

	if err := classifyGroup(errs); err != nil {
		return nil, err
	}
	return outs[0], nil
}

// execLoop runs the body, then repeats according to the predicate
// evaluated against each iteration's output. Replay from a snapshot
// applies to the first encountered iteration only; later iterations are
// always fresh executions.
func (e *executor) execLoop(ctx context.Context, sc *scope, n *node, input any, path Path) (any, error) {
	current := input
	allowReplay := true
	for {
		out, err := e.execExecutable(ctx, sc, n.exec, current, path, allowReplay)
		if err != nil {
			return nil, err
		}
		allowReplay = false

		again, err := n.loopCond(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: loop predicate for step %q: %w", sc.def.cfg.ID, n.exec.ExecID(), err)
		}
		if n.loopMode == LoopUntil {
			again = !again
		}
		if !again {
			return out, nil
		}
		if e.run.cancel.Canceled() {
			return nil, errCanceled
		}
		current = out
	}
}

// execMap materializes a mapping node into the next node's input.
func (e *executor) execMap(ctx context.Context, sc *scope, n *node, input any) (any, error) {
	mc := &MapContext{
		runID:    e.run.id,
		input:    input,
		initData: e.run.initData,
		results:  sc.results,
		reqCtx:   e.run.reqCtx,
	}
	if n.mapFn != nil {
		return n.mapFn(ctx, mc)
	}
	return n.mapConfig.resolve(ctx, mc)
}

// checkpoint persists a mid-run snapshot when the definition's policy
// approves persisting the running status. Suspension and terminal
// persistence are handled by the run driver.
func (e *executor) checkpoint(ctx context.Context) {
	r := e.run
	if r.store == nil || r.def.cfg.ShouldPersistSnapshot == nil {
		return
	}
	if !r.def.cfg.ShouldPersistSnapshot(StatusRunning) {
		return
	}
	if err := r.persistSnapshot(ctx, StatusRunning, nil, ""); err != nil {
		r.logger.Error("failed to checkpoint snapshot",
			slog.String("run_id", r.id.String()),
			slog.String("workflow", r.def.cfg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// emitEvent delivers an event to the run's stream, if any.
func (e *executor) emitEvent(evt Event) {
	if e.stream == nil {
		return
	}
	evt.RunID = e.run.id.String()
	evt.WorkflowID = e.run.def.cfg.ID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	e.stream.emit(evt)
}

// invokeStep calls the step body, converting a panic into a failed
// execution instead of tearing down the whole process.
func invokeStep(ctx context.Context, step *Step, sc *StepContext) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step panicked: %v", rec)
		}
	}()
	return step.execute(ctx, sc)
}

// retryable reports whether a step error is an ordinary failure eligible
// for retry. Control-flow signals, tripwires, and cancellation are not.
func retryable(err error, cancel *CancelToken) bool {
	if cancel.Canceled() {
		return false
	}
	var (
		sig  *suspendSignal
		bail *bailSignal
		trip *loom.TripwireError
	)
	return !errors.As(err, &sig) && !errors.As(err, &bail) && !errors.As(err, &trip)
}

// sleepOrCancel waits out a retry delay, aborting early on context or
// run cancellation.
func sleepOrCancel(ctx context.Context, cancel *CancelToken, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errCanceled
	case <-cancel.Done():
		return errCanceled
	}
}

// classifyGroup settles a concurrent block's child outcomes. Priority:
// cancellation, then the first failure in declaration order, then bail,
// then the merged suspensions. A failed sibling outranks suspensions
// because the block as a whole cannot be resumed past it.
func classifyGroup(errs []error) error {
	var sus suspension
	var firstBail *bailSignal
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, errCanceled) {
			return errCanceled
		}
		var childSus *suspension
		if errors.As(err, &childSus) {
			sus.sigs = append(sus.sigs, childSus.sigs...)
			continue
		}
		var bail *bailSignal
		if errors.As(err, &bail) {
			if firstBail == nil {
				firstBail = bail
			}
			continue
		}
		return err
	}
	if firstBail != nil {
		return firstBail
	}
	if len(sus.sigs) > 0 {
		return &sus
	}
	return nil
}
