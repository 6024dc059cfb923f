package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/loom/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runSuspendedEntry struct {
	name string
	hook RunSuspended
}

type runCanceledEntry struct {
	name string
	hook RunCanceled
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepSuspendedEntry struct {
	name string
	hook StepSuspended
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	runStarted    []runStartedEntry
	runCompleted  []runCompletedEntry
	runFailed     []runFailedEntry
	runSuspended  []runSuspendedEntry
	runCanceled   []runCanceledEntry
	stepCompleted []stepCompletedEntry
	stepFailed    []stepFailedEntry
	stepSuspended []stepSuspendedEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(RunSuspended); ok {
		r.runSuspended = append(r.runSuspended, runSuspendedEntry{name, h})
	}
	if h, ok := e.(RunCanceled); ok {
		r.runCanceled = append(r.runCanceled, runCanceledEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(StepSuspended); ok {
		r.stepSuspended = append(r.stepSuspended, stepSuspendedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, run); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunSuspended notifies all extensions that implement RunSuspended.
func (r *Registry) EmitRunSuspended(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runSuspended {
		if err := e.hook.OnRunSuspended(ctx, run); err != nil {
			r.logHookError("OnRunSuspended", e.name, err)
		}
	}
}

// EmitRunCanceled notifies all extensions that implement RunCanceled.
func (r *Registry) EmitRunCanceled(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runCanceled {
		if err := e.hook.OnRunCanceled(ctx, run); err != nil {
			r.logHookError("OnRunCanceled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepID string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, run, stepID, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, stepID string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, run, stepID, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitStepSuspended notifies all extensions that implement StepSuspended.
func (r *Registry) EmitStepSuspended(ctx context.Context, run *workflow.Run, stepID string) {
	for _, e := range r.stepSuspended {
		if err := e.hook.OnStepSuspended(ctx, run, stepID); err != nil {
			r.logHookError("OnStepSuspended", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
