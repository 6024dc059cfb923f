// Package engine wires the Loom subsystems together: the workflow
// registry, the snapshot store, and the extension registry. It exists to
// break the import cycle: workflow defines the Emitter interface,
// ext.Registry provides the implementation, and the engine layer plugs
// them together. The workflow package remains fully usable on its own;
// the engine adds multi-workflow registration, crash recovery, and
// lifecycle extensions on top.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/loom"
	"github.com/xraph/loom/ext"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/observability"
	"github.com/xraph/loom/workflow"
)

// extEmitter adapts *ext.Registry to satisfy workflow.Emitter.
type extEmitter struct {
	r *ext.Registry
}

func (a *extEmitter) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	a.r.EmitRunStarted(ctx, run)
}

func (a *extEmitter) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	a.r.EmitRunCompleted(ctx, run, elapsed)
}

func (a *extEmitter) EmitRunFailed(ctx context.Context, run *workflow.Run, err error) {
	a.r.EmitRunFailed(ctx, run, err)
}

func (a *extEmitter) EmitRunSuspended(ctx context.Context, run *workflow.Run) {
	a.r.EmitRunSuspended(ctx, run)
}

func (a *extEmitter) EmitRunCanceled(ctx context.Context, run *workflow.Run) {
	a.r.EmitRunCanceled(ctx, run)
}

func (a *extEmitter) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepID string, elapsed time.Duration) {
	a.r.EmitStepCompleted(ctx, run, stepID, elapsed)
}

func (a *extEmitter) EmitStepFailed(ctx context.Context, run *workflow.Run, stepID string, err error) {
	a.r.EmitStepFailed(ctx, run, stepID, err)
}

func (a *extEmitter) EmitStepSuspended(ctx context.Context, run *workflow.Run, stepID string) {
	a.r.EmitStepSuspended(ctx, run, stepID)
}

// Engine hosts a set of registered workflow definitions backed by one
// snapshot store and one extension registry.
type Engine struct {
	store      workflow.SnapshotStore
	extensions *ext.Registry
	emitter    workflow.Emitter
	logger     *slog.Logger
	workflows  map[string]*workflow.Definition

	pending        []ext.Extension
	tracerProvider trace.TracerProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the snapshot store shared by all runs the engine
// creates. Without a store, suspension and restart are unavailable.
func WithStore(store workflow.SnapshotStore) Option {
	return func(eng *Engine) { eng.store = store }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pending = append(eng.pending, e) }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing extension uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// New creates an Engine. The tracing extension is always registered;
// extensions given via WithExtension are registered in option order
// after it.
func New(opts ...Option) *Engine {
	eng := &Engine{
		logger:    slog.Default(),
		workflows: make(map[string]*workflow.Definition),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	if eng.tracerProvider != nil {
		eng.extensions.Register(observability.NewTracingExtensionWithTracer(
			eng.tracerProvider.Tracer("github.com/xraph/loom")))
	} else {
		eng.extensions.Register(observability.NewTracingExtension())
	}
	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}
	eng.pending = nil

	eng.emitter = &extEmitter{r: eng.extensions}
	return eng
}

// Register adds a committed workflow definition to the engine. A second
// registration under the same id replaces the first.
func (eng *Engine) Register(def *workflow.Definition) {
	eng.workflows[def.ID()] = def
}

// Workflow looks up a registered definition by id.
func (eng *Engine) Workflow(workflowID string) (*workflow.Definition, error) {
	def, ok := eng.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("engine: workflow %q: %w", workflowID, loom.ErrWorkflowNotFound)
	}
	return def, nil
}

// CreateRun instantiates a run of a registered workflow, wired to the
// engine's store, extensions, and logger. Extra options override the
// engine defaults.
func (eng *Engine) CreateRun(ctx context.Context, workflowID string, opts ...workflow.RunOption) (*workflow.Run, error) {
	def, err := eng.Workflow(workflowID)
	if err != nil {
		return nil, err
	}
	base := []workflow.RunOption{
		workflow.WithEmitter(eng.emitter),
		workflow.WithLogger(eng.logger),
		workflow.WithHost(eng),
	}
	if eng.store != nil {
		base = append(base, workflow.WithSnapshotStore(eng.store))
	}
	return def.CreateRun(ctx, append(base, opts...)...)
}

// Resume rebinds the identified run from its snapshot and resumes it.
func (eng *Engine) Resume(ctx context.Context, workflowID string, runID id.RunID, opts workflow.ResumeOptions) (*workflow.RunResult, error) {
	run, err := eng.CreateRun(ctx, workflowID, workflow.WithRunID(runID))
	if err != nil {
		return nil, err
	}
	return run.Resume(ctx, opts)
}

// Restart rebinds the identified run from its snapshot and restarts it.
func (eng *Engine) Restart(ctx context.Context, workflowID string, runID id.RunID) (*workflow.RunResult, error) {
	run, err := eng.CreateRun(ctx, workflowID, workflow.WithRunID(runID))
	if err != nil {
		return nil, err
	}
	return run.Restart(ctx)
}

// RestartAll finds every run of a registered workflow left in status
// running (interrupted by a crash) and restarts it. Individual restart
// failures are logged and skipped; a store error aborts the sweep.
func (eng *Engine) RestartAll(ctx context.Context) error {
	if eng.store == nil {
		return loom.ErrNoStore
	}
	for workflowID := range eng.workflows {
		snaps, err := eng.store.ListWorkflowSnapshots(ctx, workflowID, workflow.ListOpts{
			Status: workflow.StatusRunning,
		})
		if err != nil {
			return fmt.Errorf("engine: list interrupted runs of %q: %w", workflowID, err)
		}
		for _, snap := range snaps {
			runID, err := id.ParseRunID(snap.RunID)
			if err != nil {
				eng.logger.Warn("skipping snapshot with malformed run id",
					slog.String("workflow", workflowID),
					slog.String("run_id", snap.RunID),
				)
				continue
			}
			if _, err := eng.Restart(ctx, workflowID, runID); err != nil {
				eng.logger.Warn("failed to restart interrupted run",
					slog.String("workflow", workflowID),
					slog.String("run_id", snap.RunID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the configured snapshot store, or nil.
func (eng *Engine) Store() workflow.SnapshotStore { return eng.store }

// Shutdown notifies extensions that the engine is stopping.
func (eng *Engine) Shutdown(ctx context.Context) error {
	eng.extensions.EmitShutdown(ctx)
	return nil
}
