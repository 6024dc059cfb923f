package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
)

// Definition is a committed, immutable workflow: the frozen graph, the
// step registry, and the run options. It is created once at startup via
// Builder.Commit and shared by every Run. A Definition is itself an
// Executable, so committed workflows nest inside other graphs as steps.
type Definition struct {
	cfg        Config
	graph      []*node
	steps      map[string]Executable
	serialized *SerializedGraph
}

// ID returns the workflow id.
func (d *Definition) ID() string { return d.cfg.ID }

// Description returns the workflow's documentation string.
func (d *Definition) Description() string { return d.cfg.Description }

// Serialized returns the frozen graph description.
func (d *Definition) Serialized() *SerializedGraph { return d.serialized }

// Step looks up a registered executable by step id.
func (d *Definition) Step(stepID string) (Executable, bool) {
	exec, ok := d.steps[stepID]
	return exec, ok
}

func (d *Definition) isExecutable() {}

// ExecID implements Executable: a nested workflow's step id equals its
// own workflow id.
func (d *Definition) ExecID() string { return d.cfg.ID }

// RunOption configures a Run at creation time.
type RunOption func(*Run)

// WithRunID binds the run to an explicit id. If a snapshot for the id
// already exists in the configured store, the run is bound to it,
// enabling Resume and Restart.
func WithRunID(runID id.RunID) RunOption {
	return func(r *Run) { r.id = runID }
}

// WithSnapshotStore sets the store snapshots are persisted to and loaded
// from. Without a store, suspension and restart are unavailable.
func WithSnapshotStore(store SnapshotStore) RunOption {
	return func(r *Run) { r.store = store }
}

// WithEmitter sets the lifecycle emitter (usually the engine's extension
// registry adapter).
func WithEmitter(emitter Emitter) RunOption {
	return func(r *Run) { r.emitter = emitter }
}

// WithLogger sets the run's logger.
func WithLogger(logger *slog.Logger) RunOption {
	return func(r *Run) { r.logger = logger }
}

// WithRequestContext seeds the run's request context.
func WithRequestContext(values map[string]any) RunOption {
	return func(r *Run) { r.reqCtx = NewRequestContext(values) }
}

// WithResourceID tags the run with an external resource identifier,
// surfaced to the OnFinish/OnError callbacks.
func WithResourceID(resourceID string) RunOption {
	return func(r *Run) { r.resourceID = resourceID }
}

// WithHost attaches a host instance (for example the engine) exposed to
// steps via StepContext.Host.
func WithHost(host any) RunOption {
	return func(r *Run) { r.host = host }
}

// CreateRun instantiates one execution of the workflow. If the run id
// matches a persisted snapshot the run is bound to it, rehydrating
// context, state, and request context for Resume or Restart; otherwise
// the run starts cold. Executing an uncommitted graph is a construction-
// time error surfaced here, not mid-run.
func (d *Definition) CreateRun(ctx context.Context, opts ...RunOption) (*Run, error) {
	if d.serialized == nil {
		return nil, &loom.DefinitionError{WorkflowID: d.cfg.ID, Reason: "graph is not committed"}
	}

	r := &Run{
		def:     d,
		emitter: NoopEmitter{},
		logger:  slog.Default(),
		cancel:  NewCancelToken(),
		status:  StatusRunning,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.id.IsNil() {
		r.id = id.NewRunID()
	}
	if r.reqCtx == nil {
		r.reqCtx = NewRequestContext(nil)
	}
	r.state = newRunState(nil)
	r.results = newResultSet(nil)

	if r.store != nil {
		snap, err := r.store.LoadWorkflowSnapshot(ctx, d.cfg.ID, r.id)
		switch {
		case err == nil:
			r.hydrate(snap)
		case errors.Is(err, loom.ErrSnapshotNotFound):
			// Cold run.
		default:
			return nil, fmt.Errorf("workflow %s: load snapshot for run %s: %w", d.cfg.ID, r.id, err)
		}
	}

	return r, nil
}
