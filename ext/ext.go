// Package ext defines the extension system for Loom.
// Extensions are notified of lifecycle events (run started, step
// completed, run suspended, etc.) and can react to them: logging,
// metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/loom/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a workflow run begins executing, including
// each re-entry via Resume or Restart.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *workflow.Run) error
}

// RunCompleted is called after a workflow run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a workflow run fails terminally, including
// tripwire outcomes.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *workflow.Run, err error) error
}

// RunSuspended is called when a workflow run suspends awaiting external
// input.
type RunSuspended interface {
	OnRunSuspended(ctx context.Context, r *workflow.Run) error
}

// RunCanceled is called when a workflow run settles as canceled.
type RunCanceled interface {
	OnRunCanceled(ctx context.Context, r *workflow.Run) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a workflow step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *workflow.Run, stepID string, elapsed time.Duration) error
}

// StepFailed is called when a workflow step fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *workflow.Run, stepID string, err error) error
}

// StepSuspended is called when a workflow step suspends.
type StepSuspended interface {
	OnStepSuspended(ctx context.Context, r *workflow.Run, stepID string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful engine shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
