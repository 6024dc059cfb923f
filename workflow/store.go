package workflow

import (
	"context"

	"github.com/xraph/loom/id"
)

// ListOpts controls filtering and pagination for snapshot list queries.
type ListOpts struct {
	// Status filters by run status. Empty means all statuses.
	Status Status
	// Limit is the maximum number of snapshots to return. Zero means no limit.
	Limit int
	// Offset is the number of snapshots to skip.
	Offset int
}

// SnapshotStore is the persistence contract for run snapshots. The engine
// treats it as an opaque durable key-value store keyed by
// (workflowName, runID). Backends: memory, Redis, Bun/Postgres.
type SnapshotStore interface {
	// PersistWorkflowSnapshot writes the snapshot, replacing any previous
	// snapshot for the same workflow name and run id.
	PersistWorkflowSnapshot(ctx context.Context, workflowName string, runID id.RunID, snap *Snapshot) error

	// LoadWorkflowSnapshot retrieves the snapshot for a run. Returns
	// loom.ErrSnapshotNotFound if none has been persisted.
	LoadWorkflowSnapshot(ctx context.Context, workflowName string, runID id.RunID) (*Snapshot, error)

	// ListWorkflowSnapshots returns snapshots for a workflow matching the
	// given options, most recent first.
	ListWorkflowSnapshots(ctx context.Context, workflowName string, opts ListOpts) ([]*Snapshot, error)
}
