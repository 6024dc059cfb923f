// Package memory implements workflow.SnapshotStore fully in memory.
// Safe for concurrent access. Intended for unit testing and development.
//
// Snapshots round-trip through JSON on write and read, so tests observe
// the same value shapes a durable backend would produce: step outputs
// come back as map[string]any and []any, never as the original Go types.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/loom"
	"github.com/xraph/loom/id"
	"github.com/xraph/loom/workflow"
)

var _ workflow.SnapshotStore = (*Store)(nil)

// Store is an in-memory snapshot store keyed by (workflowName, runID).
type Store struct {
	mu        sync.RWMutex
	snapshots map[string][]byte // key: "workflowName:runID"
	index     map[string][]string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		snapshots: make(map[string][]byte),
		index:     make(map[string][]string),
	}
}

func snapshotKey(workflowName, runID string) string {
	return workflowName + ":" + runID
}

// PersistWorkflowSnapshot writes the snapshot, replacing any previous
// snapshot for the same workflow name and run id.
func (m *Store) PersistWorkflowSnapshot(_ context.Context, workflowName string, runID id.RunID, snap *workflow.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("loom/memory: encode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := snapshotKey(workflowName, runID.String())
	if _, exists := m.snapshots[key]; !exists {
		m.index[workflowName] = append(m.index[workflowName], runID.String())
	}
	m.snapshots[key] = data
	return nil
}

// LoadWorkflowSnapshot retrieves the snapshot for a run.
func (m *Store) LoadWorkflowSnapshot(_ context.Context, workflowName string, runID id.RunID) (*workflow.Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snapshots[snapshotKey(workflowName, runID.String())]
	m.mu.RUnlock()
	if !ok {
		return nil, loom.ErrSnapshotNotFound
	}

	var snap workflow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("loom/memory: decode snapshot: %w", err)
	}
	return &snap, nil
}

// ListWorkflowSnapshots returns snapshots for a workflow matching the
// given options, most recent first.
func (m *Store) ListWorkflowSnapshots(_ context.Context, workflowName string, opts workflow.ListOpts) ([]*workflow.Snapshot, error) {
	m.mu.RLock()
	runIDs := m.index[workflowName]
	encoded := make([][]byte, 0, len(runIDs))
	for _, rid := range runIDs {
		if data, ok := m.snapshots[snapshotKey(workflowName, rid)]; ok {
			encoded = append(encoded, data)
		}
	}
	m.mu.RUnlock()

	snaps := make([]*workflow.Snapshot, 0, len(encoded))
	for _, data := range encoded {
		var snap workflow.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("loom/memory: decode snapshot: %w", err)
		}
		if opts.Status != "" && snap.Status != opts.Status {
			continue
		}
		snaps = append(snaps, &snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.After(snaps[j].Timestamp)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(snaps) {
			return nil, nil
		}
		snaps = snaps[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(snaps) {
		snaps = snaps[:opts.Limit]
	}
	return snaps, nil
}
