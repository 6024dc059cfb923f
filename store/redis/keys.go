package redis

// Redis key naming conventions for loom data.
// All keys are prefixed with "loom:" to avoid collisions.

const keyPrefix = "loom:"

// snapshotKey returns the key for a run snapshot:
// loom:snapshot:{workflow}:{runID}
func snapshotKey(workflowName, runID string) string {
	return keyPrefix + "snapshot:" + workflowName + ":" + runID
}

// snapshotIndexKey returns the Sorted Set key tracking a workflow's run
// ids, scored by snapshot time: loom:snapshots:{workflow}
func snapshotIndexKey(workflowName string) string {
	return keyPrefix + "snapshots:" + workflowName
}
