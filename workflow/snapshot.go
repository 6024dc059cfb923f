package workflow

import "time"

// Snapshot is the durable representation of a run's progress, sufficient
// to resume a suspended run or restart a crashed one. It is written
// whenever the run suspends, and whenever the definition's
// ShouldPersistSnapshot option returns true for a newly settled status.
type Snapshot struct {
	RunID      string `json:"runId" msgpack:"run_id"`
	WorkflowID string `json:"workflowId" msgpack:"workflow_id"`
	Status     Status `json:"status" msgpack:"status"`

	// Context maps step id → StepResult for every step that has run.
	Context map[string]*StepResult `json:"context" msgpack:"context"`

	// ActivePaths are the graph paths currently executing (for a
	// suspended run, the suspended paths).
	ActivePaths []Path `json:"activePaths,omitempty" msgpack:"active_paths,omitempty"`

	// SuspendedPaths maps a suspended step's dotted id path (nested
	// workflows contribute their segments) to its graph path from root.
	SuspendedPaths map[string]Path `json:"suspendedPaths,omitempty" msgpack:"suspended_paths,omitempty"`

	// InitData is the workflow input the run was started with.
	InitData any `json:"initData,omitempty" msgpack:"init_data,omitempty"`

	// State is the user state object.
	State map[string]any `json:"state,omitempty" msgpack:"state,omitempty"`

	// RequestContext is the run's key/value propagation channel.
	RequestContext map[string]any `json:"requestContext,omitempty" msgpack:"request_context,omitempty"`

	// Result is the final output once the run succeeds.
	Result any `json:"result,omitempty" msgpack:"result,omitempty"`

	// Error is the failure message once the run fails.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`

	// SerializedStepGraph is the frozen graph description, stored so the
	// run can be rendered and restarted without loading step code.
	SerializedStepGraph *SerializedGraph `json:"serializedStepGraph,omitempty" msgpack:"serialized_step_graph,omitempty"`

	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}
