package workflow

import (
	"strconv"
	"strings"
	"time"

	"github.com/xraph/loom"
)

// Status is the lifecycle status of a workflow run. A run is created in
// StatusRunning and moves to exactly one terminal or re-enterable status:
// only StatusSuspended can be re-entered.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusTripwire  Status = "tripwire"
)

// Terminal reports whether the status admits no further execution.
// Suspended runs can be resumed; running runs can be restarted.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled, StatusTripwire:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle status of a single step within a run.
type StepStatus string

// Step statuses.
const (
	StepRunning   StepStatus = "running"
	StepSuccess   StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepSuspended StepStatus = "suspended"
)

// StepResult records one step's execution within a run. It is stored in
// the run context keyed by step id and persisted with the snapshot.
type StepResult struct {
	Status StepStatus `json:"status" msgpack:"status"`

	// Payload is the step's resolved input.
	Payload any `json:"payload,omitempty" msgpack:"payload,omitempty"`

	// Output is the value the step returned (set when Status is success).
	Output any `json:"output,omitempty" msgpack:"output,omitempty"`

	Error string `json:"error,omitempty" msgpack:"error,omitempty"`

	SuspendPayload any `json:"suspendPayload,omitempty" msgpack:"suspend_payload,omitempty"`
	ResumePayload  any `json:"resumePayload,omitempty" msgpack:"resume_payload,omitempty"`

	StartedAt   time.Time  `json:"startedAt" msgpack:"started_at"`
	EndedAt     *time.Time `json:"endedAt,omitempty" msgpack:"ended_at,omitempty"`
	SuspendedAt *time.Time `json:"suspendedAt,omitempty" msgpack:"suspended_at,omitempty"`
	ResumedAt   *time.Time `json:"resumedAt,omitempty" msgpack:"resumed_at,omitempty"`

	// Steps holds a nested workflow's own step results when this step
	// wraps a workflow.
	Steps map[string]*StepResult `json:"steps,omitempty" msgpack:"steps,omitempty"`
}

// clone returns a deep copy of the result. Output/payload values are
// shared; the engine treats them as immutable once recorded.
func (r *StepResult) clone() *StepResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Steps != nil {
		cp.Steps = make(map[string]*StepResult, len(r.Steps))
		for k, v := range r.Steps {
			cp.Steps[k] = v.clone()
		}
	}
	return &cp
}

// RunResult is the outcome of Start, Resume, or Restart. The outcome is
// always in-band: Status discriminates, and the corresponding field
// carries the detail. Only programmer-error-class failures surface as
// returned errors from the run methods themselves.
type RunResult struct {
	Status Status `json:"status"`

	// Result is the workflow output when Status is success.
	Result any `json:"result,omitempty"`

	// Err is set when Status is failed.
	Err error `json:"-"`

	// Tripwire is set when Status is tripwire.
	Tripwire *loom.TripwireError `json:"tripwire,omitempty"`

	// Suspended lists the graph paths of all suspended steps when Status
	// is suspended.
	Suspended []Path `json:"suspended,omitempty"`

	// SuspendPayload is the payload of the first suspended step.
	SuspendPayload any `json:"suspendPayload,omitempty"`

	// Steps is the per-step context, keyed by step id.
	Steps map[string]*StepResult `json:"steps"`

	// State is the user state object at the end of the walk.
	State map[string]any `json:"state,omitempty"`
}

// Path addresses a node in the graph as a list of segments from the root:
// sequence indices, parallel/branch child indices, foreach item indices,
// and nested workflow step ids. It is recorded in snapshots so resume can
// re-enter the interpreter at the suspended node.
type Path []string

// child returns a new path extended by one segment.
func (p Path) child(segment string) Path {
	out := make(Path, 0, len(p)+1)
	out = append(out, p...)
	return append(out, segment)
}

// index returns a new path extended by a numeric segment.
func (p Path) index(i int) Path {
	return p.child(strconv.Itoa(i))
}

// String renders the path as dot-separated segments.
func (p Path) String() string {
	return strings.Join(p, ".")
}
