package workflow

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a run lifecycle event.
type EventType string

// Event types, in the order a simple linear run emits them.
const (
	EventStart         EventType = "start"
	EventStepStart     EventType = "step-start"
	EventStepResult    EventType = "step-result"
	EventStepFinish    EventType = "step-finish"
	EventStepSuspended EventType = "step-suspended"
	EventStepProgress  EventType = "step-progress"
	EventStepOutput    EventType = "step-output"
	EventFinish        EventType = "finish"
)

// ForeachProgress reports foreach iteration progress on step-progress
// events.
type ForeachProgress struct {
	CompletedCount  int        `json:"completedCount"`
	TotalCount      int        `json:"totalCount"`
	CurrentIndex    int        `json:"currentIndex"`
	IterationStatus StepStatus `json:"iterationStatus"`
}

// Event is one entry in a run's ordered, forward-only event stream.
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"runId"`
	WorkflowID string    `json:"workflowId"`
	StepID     string    `json:"stepId,omitempty"`

	// Payload carries the step input on step-start, the suspend payload
	// on step-suspended, and custom written values on step-output.
	Payload any `json:"payload,omitempty"`

	// Output carries the step output on step-result and the final result
	// on finish.
	Output any `json:"output,omitempty"`

	// Status is the run status on finish events.
	Status Status `json:"status,omitempty"`

	// StepStatus is the step's settled status on step-finish events.
	StepStatus StepStatus `json:"stepStatus,omitempty"`

	// Progress is set on step-progress events emitted by foreach nodes.
	Progress *ForeachProgress `json:"progress,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// PrefixedEvent is the compatibility envelope for consumers that expect
// workflow-prefixed event types tagged with their origin.
type PrefixedEvent struct {
	Type string `json:"type"`
	From string `json:"from"`
	Event
}

// Prefixed converts the event into the compatibility envelope: the type
// gains a "workflow-" prefix and the origin is recorded in From.
func (e Event) Prefixed(origin string) PrefixedEvent {
	return PrefixedEvent{
		Type:  "workflow-" + string(e.Type),
		From:  origin,
		Event: e,
	}
}

// Stream is an ordered, single-pass, cancelable sequence of run events.
// Obtain one from Run.Stream; read Events until closed, then collect the
// outcome from Result.
type Stream struct {
	ch     chan Event
	closed chan struct{} // consumer abandoned the stream
	done   chan struct{} // run finished, result available

	closeOnce sync.Once

	mu     sync.Mutex
	result *RunResult
	err    error
}

func newStream() *Stream {
	return &Stream{
		ch:     make(chan Event, 256),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events returns the event channel. It is closed after the finish event.
func (s *Stream) Events() <-chan Event { return s.ch }

// Close abandons the stream. Delivery stops; the run itself keeps
// executing (use Run.Cancel to stop it).
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Result blocks until the run finishes and returns its outcome.
func (s *Stream) Result() (*RunResult, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// emit delivers an event in order, giving up if the consumer abandoned
// the stream.
func (s *Stream) emit(evt Event) {
	select {
	case <-s.closed:
	case s.ch <- evt:
	}
}

// WriteStepOutput implements EventWriter for StepContext.Write.
func (s *Stream) WriteStepOutput(stepID string, value any) {
	s.emit(Event{Type: EventStepOutput, StepID: stepID, Payload: value, Timestamp: time.Now().UTC()})
}

// finish records the outcome and closes the stream.
func (s *Stream) finish(result *RunResult, err error) {
	s.mu.Lock()
	s.result = result
	s.err = err
	s.mu.Unlock()
	close(s.ch)
	close(s.done)
}

// ──────────────────────────────────────────────────
// Lifecycle emitter
// ──────────────────────────────────────────────────

// Emitter receives run and step lifecycle notifications. It is satisfied
// by the ext registry (via an adapter in the engine package) to break the
// import cycle between workflow and ext.
type Emitter interface {
	EmitRunStarted(ctx context.Context, run *Run)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunSuspended(ctx context.Context, run *Run)
	EmitRunCanceled(ctx context.Context, run *Run)
	EmitStepCompleted(ctx context.Context, run *Run, stepID string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepID string, err error)
	EmitStepSuspended(ctx context.Context, run *Run, stepID string)
}

// NoopEmitter is an Emitter that does nothing.
type NoopEmitter struct{}

func (NoopEmitter) EmitRunStarted(context.Context, *Run)                           {}
func (NoopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration)          {}
func (NoopEmitter) EmitRunFailed(context.Context, *Run, error)                     {}
func (NoopEmitter) EmitRunSuspended(context.Context, *Run)                         {}
func (NoopEmitter) EmitRunCanceled(context.Context, *Run)                          {}
func (NoopEmitter) EmitStepCompleted(context.Context, *Run, string, time.Duration) {}
func (NoopEmitter) EmitStepFailed(context.Context, *Run, string, error)            {}
func (NoopEmitter) EmitStepSuspended(context.Context, *Run, string)                {}
