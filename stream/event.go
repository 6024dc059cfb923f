// Package stream provides a real-time event broker for Loom lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub with credit-based flow control.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventRunStarted   EventType = "workflow.started"
	EventRunCompleted EventType = "workflow.completed"
	EventRunFailed    EventType = "workflow.failed"
	EventRunSuspended EventType = "workflow.suspended"
	EventRunCanceled  EventType = "workflow.canceled"

	EventStepCompleted EventType = "workflow.step_completed"
	EventStepFailed    EventType = "workflow.step_failed"
	EventStepSuspended EventType = "workflow.step_suspended"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// RunEventData is the payload for run and step lifecycle events.
type RunEventData struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status,omitempty"`
	StepID     string `json:"step_id,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}
