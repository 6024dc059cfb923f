package workflow_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/xraph/loom/workflow"
)

func collectEvents(t *testing.T, s *workflow.Stream) []workflow.Event {
	t.Helper()
	var events []workflow.Event
	for evt := range s.Events() {
		events = append(events, evt)
	}
	return events
}

func TestStream_OrderedLifecycleEvents(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "streamed"}).
		Then(constStep(t, "a", 1)).
		Then(constStep(t, "b", 2)))

	run := mustCreateRun(t, def)
	stream, err := run.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := collectEvents(t, stream)

	want := []workflow.EventType{
		workflow.EventStart,
		workflow.EventStepStart, workflow.EventStepResult, workflow.EventStepFinish,
		workflow.EventStepStart, workflow.EventStepResult, workflow.EventStepFinish,
		workflow.EventFinish,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, evt := range events {
		if evt.Type != want[i] {
			t.Errorf("event %d type = %v, want %v", i, evt.Type, want[i])
		}
		if evt.RunID != run.ID().String() {
			t.Errorf("event %d run id = %q, want %q", i, evt.RunID, run.ID())
		}
	}

	// The finish event carries the terminal status and final output.
	last := events[len(events)-1]
	if last.Status != workflow.StatusSuccess || last.Output != 2 {
		t.Errorf("finish event = %+v, want success with output 2", last)
	}

	result, err := stream.Result()
	if err != nil {
		t.Fatalf("Result() error: %v", err)
	}
	if result.Status != workflow.StatusSuccess || result.Result != 2 {
		t.Errorf("Result = %v/%v, want success/2", result.Status, result.Result)
	}
}

func TestStream_StepWritesDelivered(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "streamed"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "chatty",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				sc.Write("progress-1")
				sc.Write("progress-2")
				return "done", nil
			},
		})))

	run := mustCreateRun(t, def)
	stream, err := run.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	var writes []any
	for evt := range stream.Events() {
		if evt.Type == workflow.EventStepOutput {
			writes = append(writes, evt.Payload)
		}
	}
	if len(writes) != 2 || writes[0] != "progress-1" || writes[1] != "progress-2" {
		t.Errorf("writes = %v", writes)
	}
}

func TestStream_ForeachProgress(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "streamed"}).
		Foreach(echoStep(t, "item"), workflow.ForeachOpts{Concurrency: 1}))

	run := mustCreateRun(t, def)
	stream, err := run.Stream(context.Background(), []any{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	var progress []*workflow.ForeachProgress
	for evt := range stream.Events() {
		if evt.Type == workflow.EventStepProgress {
			progress = append(progress, evt.Progress)
		}
	}
	if len(progress) != 3 {
		t.Fatalf("got %d progress events, want 3", len(progress))
	}
	for i, p := range progress {
		if p.TotalCount != 3 {
			t.Errorf("progress %d total = %d, want 3", i, p.TotalCount)
		}
		if p.CompletedCount != i+1 {
			t.Errorf("progress %d completed = %d, want %d", i, p.CompletedCount, i+1)
		}
	}
}

func TestStream_FailureStillFinishes(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "streamed"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "bad",
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				return nil, context.DeadlineExceeded
			},
		})))

	run := mustCreateRun(t, def)
	stream, err := run.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := collectEvents(t, stream)
	last := events[len(events)-1]
	if last.Type != workflow.EventFinish || last.Status != workflow.StatusFailed {
		t.Errorf("last event = %+v, want failed finish", last)
	}

	result, err := stream.Result()
	if err != nil {
		t.Fatalf("Result() error: %v", err)
	}
	if result.Status != workflow.StatusFailed || result.Err == nil {
		t.Errorf("Result = %+v, want failed with error", result)
	}
}

func TestPrefixedEvent_Envelope(t *testing.T) {
	evt := workflow.Event{Type: workflow.EventStepResult, StepID: "a", Output: 1}
	wrapped := evt.Prefixed("agent-7")

	if wrapped.Type != "workflow-step-result" {
		t.Errorf("Type = %q, want workflow-step-result", wrapped.Type)
	}
	if wrapped.From != "agent-7" {
		t.Errorf("From = %q, want agent-7", wrapped.From)
	}

	data, err := json.Marshal(wrapped)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded["type"] != "workflow-step-result" {
		t.Errorf("encoded type = %v, want prefixed type", decoded["type"])
	}
	if decoded["from"] != "agent-7" {
		t.Errorf("encoded from = %v, want agent-7", decoded["from"])
	}
	if decoded["stepId"] != "a" {
		t.Errorf("encoded stepId = %v", decoded["stepId"])
	}
}
