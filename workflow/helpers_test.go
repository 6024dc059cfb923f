package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/loom/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoStep returns its input unchanged.
func echoStep(t *testing.T, id string) *workflow.Step {
	t.Helper()
	return workflow.MustStep(workflow.StepConfig{
		ID: id,
		Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
			return sc.Input(), nil
		},
	})
}

// constStep ignores its input and returns a fixed output.
func constStep(t *testing.T, id string, out any) *workflow.Step {
	t.Helper()
	return workflow.MustStep(workflow.StepConfig{
		ID: id,
		Execute: func(context.Context, *workflow.StepContext) (any, error) {
			return out, nil
		},
	})
}

func mustCommit(t *testing.T, b *workflow.Builder) *workflow.Definition {
	t.Helper()
	def, err := b.Commit()
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	return def
}

func mustCreateRun(t *testing.T, def *workflow.Definition, opts ...workflow.RunOption) *workflow.Run {
	t.Helper()
	opts = append([]workflow.RunOption{workflow.WithLogger(testLogger())}, opts...)
	run, err := def.CreateRun(context.Background(), opts...)
	if err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}
	return run
}

func mustStart(t *testing.T, def *workflow.Definition, input any) *workflow.RunResult {
	t.Helper()
	run := mustCreateRun(t, def)
	result, err := run.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return result
}
