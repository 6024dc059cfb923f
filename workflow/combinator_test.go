package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/xraph/loom"
	"github.com/xraph/loom/workflow"
)

func TestParallel_OutputMapsStepIDs(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "fanout"}).
		Parallel(
			constStep(t, "a", 1),
			constStep(t, "b", 2),
			constStep(t, "c", 3),
		))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	out, ok := result.Result.(map[string]any)
	if !ok {
		t.Fatalf("Result = %T, want map", result.Result)
	}
	if out["a"] != 1 || out["b"] != 2 || out["c"] != 3 {
		t.Errorf("Result = %v", out)
	}
}

func TestParallel_AllChildrenSeeSameInput(t *testing.T) {
	var inputs [2]any
	observe := func(i int, id string) *workflow.Step {
		return workflow.MustStep(workflow.StepConfig{
			ID: id,
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				inputs[i] = sc.Input()
				return nil, nil
			},
		})
	}
	def := mustCommit(t, workflow.New(workflow.Config{ID: "fanout"}).
		Then(constStep(t, "seed", "shared")).
		Parallel(observe(0, "x"), observe(1, "y")))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if inputs[0] != "shared" || inputs[1] != "shared" {
		t.Errorf("inputs = %v, want both %q", inputs, "shared")
	}
}

func TestParallel_FailurePreservesSiblingResults(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "fanout"}).
		Parallel(
			constStep(t, "ok", "fine"),
			workflow.MustStep(workflow.StepConfig{
				ID: "bad",
				Execute: func(context.Context, *workflow.StepContext) (any, error) {
					return nil, errors.New("broken")
				},
			}),
		))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	var stepErr *loom.StepExecutionError
	if !errors.As(result.Err, &stepErr) || stepErr.StepID != "bad" {
		t.Errorf("Err = %v, want StepExecutionError from bad", result.Err)
	}
	// The successful sibling ran to settlement and stays recorded.
	if sr := result.Steps["ok"]; sr == nil || sr.Status != workflow.StepSuccess {
		t.Errorf("ok = %+v, want recorded success", sr)
	}
}

func TestBranch_AllMatchingArmsExecute(t *testing.T) {
	var lowRan, highRan, neverRan atomic.Bool
	arm := func(id string, ran *atomic.Bool, out any) workflow.BranchArm {
		return workflow.BranchArm{
			When: func(_ context.Context, input any) (bool, error) {
				n, _ := input.(int)
				switch id {
				case "low":
					return n < 100, nil
				case "high":
					return n > 5, nil
				default:
					return false, nil
				}
			},
			Do: workflow.MustStep(workflow.StepConfig{
				ID: id,
				Execute: func(context.Context, *workflow.StepContext) (any, error) {
					ran.Store(true)
					return out, nil
				},
			}),
		}
	}

	def := mustCommit(t, workflow.New(workflow.Config{ID: "branching"}).
		Branch(
			arm("low", &lowRan, "low-out"),
			arm("high", &highRan, "high-out"),
			arm("never", &neverRan, "never-out"),
		))

	result := mustStart(t, def, 42)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if !lowRan.Load() || !highRan.Load() {
		t.Error("not every matching arm executed")
	}
	if neverRan.Load() {
		t.Error("non-matching arm executed")
	}
	// The first declared matching arm's output flows forward.
	if result.Result != "low-out" {
		t.Errorf("Result = %v, want low-out", result.Result)
	}
	// Each matching arm's result is addressable by step id.
	if sr := result.Steps["high"]; sr == nil || sr.Output != "high-out" {
		t.Errorf("high = %+v, want recorded output", sr)
	}
}

func TestBranch_NoMatchProducesNilOutput(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "branching"}).
		Branch(workflow.BranchArm{
			When: func(context.Context, any) (bool, error) { return false, nil },
			Do:   constStep(t, "arm", 1),
		}).
		Then(echoStep(t, "after")))

	result := mustStart(t, def, "input")
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if result.Result != nil {
		t.Errorf("Result = %v, want nil", result.Result)
	}
}

func TestBranch_PredicateErrorFailsRun(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "branching"}).
		Branch(workflow.BranchArm{
			When: func(context.Context, any) (bool, error) {
				return false, errors.New("predicate exploded")
			},
			Do: constStep(t, "arm", 1),
		}))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed (err=%v)", result.Status, result.Err)
	}
}

func TestDoWhile_RepeatsWhileTrue(t *testing.T) {
	var iterations int
	counter := workflow.MustStep(workflow.StepConfig{
		ID: "count",
		Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
			iterations++
			n, _ := sc.Input().(int)
			return n + 1, nil
		},
	})
	def := mustCommit(t, workflow.New(workflow.Config{ID: "looping"}).
		DoWhile(counter, func(_ context.Context, output any) (bool, error) {
			return output.(int) < 5, nil
		}))

	result := mustStart(t, def, 0)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if result.Result != 5 {
		t.Errorf("Result = %v, want 5", result.Result)
	}
	if iterations != 5 {
		t.Errorf("iterations = %d, want 5", iterations)
	}
}

func TestDoUntil_InvertsPredicate(t *testing.T) {
	var iterations int
	counter := workflow.MustStep(workflow.StepConfig{
		ID: "count",
		Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
			iterations++
			n, _ := sc.Input().(int)
			return n + 1, nil
		},
	})
	def := mustCommit(t, workflow.New(workflow.Config{ID: "looping"}).
		DoUntil(counter, func(_ context.Context, output any) (bool, error) {
			return output.(int) >= 3, nil
		}))

	result := mustStart(t, def, 0)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if result.Result != 3 {
		t.Errorf("Result = %v, want 3", result.Result)
	}
	if iterations != 3 {
		t.Errorf("iterations = %d, want 3", iterations)
	}
}

func TestLoop_BodyErrorStopsLoop(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "looping"}).
		DoWhile(workflow.MustStep(workflow.StepConfig{
			ID: "body",
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				return nil, errors.New("body failed")
			},
		}), func(context.Context, any) (bool, error) { return true, nil }))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
}

func TestNested_WorkflowAsStep(t *testing.T) {
	inner := mustCommit(t, workflow.New(workflow.Config{ID: "inner"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "double",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				return sc.Input().(int) * 2, nil
			},
		})))

	outer := mustCommit(t, workflow.New(workflow.Config{ID: "outer"}).
		Then(constStep(t, "seed", 21)).
		Then(inner))

	result := mustStart(t, outer, nil)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if result.Result != 42 {
		t.Errorf("Result = %v, want 42", result.Result)
	}
	// The nested workflow's own steps are recorded under its step id.
	nested := result.Steps["inner"]
	if nested == nil || nested.Status != workflow.StepSuccess {
		t.Fatalf("inner = %+v, want recorded success", nested)
	}
	if sr := nested.Steps["double"]; sr == nil || sr.Output != 42 {
		t.Errorf("inner.double = %+v, want output 42", sr)
	}
}
