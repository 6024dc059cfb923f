package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/backoff"
	"github.com/xraph/loom/schema"
	"github.com/xraph/loom/workflow"
)

// Each step's input must be exactly the previous step's output.
func TestStart_SequenceChainsOutputs(t *testing.T) {
	var inputs []any
	record := func(id string) *workflow.Step {
		return workflow.MustStep(workflow.StepConfig{
			ID: id,
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				inputs = append(inputs, sc.Input())
				return id + ":" + fmt.Sprint(sc.Input()), nil
			},
		})
	}
	def := mustCommit(t, workflow.New(workflow.Config{ID: "chain"}).
		Then(record("a")).
		Then(record("b")).
		Then(record("c")))

	result := mustStart(t, def, "in")
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	want := []any{"in", "a:in", "b:a:in"}
	for i, in := range inputs {
		if in != want[i] {
			t.Errorf("step %d input = %v, want %v", i, in, want[i])
		}
	}
	if result.Result != "c:b:a:in" {
		t.Errorf("Result = %v, want c:b:a:in", result.Result)
	}

	// Every step is recorded success with its resolved input as payload.
	for i, id := range []string{"a", "b", "c"} {
		sr, ok := result.Steps[id]
		if !ok {
			t.Fatalf("no result recorded for step %q", id)
		}
		if sr.Status != workflow.StepSuccess {
			t.Errorf("step %q status = %v, want success", id, sr.Status)
		}
		if sr.Payload != want[i] {
			t.Errorf("step %q payload = %v, want %v", id, sr.Payload, want[i])
		}
	}
}

func TestStart_InputValidationFailsInBand(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{
		ID:             "validated",
		ValidateInputs: true,
		InputSchema:    schema.Object(map[string]schema.Schema{"name": schema.String()}, "name"),
	}).Then(echoStep(t, "a")))

	result := mustStart(t, def, map[string]any{"wrong": true})
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	var vErr *loom.ValidationError
	if !errors.As(result.Err, &vErr) {
		t.Errorf("Err = %v, want ValidationError", result.Err)
	}
	if len(result.Steps) != 0 {
		t.Errorf("Steps = %v, want none executed", result.Steps)
	}
}

func TestStart_StepErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	failing := workflow.MustStep(workflow.StepConfig{
		ID: "explode",
		Execute: func(context.Context, *workflow.StepContext) (any, error) {
			return nil, boom
		},
	})
	def := mustCommit(t, workflow.New(workflow.Config{ID: "failing"}).
		Then(constStep(t, "first", 1)).
		Then(failing).
		Then(constStep(t, "never", 2)))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	var stepErr *loom.StepExecutionError
	if !errors.As(result.Err, &stepErr) {
		t.Fatalf("Err = %v, want StepExecutionError", result.Err)
	}
	if stepErr.StepID != "explode" {
		t.Errorf("StepID = %q, want explode", stepErr.StepID)
	}
	if !errors.Is(result.Err, boom) {
		t.Errorf("Err does not wrap the original cause")
	}
	// The completed predecessor stays recorded; the successor never ran.
	if sr := result.Steps["first"]; sr == nil || sr.Status != workflow.StepSuccess {
		t.Errorf("first = %+v, want recorded success", sr)
	}
	if _, ok := result.Steps["never"]; ok {
		t.Error("step after the failure was executed")
	}
}

func TestStart_StepPanicBecomesFailure(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "panicky"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "kaboom",
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				panic("unexpected")
			},
		})))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	var stepErr *loom.StepExecutionError
	if !errors.As(result.Err, &stepErr) {
		t.Fatalf("Err = %v, want StepExecutionError", result.Err)
	}
}

func TestStart_Bail(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "bailing"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "early",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				return nil, sc.Bail("early-result")
			},
		})).
		Then(constStep(t, "skipped", "late-result")))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success", result.Status)
	}
	if result.Result != "early-result" {
		t.Errorf("Result = %v, want early-result", result.Result)
	}
	if _, ok := result.Steps["skipped"]; ok {
		t.Error("step after bail was executed")
	}
}

func TestStart_Tripwire(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "guarded"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "guard",
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				return nil, loom.NewTripwire("content rejected")
			},
		})))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusTripwire {
		t.Fatalf("Status = %v, want tripwire", result.Status)
	}
	if result.Tripwire == nil || result.Tripwire.Reason != "content rejected" {
		t.Errorf("Tripwire = %+v, want reason %q", result.Tripwire, "content rejected")
	}
	if result.Err != nil {
		t.Errorf("Err = %v, want nil for tripwire outcome", result.Err)
	}
}

func TestStart_OutputValidation(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{
		ID:             "typed-out",
		ValidateInputs: true,
		OutputSchema:   schema.Number(),
	}).Then(constStep(t, "a", "not a number")))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	var vErr *loom.ValidationError
	if !errors.As(result.Err, &vErr) {
		t.Errorf("Err = %v, want ValidationError", result.Err)
	}
}

func TestStart_MapNode(t *testing.T) {
	var got any
	def := mustCommit(t, workflow.New(workflow.Config{ID: "mapped"}).
		Then(constStep(t, "lookup", map[string]any{"user": map[string]any{"name": "ada"}})).
		Map(workflow.MapConfig{
			"name":    workflow.MapStep("lookup", "user.name"),
			"initial": workflow.MapInit("kind"),
			"fixed":   workflow.MapValue(7),
		}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "sink",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				got = sc.Input()
				return nil, nil
			},
		})))

	result := mustStart(t, def, map[string]any{"kind": "test"})
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	in, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("sink input = %T, want map", got)
	}
	if in["name"] != "ada" || in["initial"] != "test" || in["fixed"] != 7 {
		t.Errorf("mapped input = %v", in)
	}
}

func TestStart_RetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	def := mustCommit(t, workflow.New(workflow.Config{ID: "retrying"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID:           "flaky",
			Retries:      3,
			RetryBackoff: backoff.NewConstant(0),
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				if attempts.Add(1) < 3 {
					return nil, errors.New("transient")
				}
				return "ok", nil
			},
		})))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestStart_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	def := mustCommit(t, workflow.New(workflow.Config{ID: "retrying"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID:           "doomed",
			Retries:      2,
			RetryBackoff: backoff.NewConstant(0),
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				attempts.Add(1)
				return nil, errors.New("persistent")
			},
		})))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts.Load())
	}
}

func TestStart_TripwireNotRetried(t *testing.T) {
	var attempts atomic.Int32
	def := mustCommit(t, workflow.New(workflow.Config{ID: "guarded"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID:           "guard",
			Retries:      5,
			RetryBackoff: backoff.NewConstant(0),
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				attempts.Add(1)
				return nil, loom.NewTripwire("no")
			},
		})))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusTripwire {
		t.Fatalf("Status = %v, want tripwire", result.Status)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestCancel_BeforeStart(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "canceled"}).
		Then(constStep(t, "a", 1)))

	run := mustCreateRun(t, def)
	if err := run.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if run.Status() != workflow.StatusCanceled {
		t.Fatalf("Status = %v, want canceled", run.Status())
	}

	result, err := run.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Status != workflow.StatusCanceled {
		t.Errorf("Status = %v, want canceled", result.Status)
	}
	if len(result.Steps) != 0 {
		t.Errorf("Steps = %v, want none executed", result.Steps)
	}
}

func TestAbort_MidRunKeepsCompletedResults(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "aborted"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "trigger",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				sc.Abort()
				return "done", nil
			},
		})).
		Then(constStep(t, "after", 2)))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusCanceled {
		t.Fatalf("Status = %v, want canceled", result.Status)
	}
	if sr := result.Steps["trigger"]; sr == nil || sr.Status != workflow.StepSuccess {
		t.Errorf("trigger = %+v, want recorded success", sr)
	}
	if _, ok := result.Steps["after"]; ok {
		t.Error("step after cancellation was executed")
	}
}

func TestStart_ExternalContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	def := mustCommit(t, workflow.New(workflow.Config{ID: "ctx-canceled"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "slow",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				cancel()
				select {
				case <-sc.AbortSignal():
				case <-time.After(5 * time.Second):
					t.Error("abort signal never fired")
				}
				return nil, nil
			},
		})).
		Then(constStep(t, "after", 1)))

	run := mustCreateRun(t, def)
	result, err := run.Start(ctx, nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Status != workflow.StatusCanceled {
		t.Errorf("Status = %v, want canceled", result.Status)
	}
	if _, ok := result.Steps["after"]; ok {
		t.Error("step after cancellation was executed")
	}
}

func TestCallbacks_OnFinishAndOnError(t *testing.T) {
	var finishInfo *workflow.CallbackInfo
	var errInfo *workflow.CallbackInfo
	var gotErr error

	def := mustCommit(t, workflow.New(workflow.Config{
		ID: "callbacks",
		OnFinish: func(_ context.Context, info *workflow.CallbackInfo) {
			finishInfo = info
		},
		OnError: func(_ context.Context, info *workflow.CallbackInfo, err error) {
			errInfo = info
			gotErr = err
		},
	}).Then(workflow.MustStep(workflow.StepConfig{
		ID: "fail",
		Execute: func(context.Context, *workflow.StepContext) (any, error) {
			return nil, errors.New("nope")
		},
	})))

	run := mustCreateRun(t, def, workflow.WithResourceID("res-1"))
	result, err := run.Start(context.Background(), map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if result.Status != workflow.StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	if errInfo == nil || gotErr == nil {
		t.Fatal("OnError was not invoked")
	}
	if finishInfo == nil {
		t.Fatal("OnFinish was not invoked")
	}
	if finishInfo.Status != workflow.StatusFailed {
		t.Errorf("OnFinish status = %v, want failed", finishInfo.Status)
	}
	if finishInfo.ResourceID != "res-1" {
		t.Errorf("ResourceID = %q, want res-1", finishInfo.ResourceID)
	}
	if finishInfo.RunID != run.ID().String() {
		t.Errorf("RunID = %q, want %q", finishInfo.RunID, run.ID())
	}
}

func TestStart_StateVisibleAcrossSteps(t *testing.T) {
	def := mustCommit(t, workflow.New(workflow.Config{ID: "stateful"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "write",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				sc.SetState(map[string]any{"seen": true})
				return nil, nil
			},
		})).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "read",
			Execute: func(_ context.Context, sc *workflow.StepContext) (any, error) {
				return sc.State()["seen"], nil
			},
		})))

	result := mustStart(t, def, nil)
	if result.Status != workflow.StatusSuccess {
		t.Fatalf("Status = %v, want success (err=%v)", result.Status, result.Err)
	}
	if result.Result != true {
		t.Errorf("Result = %v, want true", result.Result)
	}
	if result.State["seen"] != true {
		t.Errorf("State = %v, want seen=true", result.State)
	}
}

func TestStart_SecondStartRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	def := mustCommit(t, workflow.New(workflow.Config{ID: "busy"}).
		Then(workflow.MustStep(workflow.StepConfig{
			ID: "block",
			Execute: func(context.Context, *workflow.StepContext) (any, error) {
				close(started)
				<-release
				return nil, nil
			},
		})))

	run := mustCreateRun(t, def)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run.Start(context.Background(), nil)
	}()

	<-started
	if _, err := run.Start(context.Background(), nil); err == nil {
		t.Error("second Start() = nil error, want already-executing error")
	}
	close(release)
	<-done
}
