package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/loom/ext"
	"github.com/xraph/loom/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*TracingExtension)(nil)
	_ ext.RunStarted    = (*TracingExtension)(nil)
	_ ext.RunCompleted  = (*TracingExtension)(nil)
	_ ext.RunFailed     = (*TracingExtension)(nil)
	_ ext.RunSuspended  = (*TracingExtension)(nil)
	_ ext.RunCanceled   = (*TracingExtension)(nil)
	_ ext.StepCompleted = (*TracingExtension)(nil)
	_ ext.StepFailed    = (*TracingExtension)(nil)
	_ ext.StepSuspended = (*TracingExtension)(nil)
)

// TracingExtension opens a span when a run starts and ends it when the
// run settles. Step lifecycle transitions are recorded as span events.
// A suspended run's span ends at suspension; Resume opens a fresh span
// for the re-entry, linked by the shared run id attribute.
type TracingExtension struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewTracingExtension creates a TracingExtension using the global
// TracerProvider.
func NewTracingExtension() *TracingExtension {
	return NewTracingExtensionWithTracer(otel.Tracer("github.com/xraph/loom"))
}

// NewTracingExtensionWithTracer creates a TracingExtension with the
// provided tracer.
func NewTracingExtensionWithTracer(tracer trace.Tracer) *TracingExtension {
	return &TracingExtension{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// Name implements ext.Extension.
func (t *TracingExtension) Name() string { return "observability-tracing" }

// OnRunStarted implements ext.RunStarted.
func (t *TracingExtension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	_, span := t.tracer.Start(ctx, "workflow.run "+r.WorkflowID(),
		trace.WithAttributes(
			attribute.String("loom.workflow.id", r.WorkflowID()),
			attribute.String("loom.run.id", r.ID().String()),
		),
	)
	t.mu.Lock()
	t.spans[r.ID().String()] = span
	t.mu.Unlock()
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (t *TracingExtension) OnRunCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	if span := t.take(r); span != nil {
		span.SetAttributes(attribute.Int64("loom.run.elapsed_ms", elapsed.Milliseconds()))
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (t *TracingExtension) OnRunFailed(_ context.Context, r *workflow.Run, err error) error {
	if span := t.take(r); span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
	return nil
}

// OnRunSuspended implements ext.RunSuspended.
func (t *TracingExtension) OnRunSuspended(_ context.Context, r *workflow.Run) error {
	if span := t.take(r); span != nil {
		span.AddEvent("run.suspended")
		span.End()
	}
	return nil
}

// OnRunCanceled implements ext.RunCanceled.
func (t *TracingExtension) OnRunCanceled(_ context.Context, r *workflow.Run) error {
	if span := t.take(r); span != nil {
		span.AddEvent("run.canceled")
		span.End()
	}
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (t *TracingExtension) OnStepCompleted(_ context.Context, r *workflow.Run, stepID string, elapsed time.Duration) error {
	if span := t.peek(r); span != nil {
		span.AddEvent("step.completed", trace.WithAttributes(
			attribute.String("loom.step.id", stepID),
			attribute.Int64("loom.step.elapsed_ms", elapsed.Milliseconds()),
		))
	}
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (t *TracingExtension) OnStepFailed(_ context.Context, r *workflow.Run, stepID string, err error) error {
	if span := t.peek(r); span != nil {
		span.AddEvent("step.failed", trace.WithAttributes(
			attribute.String("loom.step.id", stepID),
			attribute.String("loom.step.error", err.Error()),
		))
	}
	return nil
}

// OnStepSuspended implements ext.StepSuspended.
func (t *TracingExtension) OnStepSuspended(_ context.Context, r *workflow.Run, stepID string) error {
	if span := t.peek(r); span != nil {
		span.AddEvent("step.suspended", trace.WithAttributes(
			attribute.String("loom.step.id", stepID),
		))
	}
	return nil
}

// peek returns the run's live span without removing it.
func (t *TracingExtension) peek(r *workflow.Run) trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans[r.ID().String()]
}

// take removes and returns the run's live span.
func (t *TracingExtension) take(r *workflow.Run) trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	span := t.spans[r.ID().String()]
	delete(t.spans, r.ID().String())
	return span
}
