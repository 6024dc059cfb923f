package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/xraph/loom/id"
)

// MapFunc is an arbitrary (possibly slow) mapping function used by
// Builder.MapWith or a MapFn entry. It must be pure by contract: the
// engine may re-invoke it on replay.
type MapFunc func(ctx context.Context, mc *MapContext) (any, error)

// MapContext is the read-only view a mapping function receives.
type MapContext struct {
	runID    id.RunID
	input    any
	initData any
	results  *resultSet
	reqCtx   *RequestContext
}

// RunID returns the identifier of the executing run.
func (mc *MapContext) RunID() id.RunID { return mc.runID }

// Input returns the previous node's output.
func (mc *MapContext) Input() any { return mc.input }

// GetInitData returns the workflow's initial input data.
func (mc *MapContext) GetInitData() any { return mc.initData }

// GetStepResult returns the recorded result of a previously executed step.
func (mc *MapContext) GetStepResult(stepID string) (*StepResult, bool) {
	return mc.results.get(stepID)
}

// RequestContext returns the run's request context.
func (mc *MapContext) RequestContext() *RequestContext { return mc.reqCtx }

// mapSource tags the MapEntry variants.
type mapSource uint8

const (
	srcValue mapSource = iota
	srcStep
	srcInit
	srcRequestContext
	srcFn
)

// MapEntry is one declarative mapping in a MapConfig. Build entries with
// MapValue, MapStep, MapInit, MapRequestContext, or MapFn.
type MapEntry struct {
	source mapSource
	value  any
	step   string
	path   string
	key    string
	fn     MapFunc
}

// MapValue maps a constant value.
func MapValue(v any) MapEntry {
	return MapEntry{source: srcValue, value: v}
}

// MapStep maps a prior step's output. A non-empty path selects into the
// output using GJSON path syntax; an empty path takes the whole output.
func MapStep(stepID, path string) MapEntry {
	return MapEntry{source: srcStep, step: stepID, path: path}
}

// MapInit maps the workflow's initial input data, optionally selecting
// into it with a GJSON path.
func MapInit(path string) MapEntry {
	return MapEntry{source: srcInit, path: path}
}

// MapRequestContext maps the current value of a request context key.
func MapRequestContext(key string) MapEntry {
	return MapEntry{source: srcRequestContext, key: key}
}

// MapFn maps via an arbitrary function.
func MapFn(fn MapFunc) MapEntry {
	return MapEntry{source: srcFn, fn: fn}
}

// MapConfig is a declarative mapping spec: each key of the produced
// object is populated from its entry.
type MapConfig map[string]MapEntry

// resolve materializes the mapping into the next node's input object.
func (m MapConfig) resolve(ctx context.Context, mc *MapContext) (any, error) {
	out := make(map[string]any, len(m))
	for key, entry := range m {
		v, err := entry.resolve(ctx, mc)
		if err != nil {
			return nil, fmt.Errorf("workflow: map key %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (e MapEntry) resolve(ctx context.Context, mc *MapContext) (any, error) {
	switch e.source {
	case srcValue:
		return e.value, nil
	case srcStep:
		result, ok := mc.GetStepResult(e.step)
		if !ok {
			return nil, fmt.Errorf("no result recorded for step %q", e.step)
		}
		return extractPath(result.Output, e.path)
	case srcInit:
		return extractPath(mc.initData, e.path)
	case srcRequestContext:
		v, _ := mc.reqCtx.Get(e.key)
		return v, nil
	case srcFn:
		return e.fn(ctx, mc)
	default:
		return nil, fmt.Errorf("unknown map entry source %d", e.source)
	}
}

// extractPath selects into a value using GJSON path syntax. An empty
// path returns the value unchanged; a missing path yields nil.
func extractPath(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value for path %q: %w", path, err)
	}
	return gjson.GetBytes(data, path).Value(), nil
}
