package workflow

import (
	"maps"
	"sync"
)

// runState is the run-owned user state object. Writes merge partial
// objects; reads get an isolated copy. Safe for concurrent use by
// parallel siblings.
type runState struct {
	mu   sync.RWMutex
	data map[string]any
}

func newRunState(initial map[string]any) *runState {
	data := make(map[string]any, len(initial))
	maps.Copy(data, initial)
	return &runState{data: data}
}

func (s *runState) snapshotState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	maps.Copy(out, s.data)
	return out
}

func (s *runState) mergeState(partial map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.data, partial)
}

// batchState buffers state writes from one foreach concurrency batch.
// Reads see the state as of the start of the batch plus the batch's own
// writes; the buffer is merged into the run state only after the batch
// settles, bounding persistence operations to one per batch.
type batchState struct {
	mu      sync.Mutex
	base    map[string]any
	pending map[string]any
}

func newBatchState(base map[string]any) *batchState {
	return &batchState{base: base, pending: make(map[string]any)}
}

func (b *batchState) snapshotState() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.base)+len(b.pending))
	maps.Copy(out, b.base)
	maps.Copy(out, b.pending)
	return out
}

func (b *batchState) mergeState(partial map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	maps.Copy(b.pending, partial)
}

// writes returns the buffered writes accumulated during the batch.
func (b *batchState) writes() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.pending))
	maps.Copy(out, b.pending)
	return out
}

// RequestContext is an explicit key/value propagation channel distinct
// from workflow state. Any step may write it; writes are visible to later
// steps in the same run, including across suspend/resume. Concurrent
// siblings may race on it; last write wins.
type RequestContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewRequestContext creates a RequestContext seeded with the given values.
func NewRequestContext(values map[string]any) *RequestContext {
	data := make(map[string]any, len(values))
	maps.Copy(data, values)
	return &RequestContext{values: data}
}

// Get returns the value for key and whether it is present.
func (rc *RequestContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// Set stores a value under key.
func (rc *RequestContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Delete removes key. A deleted key stays absent after a suspend →
// persist → resume round-trip.
func (rc *RequestContext) Delete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.values, key)
}

// Snapshot returns a copy of all values, as persisted with the run snapshot.
func (rc *RequestContext) Snapshot() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]any, len(rc.values))
	maps.Copy(out, rc.values)
	return out
}

// resultSet is the per-run context map of step id → StepResult. One Run
// owns it; concurrent siblings write distinct keys under the mutex.
type resultSet struct {
	mu      sync.RWMutex
	results map[string]*StepResult
}

func newResultSet(initial map[string]*StepResult) *resultSet {
	results := make(map[string]*StepResult, len(initial))
	for k, v := range initial {
		results[k] = v.clone()
	}
	return &resultSet{results: results}
}

func (rs *resultSet) get(stepID string) (*StepResult, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.results[stepID]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

func (rs *resultSet) set(stepID string, result *StepResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.results[stepID] = result
}

func (rs *resultSet) delete(stepID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.results, stepID)
}

// snapshot returns a deep copy of the full context map.
func (rs *resultSet) snapshot() map[string]*StepResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make(map[string]*StepResult, len(rs.results))
	for k, v := range rs.results {
		out[k] = v.clone()
	}
	return out
}

// readView returns an isolated read-only copy for a foreach task: the
// task sees already-completed context as of the copy, unaffected by
// concurrent sibling writes.
func (rs *resultSet) readView() *resultSet {
	return newResultSet(rs.snapshot())
}
