// Package workflow is the core of Loom: the step and graph data model,
// the fluent builder, the snapshot-driven interpreter, and the
// suspend/resume/restart protocol.
//
// A workflow is built once from steps and control-flow combinators and
// frozen with Commit. Each execution is a Run, created from the committed
// Definition, and driven via Start, Stream, Resume, Restart, or Cancel,
// all of which funnel into the same interpreter. Progress is captured in
// path-addressed snapshots persisted through the SnapshotStore interface,
// so a run can outlive its process: suspended runs are re-entered with
// caller-supplied resume data, and runs interrupted by a crash are
// restarted with completed steps replayed from the snapshot instead of
// re-executed.
package workflow
