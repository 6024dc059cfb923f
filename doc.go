// Package loom provides a composable, durable step-graph workflow engine
// for Go. Workflows are built from typed steps with control-flow
// combinators (sequence, parallel, conditional branch, bounded-concurrency
// foreach, loops), executed by a snapshot-driven interpreter that supports
// suspending mid-run to await external input, resuming later, and
// restarting after a crash.
//
// Loom is designed as a library, not a service. Import it, configure a
// snapshot store, and compose workflows from ordinary Go functions.
//
// # Quick Start
//
//	charge, _ := workflow.NewStep(workflow.StepConfig{
//	    ID: "charge",
//	    Execute: func(ctx context.Context, sc *workflow.StepContext) (any, error) {
//	        return chargeCard(ctx, sc.Input())
//	    },
//	})
//
//	def, err := workflow.New(workflow.Config{ID: "checkout"}).
//	    Then(charge).
//	    Then(receipt).
//	    Commit()
//
//	run, _ := def.CreateRun(ctx, workflow.WithSnapshotStore(memory.New()))
//	result, _ := run.Start(ctx, input)
//
// # Architecture
//
// Loom follows a composable store pattern: the workflow package defines the
// SnapshotStore interface and a backend implements it (memory, Redis, Bun/
// Postgres). Lifecycle events fan out through opt-in extension hooks in the
// ext package; the engine package wires definitions, stores, and extensions
// together.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package loom
