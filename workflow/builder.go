package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/loom"
	"github.com/xraph/loom/schema"
)

// CallbackInfo is passed to the OnFinish and OnError callbacks.
type CallbackInfo struct {
	RunID          string
	WorkflowID     string
	Status         Status
	State          map[string]any
	ResourceID     string
	InitData       any
	Logger         *slog.Logger
	RequestContext map[string]any
	Host           any
}

// Config configures a workflow definition.
type Config struct {
	// ID uniquely identifies the workflow. Required. When the workflow is
	// nested inside another graph, it doubles as its step id.
	ID string

	// Description is optional human-readable documentation.
	Description string

	InputSchema  schema.Schema
	OutputSchema schema.Schema
	StateSchema  schema.Schema

	// ValidateInputs enables runtime validation of the workflow input and
	// each step's resolved input, plus a static subset-compatibility
	// check between adjacent declared schemas at Commit.
	ValidateInputs bool

	// ShouldPersistSnapshot is evaluated after every node settles; the
	// snapshot is written only when it returns true for the new status.
	// Suspension always persists regardless. Nil means persist only on
	// suspension.
	ShouldPersistSnapshot func(Status) bool

	// OnFinish is invoked once per run with the terminal outcome,
	// including canceled and tripwire outcomes.
	OnFinish func(ctx context.Context, info *CallbackInfo)

	// OnError is additionally invoked when the run fails.
	OnError func(ctx context.Context, info *CallbackInfo, err error)
}

// Builder accumulates an immutable edit list of graph nodes via fluent
// combinator calls and materializes a frozen Definition at Commit.
// Builders are not safe for concurrent use.
type Builder struct {
	cfg       Config
	nodes     []*node
	steps     map[string]Executable
	err       error
	committed bool
}

// New starts building a workflow.
func New(cfg Config) *Builder {
	b := &Builder{cfg: cfg, steps: make(map[string]Executable)}
	if cfg.ID == "" {
		b.fail("workflow id is required")
	}
	// "." separates nested workflow segments in resume paths.
	if strings.Contains(cfg.ID, ".") {
		b.fail("workflow id %q must not contain '.'", cfg.ID)
	}
	return b
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = &loom.DefinitionError{WorkflowID: b.cfg.ID, Reason: fmt.Sprintf(format, args...)}
	}
}

// add appends a node. Mutating a committed builder is a programmer error.
func (b *Builder) add(n *node) *Builder {
	if b.committed {
		panic(&loom.DefinitionError{WorkflowID: b.cfg.ID, Reason: "graph already committed"})
	}
	b.nodes = append(b.nodes, n)
	return b
}

// register records an executable's step id, enforcing uniqueness.
func (b *Builder) register(exec Executable) {
	if exec == nil {
		b.fail("nil executable")
		return
	}
	id := exec.ExecID()
	if _, exists := b.steps[id]; exists {
		b.fail("duplicate step id %q", id)
		return
	}
	if def, ok := exec.(*Definition); ok && def.serialized == nil {
		b.fail("nested workflow %q is not committed", id)
		return
	}
	b.steps[id] = exec
}

// Then appends a step (or nested workflow) executed in sequence: its
// input is the previous node's output.
func (b *Builder) Then(exec Executable) *Builder {
	b.register(exec)
	return b.add(&node{kind: kindStep, exec: exec})
}

// Parallel appends a block whose members all execute concurrently against
// the same input. The block's output maps each member's step id to its
// output.
func (b *Builder) Parallel(execs ...Executable) *Builder {
	if len(execs) == 0 {
		b.fail("parallel requires at least one executable")
	}
	for _, exec := range execs {
		b.register(exec)
	}
	return b.add(&node{kind: kindParallel, children: execs})
}

// Branch appends a conditional block. Every predicate is evaluated
// against the current input and all matching arms execute concurrently,
// not just the first match. Each result is addressable by its step id; the first
// declared matching arm's output flows forward as the block output.
func (b *Builder) Branch(arms ...BranchArm) *Builder {
	if len(arms) == 0 {
		b.fail("branch requires at least one arm")
	}
	for _, arm := range arms {
		if arm.When == nil {
			b.fail("branch arm has nil predicate")
			continue
		}
		b.register(arm.Do)
	}
	return b.add(&node{kind: kindBranch, arms: arms})
}

// DoWhile appends a loop that executes the body, then repeats while the
// predicate (evaluated against each iteration's output) returns true.
// The engine enforces no maximum iteration count.
func (b *Builder) DoWhile(exec Executable, cond LoopCondition) *Builder {
	return b.loop(exec, cond, LoopWhile)
}

// DoUntil appends a loop that executes the body, then repeats while the
// predicate returns false, the inverse of DoWhile.
func (b *Builder) DoUntil(exec Executable, cond LoopCondition) *Builder {
	return b.loop(exec, cond, LoopUntil)
}

func (b *Builder) loop(exec Executable, cond LoopCondition, mode LoopMode) *Builder {
	if cond == nil {
		b.fail("loop requires a predicate")
	}
	b.register(exec)
	return b.add(&node{kind: kindLoop, exec: exec, loopMode: mode, loopCond: cond})
}

// Foreach appends a node that maps the executable over an array input
// with a bounded-concurrency worker pool. Output preserves the original
// array order regardless of completion order.
func (b *Builder) Foreach(exec Executable, opts ForeachOpts) *Builder {
	b.register(exec)
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return b.add(&node{kind: kindForeach, exec: exec, concurrency: concurrency})
}

// Map appends a declarative mapping producing the next node's input.
func (b *Builder) Map(m MapConfig) *Builder {
	if len(m) == 0 {
		b.fail("map requires at least one entry")
	}
	return b.add(&node{kind: kindMap, mapConfig: m})
}

// MapWith appends a mapping computed by an arbitrary function.
func (b *Builder) MapWith(fn MapFunc) *Builder {
	if fn == nil {
		b.fail("map function is nil")
	}
	return b.add(&node{kind: kindMap, mapFn: fn})
}

// Commit freezes the graph into an immutable Definition. It fails if no
// execution-flow combinator was ever called, if any combinator call was
// invalid, or (when ValidateInputs is set) if a step's declared input
// schema cannot be satisfied by its predecessor's declared output schema.
func (b *Builder) Commit() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, &loom.DefinitionError{WorkflowID: b.cfg.ID, Reason: "execution flow not defined"}
	}
	if b.cfg.ValidateInputs {
		if err := b.checkSchemaChain(); err != nil {
			return nil, err
		}
	}

	def := &Definition{
		cfg:   b.cfg,
		graph: b.nodes,
		steps: b.steps,
	}
	def.serialized = serializeGraph(b.cfg.ID, b.nodes)
	b.committed = true
	return def, nil
}

// checkSchemaChain statically verifies that each node's declared input
// schema is subset-compatible with its predecessor's declared output
// schema. Nodes without declared schemas defer to runtime validation.
func (b *Builder) checkSchemaChain() error {
	producer := b.cfg.InputSchema
	producerID := "workflow input"
	for _, n := range b.nodes {
		for _, exec := range n.consumers() {
			if !schema.Accepts(producer, execInputSchema(exec)) {
				return &loom.DefinitionError{
					WorkflowID: b.cfg.ID,
					Reason: fmt.Sprintf("step %q input schema is not satisfiable by %s output schema",
						exec.ExecID(), producerID),
				}
			}
		}
		if out, outID, ok := n.producer(); ok {
			producer, producerID = out, outID
		} else {
			// Map and fan-out blocks produce dynamic shapes.
			producer, producerID = nil, "previous node"
		}
	}
	return nil
}

// consumers returns the executables that receive this node's input.
func (n *node) consumers() []Executable {
	switch n.kind {
	case kindStep, kindLoop:
		return []Executable{n.exec}
	case kindForeach:
		// The body consumes one array element; the element shape is not
		// statically related to the predecessor's declared output.
		return nil
	case kindParallel:
		return n.children
	case kindBranch:
		execs := make([]Executable, 0, len(n.arms))
		for _, arm := range n.arms {
			execs = append(execs, arm.Do)
		}
		return execs
	default:
		return nil
	}
}

// producer returns the node's declared output schema, when it has a
// statically known one.
func (n *node) producer() (schema.Schema, string, bool) {
	switch n.kind {
	case kindStep, kindLoop:
		return execOutputSchema(n.exec), fmt.Sprintf("step %q", n.exec.ExecID()), true
	case kindForeach:
		return schema.Array(execOutputSchema(n.exec)), fmt.Sprintf("foreach %q", n.exec.ExecID()), true
	default:
		return nil, "", false
	}
}

func execInputSchema(exec Executable) schema.Schema {
	switch e := exec.(type) {
	case *Step:
		return e.inputSchema
	case *Definition:
		return e.cfg.InputSchema
	default:
		return nil
	}
}

func execOutputSchema(exec Executable) schema.Schema {
	switch e := exec.(type) {
	case *Step:
		return e.outputSchema
	case *Definition:
		return e.cfg.OutputSchema
	default:
		return nil
	}
}

func execResumeSchema(exec Executable) schema.Schema {
	if s, ok := exec.(*Step); ok {
		return s.resumeSchema
	}
	return nil
}
