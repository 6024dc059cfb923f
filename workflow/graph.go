package workflow

import "context"

// nodeKind tags the graph node variants.
type nodeKind uint8

const (
	kindStep nodeKind = iota
	kindParallel
	kindBranch
	kindLoop
	kindForeach
	kindMap
)

func (k nodeKind) String() string {
	switch k {
	case kindStep:
		return "step"
	case kindParallel:
		return "parallel"
	case kindBranch:
		return "branch"
	case kindLoop:
		return "loop"
	case kindForeach:
		return "foreach"
	case kindMap:
		return "map"
	default:
		return "unknown"
	}
}

// LoopMode selects the predicate polarity of a loop node.
type LoopMode string

// Loop modes. DoWhile repeats the body while the predicate is true;
// DoUntil repeats while it is false.
const (
	LoopWhile LoopMode = "while"
	LoopUntil LoopMode = "until"
)

// Condition is a predicate evaluated against a node's current input.
type Condition func(ctx context.Context, input any) (bool, error)

// LoopCondition is a predicate evaluated after each loop iteration
// against that iteration's output.
type LoopCondition func(ctx context.Context, output any) (bool, error)

// BranchArm pairs a predicate with the executable to run when it matches.
type BranchArm struct {
	When Condition
	Do   Executable
}

// ForeachOpts configures a foreach node.
type ForeachOpts struct {
	// Concurrency is the maximum number of simultaneously in-flight item
	// executions. Zero or one means strictly sequential.
	Concurrency int
}

// node is one vertex of the frozen graph. Exactly one variant's fields
// are populated, per kind.
type node struct {
	kind nodeKind

	// kindStep, kindLoop, kindForeach: the executable (step or nested
	// workflow).
	exec Executable

	// kindParallel: concurrent children.
	children []Executable

	// kindBranch: predicate-guarded arms.
	arms []BranchArm

	// kindLoop.
	loopMode LoopMode
	loopCond LoopCondition

	// kindForeach.
	concurrency int

	// kindMap.
	mapConfig MapConfig
	mapFn     MapFunc
}
