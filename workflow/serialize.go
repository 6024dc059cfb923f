package workflow

import "sort"

// SerializedGraph is a persistable, streamable description of a committed
// graph, decoupled from executable code. It is stored in every snapshot
// and can be used to render a run without loading step code.
type SerializedGraph struct {
	WorkflowID string            `json:"workflowId" msgpack:"workflow_id"`
	Nodes      []*SerializedNode `json:"nodes" msgpack:"nodes"`
}

// SerializedNode describes one graph node.
type SerializedNode struct {
	Type   string `json:"type" msgpack:"type"`
	StepID string `json:"stepId,omitempty" msgpack:"step_id,omitempty"`

	// Children describes a parallel block's members or a branch's arms.
	Children []*SerializedNode `json:"children,omitempty" msgpack:"children,omitempty"`

	// Workflow is the nested graph when the node executes a workflow.
	Workflow *SerializedGraph `json:"workflow,omitempty" msgpack:"workflow,omitempty"`

	LoopMode    string   `json:"loopMode,omitempty" msgpack:"loop_mode,omitempty"`
	Concurrency int      `json:"concurrency,omitempty" msgpack:"concurrency,omitempty"`
	MapKeys     []string `json:"mapKeys,omitempty" msgpack:"map_keys,omitempty"`
}

// serializeGraph freezes the node list into its serialized form.
func serializeGraph(workflowID string, nodes []*node) *SerializedGraph {
	out := &SerializedGraph{WorkflowID: workflowID}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, serializeNode(n))
	}
	return out
}

func serializeNode(n *node) *SerializedNode {
	sn := &SerializedNode{Type: n.kind.String()}
	switch n.kind {
	case kindStep:
		fillExecutable(sn, n.exec)
	case kindParallel:
		for _, child := range n.children {
			cn := &SerializedNode{Type: kindStep.String()}
			fillExecutable(cn, child)
			sn.Children = append(sn.Children, cn)
		}
	case kindBranch:
		for _, arm := range n.arms {
			an := &SerializedNode{Type: kindStep.String()}
			fillExecutable(an, arm.Do)
			sn.Children = append(sn.Children, an)
		}
	case kindLoop:
		fillExecutable(sn, n.exec)
		sn.LoopMode = string(n.loopMode)
	case kindForeach:
		fillExecutable(sn, n.exec)
		sn.Concurrency = n.concurrency
	case kindMap:
		keys := make([]string, 0, len(n.mapConfig))
		for key := range n.mapConfig {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		sn.MapKeys = keys
	}
	return sn
}

func fillExecutable(sn *SerializedNode, exec Executable) {
	sn.StepID = exec.ExecID()
	if def, ok := exec.(*Definition); ok {
		sn.Workflow = def.serialized
	}
}
