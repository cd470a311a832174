package workflow

import (
	"fmt"
	"sort"

	"github.com/BaSui01/graphflow/types"
)

// Validation error kinds, each surfaced as a distinct message prefix on the
// returned *types.Error.
const (
	KindUnknownNodeType   = "UnknownNodeType"
	KindDanglingEdge      = "DanglingEdge"
	KindCycle             = "Cycle"
	KindNoReachableOutput = "NoReachableOutput"
)

// Plan is a validated execution plan: a deterministic topological order plus
// the adjacency maps the executor consumes.
type Plan struct {
	// Order lists all node ids in topological order, ties broken by id
	// ascending. Byte-identical across runs for the same workflow.
	Order []string
	// Predecessors and Successors are sorted adjacency lists.
	Predecessors map[string][]string
	Successors   map[string][]string
	// Reachable marks nodes reachable from any input node.
	Reachable map[string]bool
	// Warnings carries non-fatal findings such as NoReachableOutput.
	Warnings []string
}

// Descendants returns all nodes reachable from id, excluding id itself.
func (p *Plan) Descendants(id string) map[string]bool {
	result := make(map[string]bool)
	queue := append([]string(nil), p.Successors[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if result[next] {
			continue
		}
		result[next] = true
		queue = append(queue, p.Successors[next]...)
	}
	return result
}

// BuildPlan validates the workflow graph and computes its execution plan.
// Unknown node types, dangling edges, self-loops, and cycles are each a
// distinct fatal validation error; an unreachable output is only a warning.
func BuildPlan(w *Workflow) (*Plan, error) {
	nodeIDs := make(map[string]*Node, len(w.Nodes))
	for i := range w.Nodes {
		node := &w.Nodes[i]
		if _, ok := CategoryOf(node.Type); !ok {
			return nil, validationError(KindUnknownNodeType,
				fmt.Sprintf("node %s has unknown type %q", node.ID, node.Type))
		}
		nodeIDs[node.ID] = node
	}

	preds := make(map[string][]string, len(w.Nodes))
	succs := make(map[string][]string, len(w.Nodes))
	for id := range nodeIDs {
		preds[id] = nil
		succs[id] = nil
	}

	for _, edge := range w.Edges {
		if _, ok := nodeIDs[edge.Source]; !ok {
			return nil, validationError(KindDanglingEdge,
				fmt.Sprintf("edge references missing source node %s", edge.Source))
		}
		if _, ok := nodeIDs[edge.Target]; !ok {
			return nil, validationError(KindDanglingEdge,
				fmt.Sprintf("edge references missing target node %s", edge.Target))
		}
		if edge.Source == edge.Target {
			return nil, validationError(KindCycle,
				fmt.Sprintf("self-loop on node %s", edge.Source))
		}
		succs[edge.Source] = append(succs[edge.Source], edge.Target)
		preds[edge.Target] = append(preds[edge.Target], edge.Source)
	}

	for id := range nodeIDs {
		sort.Strings(preds[id])
		sort.Strings(succs[id])
	}

	order, err := kahnSort(nodeIDs, preds, succs)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Order:        order,
		Predecessors: preds,
		Successors:   succs,
		Reachable:    computeReachable(nodeIDs, preds, succs),
	}

	if !outputReachable(nodeIDs, plan.Reachable) {
		plan.Warnings = append(plan.Warnings,
			KindNoReachableOutput+": no output node is reachable from an input node")
	}

	return plan, nil
}

// kahnSort runs Kahn's algorithm with deterministic tie-breaking: among all
// ready nodes the smallest id is always taken first.
func kahnSort(nodes map[string]*Node, preds, succs map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	var ready []string
	for id := range nodes {
		inDegree[id] = len(preds[id])
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range succs[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(order) != len(nodes) {
		remaining := make([]string, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, validationError(KindCycle,
			fmt.Sprintf("graph contains a directed cycle involving %v", remaining))
	}
	return order, nil
}

func insertSorted(list []string, id string) []string {
	i := sort.SearchStrings(list, id)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = id
	return list
}

// computeReachable marks every node reachable from an input node. A graph
// with no input nodes at all falls back to treating its sources (nodes without
// incoming edges) as entry points so such fragments still execute.
func computeReachable(nodes map[string]*Node, preds, succs map[string][]string) map[string]bool {
	reachable := make(map[string]bool, len(nodes))
	var queue []string
	for id, node := range nodes {
		if node.Category() == CategoryInput {
			reachable[id] = true
			queue = append(queue, id)
		}
	}
	if len(queue) == 0 {
		for id := range nodes {
			if len(preds[id]) == 0 {
				reachable[id] = true
				queue = append(queue, id)
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range succs[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}

func outputReachable(nodes map[string]*Node, reachable map[string]bool) bool {
	hasOutput := false
	for id, node := range nodes {
		if node.Category() == CategoryOutput {
			hasOutput = true
			if reachable[id] {
				return true
			}
		}
	}
	// A workflow without output nodes is legal; the warning targets graphs
	// whose outputs exist but cannot be reached.
	return !hasOutput
}

func validationError(kind, message string) *types.Error {
	return types.NewError(types.ErrValidation, kind+": "+message).WithHTTPStatus(400)
}
