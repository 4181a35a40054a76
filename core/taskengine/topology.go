package taskengine

import (
	"fmt"
	"sort"

	"github.com/AvaProtocol/chainflow/model"
)

// Step is one node in the execution plan together with its direct
// predecessors, whose outputs become part of the node inputs
type Step struct {
	Node         *model.WorkflowNode
	Predecessors []string
}

// Plan orders the workflow graph by dependency. Among nodes that are ready
// at the same time the lower node id runs first, so a plan is always the
// same for the same graph. A cycle or an edge to an unknown node is a
// configuration error.
func Plan(wf *model.Workflow) ([]*Step, error) {
	if len(wf.Nodes) == 0 {
		return nil, NewConfigurationError("workflow has no nodes")
	}

	nodes := make(map[string]*model.WorkflowNode, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.ID == "" {
			return nil, NewConfigurationError("node id cannot be empty")
		}
		if _, dup := nodes[n.ID]; dup {
			return nil, NewConfigurationError(fmt.Sprintf("node %s is declared twice", n.ID))
		}
		if !IsValidNodeType(n.Type) {
			return nil, NewConfigurationError(fmt.Sprintf("node %s has unknown type %q", n.ID, n.Type))
		}
		nodes[n.ID] = n
	}

	inDegree := make(map[string]int, len(nodes))
	next := map[string][]string{}
	preds := map[string][]string{}
	for _, e := range wf.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, NewConfigurationError(fmt.Sprintf("edge %s starts at unknown node %s", e.ID, e.Source))
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, NewConfigurationError(fmt.Sprintf("edge %s ends at unknown node %s", e.ID, e.Target))
		}
		next[e.Source] = append(next[e.Source], e.Target)
		preds[e.Target] = append(preds[e.Target], e.Source)
		inDegree[e.Target]++
	}

	var ready []string
	for id := range nodes {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	plan := make([]*Step, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]

		p := append([]string(nil), preds[id]...)
		sort.Strings(p)
		plan = append(plan, &Step{Node: nodes[id], Predecessors: p})

		for _, target := range next[id] {
			inDegree[target]--
			if inDegree[target] == 0 {
				ready = append(ready, target)
				sort.Strings(ready)
			}
		}
	}

	if len(plan) != len(nodes) {
		return nil, NewConfigurationError("workflow graph has a cycle")
	}
	return plan, nil
}
