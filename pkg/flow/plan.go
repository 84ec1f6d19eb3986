package flow

import (
	"encoding/json"
	"fmt"
)

// ExecutionPlan is a flow compiled for interpretation: constant-time node
// lookup plus the id of the first executable node.
type ExecutionPlan struct {
	FlowID      string          `json:"flowId"`
	FlowVersion string          `json:"flowVersion"`
	EntryNodeID string          `json:"entryNodeId"`
	Nodes       map[string]Node `json:"nodes"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// CompilePlan validates a flow and indexes its nodes. The entry's target
// becomes the plan's starting node.
func CompilePlan(f *Flow) (*ExecutionPlan, error) {
	if issues := Validate(f); len(issues) > 0 {
		return nil, &InvalidFlowError{FlowID: f.ID, Issues: issues}
	}

	nodes := make(map[string]Node, len(f.Nodes))
	for _, n := range f.Nodes {
		nodes[n.NodeID()] = n
	}

	if _, ok := nodes[f.Entry.Target]; !ok {
		return nil, &InvalidFlowError{FlowID: f.ID, Issues: []string{
			fmt.Sprintf("entry targets unknown node %q", f.Entry.Target),
		}}
	}

	return &ExecutionPlan{
		FlowID:      f.ID,
		FlowVersion: f.Version,
		EntryNodeID: f.Entry.Target,
		Nodes:       nodes,
		Metadata:    f.Metadata,
	}, nil
}

// Node returns the plan node with the given id.
func (p *ExecutionPlan) Node(id string) (Node, error) {
	n, ok := p.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	return n, nil
}

// UnmarshalJSON restores the typed node index from a persisted plan
// snapshot.
func (p *ExecutionPlan) UnmarshalJSON(data []byte) error {
	type alias ExecutionPlan

	aux := struct {
		*alias

		Nodes map[string]json.RawMessage `json:"nodes"`
	}{alias: (*alias)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.Nodes = make(map[string]Node, len(aux.Nodes))

	for id, raw := range aux.Nodes {
		node, err := DecodeNode(raw)
		if err != nil {
			return fmt.Errorf("plan node %s: %w", id, err)
		}

		p.Nodes[id] = node
	}

	return nil
}
