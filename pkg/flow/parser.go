package flow

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Parse decodes and validates a flow document. It returns an
// *InvalidFlowError listing every issue when validation fails.
func Parse(data []byte) (*Flow, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(flowSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, &InvalidFlowError{Issues: []string{fmt.Sprintf("malformed document: %s", err)}}
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}

		return nil, &InvalidFlowError{Issues: issues}
	}

	var f Flow

	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &InvalidFlowError{Issues: []string{err.Error()}}
	}

	if issues := Validate(&f); len(issues) > 0 {
		return nil, &InvalidFlowError{FlowID: f.ID, Issues: issues}
	}

	return &f, nil
}

// Validate checks the cross-node integrity of a decoded flow: unique ids
// and no dangling transition references. It returns the list of issues,
// empty when the flow is sound.
func Validate(f *Flow) []string {
	var issues []string

	ids := make(map[string]struct{}, len(f.Nodes)+1)
	ids[f.Entry.ID] = struct{}{}

	for _, n := range f.Nodes {
		if _, dup := ids[n.NodeID()]; dup {
			issues = append(issues, fmt.Sprintf("duplicate node id %q", n.NodeID()))
		}

		ids[n.NodeID()] = struct{}{}
	}

	check := func(from string, targets []string) {
		for _, t := range targets {
			if _, ok := ids[t]; !ok {
				issues = append(issues, fmt.Sprintf("node %q references unknown node %q", from, t))
			}
		}
	}

	check(f.Entry.ID, f.Entry.Targets())

	for _, n := range f.Nodes {
		check(n.NodeID(), n.Targets())
	}

	return issues
}
