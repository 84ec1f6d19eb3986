package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Flow is an authored routing flow document.
type Flow struct {
	ID          string         `json:"id"      validate:"required"`
	Name        string         `json:"name"    validate:"required"`
	Version     string         `json:"version" validate:"required"`
	Description string         `json:"description,omitempty"`
	Entry       EntryNode      `json:"entry"`
	Nodes       []Node         `json:"nodes"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes the node list into concrete variants.
func (f *Flow) UnmarshalJSON(data []byte) error {
	type alias Flow

	aux := struct {
		*alias

		Nodes []json.RawMessage `json:"nodes"`
	}{alias: (*alias)(f)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	f.Nodes = make([]Node, 0, len(aux.Nodes))

	for i, raw := range aux.Nodes {
		node, err := DecodeNode(raw)
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}

		f.Nodes = append(f.Nodes, node)
	}

	if f.Entry.Type == "" {
		f.Entry.Type = NodeTypeEntry
	}

	return nil
}

// Node returns the node with the given id, or nil when absent.
func (f *Flow) Node(id string) Node {
	for _, n := range f.Nodes {
		if n.NodeID() == id {
			return n
		}
	}

	return nil
}

// ExecutionHistoryEntry records one executor step for diagnostics.
type ExecutionHistoryEntry struct {
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"eventType,omitempty"`
}

// ExecutionContext is the per-call mutable state threaded through the
// executor. The executor clones it on every step; callers never see their
// input mutated.
type ExecutionContext struct {
	CallID        string                  `json:"callId"`
	TenantID      string                  `json:"tenantId"`
	CurrentNodeID string                  `json:"currentNodeId"`
	Variables     map[string]any          `json:"variables"`
	Tags          map[string]any          `json:"tags"`
	IVRInput      string                  `json:"ivrInput,omitempty"`
	RecordingURL  string                  `json:"recordingUrl,omitempty"`
	StartedAt     time.Time               `json:"startedAt"`
	History       []ExecutionHistoryEntry `json:"history"`
}

// Clone returns a deep copy. Variables and Tags hold JSON-shaped values, so
// a one-level map copy is sufficient.
func (c ExecutionContext) Clone() ExecutionContext {
	out := c

	out.Variables = make(map[string]any, len(c.Variables))
	for k, v := range c.Variables {
		out.Variables[k] = v
	}

	out.Tags = make(map[string]any, len(c.Tags))
	for k, v := range c.Tags {
		out.Tags[k] = v
	}

	out.History = make([]ExecutionHistoryEntry, len(c.History), len(c.History)+1)
	copy(out.History, c.History)

	return out
}

// NewExecutionContext builds the starting context for a call positioned at
// the plan's entry target.
func NewExecutionContext(callID, tenantID, entryTarget string) ExecutionContext {
	return ExecutionContext{
		CallID:        callID,
		TenantID:      tenantID,
		CurrentNodeID: entryTarget,
		Variables:     map[string]any{},
		Tags:          map[string]any{},
		StartedAt:     time.Now().UTC(),
	}
}
