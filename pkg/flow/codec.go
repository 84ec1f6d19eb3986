package flow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Edge condition labels. Unlabeled edges carry a type-dependent meaning:
// the IVR default, the plain next transition, or an ordered fallback
// target.
const (
	CondTrue      = "true"
	CondFalse     = "false"
	CondConnected = "connected"
	CondTimeout   = "timeout"
	CondFull      = "full"
	CondAccept    = "accept"
	CondReject    = "reject"
	CondNoBuyers  = "no-buyers"
	CondAllBusy   = "all-busy"
	CondComplete  = "complete"
	CondError     = "error"
	CondAllFailed = "all-failed"
)

// NodeRow is the relational projection of one flow node.
type NodeRow struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

// EdgeRow is the relational projection of one transition. Priority encodes
// declaration order within the source node.
type EdgeRow struct {
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
	Condition  string `json:"condition,omitempty"`
	Priority   int    `json:"priority"`
}

// EncodeGraph projects a flow into node and edge rows. The entry point
// becomes a synthetic row named "Entry" so the stored graph is
// self-contained.
func EncodeGraph(f *Flow) ([]NodeRow, []EdgeRow, error) {
	nodes := make([]NodeRow, 0, len(f.Nodes)+1)
	edges := make([]EdgeRow, 0, len(f.Nodes)*2)

	entryCfg, err := json.Marshal(map[string]any{"target": f.Entry.Target})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode entry config: %w", err)
	}

	nodes = append(nodes, NodeRow{ID: f.Entry.ID, Type: NodeTypeEntry, Name: "Entry", Config: entryCfg})
	edges = append(edges, EdgeRow{FromNodeID: f.Entry.ID, ToNodeID: f.Entry.Target, Priority: 0})

	for _, n := range f.Nodes {
		cfg, err := json.Marshal(n)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode node %s: %w", n.NodeID(), err)
		}

		nodes = append(nodes, NodeRow{
			ID:     n.NodeID(),
			Type:   n.NodeType(),
			Name:   nodeName(n),
			Config: cfg,
		})

		edges = append(edges, encodeEdges(n)...)
	}

	return nodes, edges, nil
}

func encodeEdges(n Node) []EdgeRow {
	from := n.NodeID()

	var out []EdgeRow

	add := func(to, cond string) {
		if to == "" {
			return
		}

		out = append(out, EdgeRow{FromNodeID: from, ToNodeID: to, Condition: cond, Priority: len(out)})
	}

	switch v := n.(type) {
	case IVRNode:
		for _, c := range v.Choices {
			add(c.Target, c.Digits)
		}

		add(v.Default, "")
	case IfNode:
		add(v.Then, CondTrue)
		add(v.Else, CondFalse)
	case QueueNode:
		add(v.OnConnect, CondConnected)
		add(v.OnTimeout, CondTimeout)
		add(v.OnFull, CondFull)
	case BuyerNode:
		add(v.OnNoBuyers, CondNoBuyers)
		add(v.OnAllBusy, CondAllBusy)
		add(v.Next, "")
	case RecordNode:
		add(v.OnComplete, CondComplete)
		add(v.OnError, CondError)
	case TagNode:
		add(v.Next, "")
	case WhisperNode:
		add(v.OnAccept, CondAccept)
		add(v.OnReject, CondReject)
	case TimeoutNode:
		add(v.Next, "")
	case FallbackNode:
		for _, t := range v.FallbackTargets {
			add(t, "")
		}

		add(v.OnAllFailed, CondAllFailed)
	case HangupNode:
	}

	return out
}

// DecodeGraph reconstructs a flow from its relational projection.
// Transitions come from the edge rows; scalar config comes from the node
// config blob, which also backstops any transition with no surviving edge.
func DecodeGraph(id, name, version string, rows []NodeRow, edges []EdgeRow) (*Flow, error) {
	byFrom := make(map[string][]EdgeRow)

	for _, e := range edges {
		byFrom[e.FromNodeID] = append(byFrom[e.FromNodeID], e)
	}

	for from := range byFrom {
		sort.SliceStable(byFrom[from], func(i, j int) bool {
			return byFrom[from][i].Priority < byFrom[from][j].Priority
		})
	}

	f := &Flow{ID: id, Name: name, Version: version}

	for _, row := range rows {
		if row.Type == NodeTypeEntry {
			entry, err := decodeEntryRow(row, byFrom[row.ID])
			if err != nil {
				return nil, err
			}

			f.Entry = entry

			continue
		}

		node, err := decodeNodeRow(row, byFrom[row.ID])
		if err != nil {
			return nil, err
		}

		f.Nodes = append(f.Nodes, node)
	}

	if f.Entry.ID == "" {
		return nil, fmt.Errorf("%w: stored graph has no entry row", ErrInvalidFlow)
	}

	return f, nil
}

func decodeEntryRow(row NodeRow, edges []EdgeRow) (EntryNode, error) {
	var cfg struct {
		Target string `json:"target"`
	}

	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return EntryNode{}, fmt.Errorf("failed to decode entry config: %w", err)
		}
	}

	entry := EntryNode{
		BaseNode: BaseNode{ID: row.ID, Type: NodeTypeEntry},
		Target:   cfg.Target,
	}

	if entry.Target == "" && len(edges) > 0 {
		entry.Target = edges[0].ToNodeID
	}

	return entry, nil
}

func decodeNodeRow(row NodeRow, edges []EdgeRow) (Node, error) {
	cfg := row.Config
	if len(cfg) == 0 {
		cfg = []byte(fmt.Sprintf(`{"id":%q,"type":%q}`, row.ID, row.Type))
	}

	node, err := DecodeNode(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored node %s: %w", row.ID, err)
	}

	labeled := func(cond string) string {
		for _, e := range edges {
			if e.Condition == cond {
				return e.ToNodeID
			}
		}

		return ""
	}

	unlabeled := func() []string {
		var out []string

		for _, e := range edges {
			if e.Condition == "" {
				out = append(out, e.ToNodeID)
			}
		}

		return out
	}

	pick := func(fromEdges, fromConfig string) string {
		if fromEdges != "" {
			return fromEdges
		}

		return fromConfig
	}

	switch v := node.(type) {
	case IVRNode:
		var choices []Choice

		for _, e := range edges {
			if e.Condition != "" {
				choices = append(choices, Choice{Digits: e.Condition, Target: e.ToNodeID})
			}
		}

		if len(choices) > 0 {
			v.Choices = choices
		}

		if plain := unlabeled(); len(plain) > 0 {
			v.Default = plain[0]
		}

		return withIdentity(v, row), nil
	case IfNode:
		v.Then = pick(labeled(CondTrue), v.Then)
		v.Else = pick(labeled(CondFalse), v.Else)

		return withIdentity(v, row), nil
	case QueueNode:
		v.OnConnect = pick(labeled(CondConnected), v.OnConnect)
		v.OnTimeout = pick(labeled(CondTimeout), v.OnTimeout)
		v.OnFull = pick(labeled(CondFull), v.OnFull)

		return withIdentity(v, row), nil
	case BuyerNode:
		v.OnNoBuyers = pick(labeled(CondNoBuyers), v.OnNoBuyers)
		v.OnAllBusy = pick(labeled(CondAllBusy), v.OnAllBusy)

		if plain := unlabeled(); len(plain) > 0 {
			v.Next = plain[0]
		}

		return withIdentity(v, row), nil
	case RecordNode:
		v.OnComplete = pick(labeled(CondComplete), v.OnComplete)
		v.OnError = pick(labeled(CondError), v.OnError)

		return withIdentity(v, row), nil
	case TagNode:
		if plain := unlabeled(); len(plain) > 0 {
			v.Next = plain[0]
		}

		return withIdentity(v, row), nil
	case WhisperNode:
		v.OnAccept = pick(labeled(CondAccept), v.OnAccept)
		v.OnReject = pick(labeled(CondReject), v.OnReject)

		return withIdentity(v, row), nil
	case TimeoutNode:
		if plain := unlabeled(); len(plain) > 0 {
			v.Next = plain[0]
		}

		return withIdentity(v, row), nil
	case FallbackNode:
		if plain := unlabeled(); len(plain) > 0 {
			v.FallbackTargets = plain
		}

		v.OnAllFailed = pick(labeled(CondAllFailed), v.OnAllFailed)

		return withIdentity(v, row), nil
	default:
		return node, nil
	}
}

// withIdentity restamps the row identity onto the decoded variant so a
// config blob with a stale id cannot leak through.
func withIdentity(n Node, row NodeRow) Node {
	switch v := n.(type) {
	case IVRNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case IfNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case QueueNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case BuyerNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case RecordNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case TagNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case WhisperNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case TimeoutNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case FallbackNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	case HangupNode:
		v.ID, v.Type = row.ID, row.Type

		return v
	default:
		return n
	}
}

func nodeName(n Node) string {
	switch v := n.(type) {
	case IVRNode:
		return "IVR Menu"
	case IfNode:
		return "Condition"
	case QueueNode:
		return "Queue: " + v.QueueID
	case BuyerNode:
		return "Buyer Routing"
	case RecordNode:
		return "Record"
	case TagNode:
		return "Tag"
	case WhisperNode:
		return "Whisper"
	case TimeoutNode:
		return "Timeout"
	case FallbackNode:
		return "Fallback"
	case HangupNode:
		return "Hangup"
	default:
		return string(n.NodeType())
	}
}
