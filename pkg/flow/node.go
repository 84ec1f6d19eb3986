// Package flow defines the declarative call-routing flow model: the flow
// document, its node variants and the compiled execution plan.
package flow

import (
	"encoding/json"
	"fmt"
)

// NodeType discriminates the node variants of a routing flow.
type NodeType string

const (
	NodeTypeEntry    NodeType = "entry"
	NodeTypeIVR      NodeType = "ivr"
	NodeTypeIf       NodeType = "if"
	NodeTypeQueue    NodeType = "queue"
	NodeTypeBuyer    NodeType = "buyer"
	NodeTypeRecord   NodeType = "record"
	NodeTypeTag      NodeType = "tag"
	NodeTypeWhisper  NodeType = "whisper"
	NodeTypeTimeout  NodeType = "timeout"
	NodeTypeFallback NodeType = "fallback"
	NodeTypeHangup   NodeType = "hangup"
)

// RoutingStrategy selects which buyer receives a routed call.
type RoutingStrategy string

const (
	StrategyRoundRobin     RoutingStrategy = "round-robin"
	StrategyWeightedRandom RoutingStrategy = "weighted-random"
	StrategyLeastCalls     RoutingStrategy = "least-calls"
)

// Node is one step of a routing flow. Each variant owns its config plus its
// named outgoing transitions; Targets lists every node id the variant can
// transition to, which is what reference validation walks.
type Node interface {
	NodeID() string
	NodeType() NodeType
	Targets() []string
}

// BaseNode carries the fields shared by every variant.
type BaseNode struct {
	ID   string   `json:"id"   validate:"required"`
	Type NodeType `json:"type" validate:"required"`
	Next string   `json:"next,omitempty"`
}

func (b BaseNode) NodeID() string     { return b.ID }
func (b BaseNode) NodeType() NodeType { return b.Type }

// EntryNode is the starting point of a flow. It never executes; it only
// names the first real node.
type EntryNode struct {
	BaseNode

	Target string `json:"target" validate:"required"`
}

func (n EntryNode) Targets() []string {
	return appendNonEmpty(nil, n.Target, n.Next)
}

// Choice maps a DTMF digit sequence to a target node.
type Choice struct {
	Digits string `json:"digits"`
	Target string `json:"target"`
}

// IVRNode plays a prompt and collects DTMF digits.
type IVRNode struct {
	BaseNode

	Prompt      string   `json:"prompt"`
	Timeout     int      `json:"timeout,omitempty"`
	MaxDigits   int      `json:"maxDigits,omitempty"`
	FinishOnKey string   `json:"finishOnKey,omitempty"`
	Choices     []Choice `json:"choices"`
	Default     string   `json:"default,omitempty"`
}

func (n IVRNode) Targets() []string {
	refs := make([]string, 0, len(n.Choices)+2)
	for _, c := range n.Choices {
		refs = append(refs, c.Target)
	}

	return appendNonEmpty(refs, n.Default, n.Next)
}

// IfNode branches on a boolean expression evaluated against the call's
// variable bag.
type IfNode struct {
	BaseNode

	Condition string `json:"condition"`
	Then      string `json:"then"`
	Else      string `json:"else,omitempty"`
}

func (n IfNode) Targets() []string {
	return appendNonEmpty(nil, n.Then, n.Else, n.Next)
}

// QueueNode parks the call in a named queue until an agent connects or the
// wait times out.
type QueueNode struct {
	BaseNode

	QueueID   string `json:"queueId"`
	WaitURL   string `json:"waitUrl,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
	MaxSize   int    `json:"maxSize,omitempty"`
	OnTimeout string `json:"onTimeout,omitempty"`
	OnFull    string `json:"onFull,omitempty"`
	OnConnect string `json:"onConnect,omitempty"`
}

func (n QueueNode) Targets() []string {
	return appendNonEmpty(nil, n.OnTimeout, n.OnFull, n.OnConnect, n.Next)
}

// Buyer is one call-destination counterparty attached to a buyer node.
type Buyer struct {
	ID             string `json:"id"`
	Destination    string `json:"destination"`
	Weight         int    `json:"weight"`
	MaxConcurrency int    `json:"maxConcurrency,omitempty"`
	MaxDailyCalls  int    `json:"maxDailyCalls,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// UnmarshalJSON applies the document defaults: weight 1, enabled true.
func (b *Buyer) UnmarshalJSON(data []byte) error {
	type alias Buyer

	aux := struct {
		*alias

		Weight  *int  `json:"weight"`
		Enabled *bool `json:"enabled"`
	}{alias: (*alias)(b)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	b.Weight = 1
	if aux.Weight != nil {
		b.Weight = *aux.Weight
	}

	b.Enabled = true
	if aux.Enabled != nil {
		b.Enabled = *aux.Enabled
	}

	return nil
}

// BuyerNode routes the call to one of a set of buyers via a selection
// strategy.
type BuyerNode struct {
	BaseNode

	Buyers     []Buyer         `json:"buyers"`
	Strategy   RoutingStrategy `json:"strategy,omitempty"`
	OnNoBuyers string          `json:"onNoBuyers,omitempty"`
	OnAllBusy  string          `json:"onAllBusy,omitempty"`
}

func (n BuyerNode) Targets() []string {
	return appendNonEmpty(nil, n.OnNoBuyers, n.OnAllBusy, n.Next)
}

// RecordNode starts call recording and waits for completion.
type RecordNode struct {
	BaseNode

	Format     string `json:"format,omitempty"`
	Channels   string `json:"channels,omitempty"`
	Beep       bool   `json:"beep,omitempty"`
	OnComplete string `json:"onComplete,omitempty"`
	OnError    string `json:"onError,omitempty"`
}

func (n RecordNode) Targets() []string {
	return appendNonEmpty(nil, n.OnComplete, n.OnError, n.Next)
}

// TagNode merges a static tag map into the call context.
type TagNode struct {
	BaseNode

	Tags map[string]any `json:"tags"`
}

func (n TagNode) Targets() []string {
	return appendNonEmpty(nil, n.Next)
}

// WhisperNode plays an announcement to the callee before connecting and
// waits for an accept or reject.
type WhisperNode struct {
	BaseNode

	CallerPrompt string `json:"callerPrompt,omitempty"`
	CalleePrompt string `json:"calleePrompt,omitempty"`
	OnAccept     string `json:"onAccept,omitempty"`
	OnReject     string `json:"onReject,omitempty"`
	Timeout      int    `json:"timeout,omitempty"`
}

func (n WhisperNode) Targets() []string {
	return appendNonEmpty(nil, n.OnAccept, n.OnReject, n.Next)
}

// TimeoutNode transitions immediately, carrying a duration the engine
// interprets as a delay before the next step.
type TimeoutNode struct {
	BaseNode

	Duration int `json:"duration"`
}

func (n TimeoutNode) Targets() []string {
	return appendNonEmpty(nil, n.Next)
}

// FallbackNode attempts the first of an ordered target list.
type FallbackNode struct {
	BaseNode

	FallbackTargets []string `json:"targets"`
	OnAllFailed     string   `json:"onAllFailed,omitempty"`
}

func (n FallbackNode) Targets() []string {
	refs := make([]string, 0, len(n.FallbackTargets)+2)
	refs = append(refs, n.FallbackTargets...)

	return appendNonEmpty(refs, n.OnAllFailed, n.Next)
}

// HangupNode ends the call. Terminal: it has no outgoing transitions.
type HangupNode struct {
	BaseNode

	Reason string `json:"reason,omitempty"`
}

func (n HangupNode) Targets() []string {
	return nil
}

// DecodeNode unmarshals a single node document into its concrete variant.
func DecodeNode(data json.RawMessage) (Node, error) {
	var head struct {
		Type NodeType `json:"type"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to read node type: %w", err)
	}

	var (
		node Node
		err  error
	)

	switch head.Type {
	case NodeTypeEntry:
		node, err = decodeAs[EntryNode](data)
	case NodeTypeIVR:
		node, err = decodeAs[IVRNode](data)
	case NodeTypeIf:
		node, err = decodeAs[IfNode](data)
	case NodeTypeQueue:
		node, err = decodeAs[QueueNode](data)
	case NodeTypeBuyer:
		var n BuyerNode

		if err = json.Unmarshal(data, &n); err == nil {
			if n.Strategy == "" {
				n.Strategy = StrategyRoundRobin
			}

			node = n
		}
	case NodeTypeRecord:
		var n RecordNode

		if err = json.Unmarshal(data, &n); err == nil {
			if n.Format == "" {
				n.Format = "wav"
			}

			if n.Channels == "" {
				n.Channels = "dual"
			}

			node = n
		}
	case NodeTypeTag:
		node, err = decodeAs[TagNode](data)
	case NodeTypeWhisper:
		node, err = decodeAs[WhisperNode](data)
	case NodeTypeTimeout:
		node, err = decodeAs[TimeoutNode](data)
	case NodeTypeFallback:
		node, err = decodeAs[FallbackNode](data)
	case NodeTypeHangup:
		var n HangupNode

		if err = json.Unmarshal(data, &n); err == nil {
			if n.Reason == "" {
				n.Reason = "normal"
			}

			node = n
		}
	default:
		return nil, fmt.Errorf("unknown node type %q", head.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s node: %w", head.Type, err)
	}

	return node, nil
}

func decodeAs[T Node](data json.RawMessage) (Node, error) {
	var n T

	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}

	return n, nil
}

func appendNonEmpty(refs []string, candidates ...string) []string {
	for _, c := range candidates {
		if c != "" {
			refs = append(refs, c)
		}
	}

	return refs
}
