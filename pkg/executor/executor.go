// Package executor interprets single flow nodes. Execute is a pure
// function of plan, context and event: it performs no I/O, never mutates
// its input, and returns the transition plus the side effect the engine
// should dispatch.
package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
)

type ActionType string

const (
	ActionContinue     ActionType = "continue"
	ActionPlay         ActionType = "play"
	ActionQueueJoin    ActionType = "queue.join"
	ActionQueueConnect ActionType = "queue.connect"
	ActionBuyerRoute   ActionType = "buyer.route"
	ActionRecordStart  ActionType = "record.start"
	ActionWhisperStart ActionType = "whisper.start"
	ActionTag          ActionType = "tag"
	ActionWait         ActionType = "wait"
	ActionHangup       ActionType = "hangup"
)

// Action is the side effect a node step asks the engine to dispatch.
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Result is the outcome of executing one node. A nil NextNodeID suspends
// the call at the current node until the next telephony event.
type Result struct {
	NextNodeID *string
	Action     Action
	Context    flow.ExecutionContext
}

// Executor interprets flow nodes. Buyer selection strategies are
// pluggable; New installs the three built-ins.
type Executor struct {
	strategies map[flow.RoutingStrategy]BuyerStrategy
}

func New() *Executor {
	return &Executor{strategies: defaultStrategies()}
}

// RegisterStrategy installs or replaces a buyer selection strategy.
func (e *Executor) RegisterStrategy(kind flow.RoutingStrategy, s BuyerStrategy) {
	e.strategies[kind] = s
}

// Execute runs the context's current node against an optional telephony
// event. The input context is cloned before any change.
func (e *Executor) Execute(plan *flow.ExecutionPlan, in flow.ExecutionContext, event events.TelephonyEvent) (Result, error) {
	event = normalizeEvent(event)

	node, err := plan.Node(in.CurrentNodeID)
	if err != nil {
		return Result{}, err
	}

	ctx := in.Clone()

	entry := flow.ExecutionHistoryEntry{NodeID: node.NodeID(), Timestamp: time.Now().UTC()}
	if event != nil {
		entry.EventType = string(event.GetType())
	}

	ctx.History = append(ctx.History, entry)

	switch n := node.(type) {
	case flow.IVRNode:
		return e.executeIVR(n, ctx, event)
	case flow.IfNode:
		return e.executeIf(n, ctx)
	case flow.QueueNode:
		return e.executeQueue(n, ctx, event)
	case flow.BuyerNode:
		return e.executeBuyer(n, ctx)
	case flow.RecordNode:
		return e.executeRecord(n, ctx, event)
	case flow.TagNode:
		return e.executeTag(n, ctx)
	case flow.WhisperNode:
		return e.executeWhisper(n, ctx, event)
	case flow.TimeoutNode:
		return transition(n.Next, Action{Type: ActionWait, Params: map[string]any{
			"duration": n.Duration,
		}}, ctx), nil
	case flow.FallbackNode:
		return e.executeFallback(n, ctx)
	case flow.HangupNode:
		return suspend(Action{Type: ActionHangup, Params: map[string]any{
			"reason": n.Reason,
		}}, ctx), nil
	default:
		return Result{}, fmt.Errorf("unsupported node type %q at %s", node.NodeType(), node.NodeID())
	}
}

func (e *Executor) executeIVR(n flow.IVRNode, ctx flow.ExecutionContext, event events.TelephonyEvent) (Result, error) {
	dtmf, ok := event.(events.DTMFReceived)
	if !ok {
		// first arrival at the node: play the prompt and collect
		return suspend(Action{Type: ActionPlay, Params: map[string]any{
			"prompt":      n.Prompt,
			"timeout":     n.Timeout,
			"maxDigits":   n.MaxDigits,
			"finishOnKey": n.FinishOnKey,
		}}, ctx), nil
	}

	input := ctx.IVRInput + dtmf.Digits
	if n.FinishOnKey != "" {
		input = strings.TrimSuffix(input, n.FinishOnKey)
	}

	for _, choice := range n.Choices {
		if choice.Digits == input {
			ctx.IVRInput = ""

			return transition(choice.Target, continueAction(), ctx), nil
		}
	}

	if n.MaxDigits > 0 && len(input) >= n.MaxDigits {
		ctx.IVRInput = ""

		if n.Default == "" {
			return suspend(continueAction(), ctx), nil
		}

		return transition(n.Default, continueAction(), ctx), nil
	}

	ctx.IVRInput = input

	return suspend(continueAction(), ctx), nil
}

func (e *Executor) executeIf(n flow.IfNode, ctx flow.ExecutionContext) (Result, error) {
	if evaluateCondition(n.Condition, ctx.Variables) {
		return transition(n.Then, continueAction(), ctx), nil
	}

	if n.Else == "" {
		return suspend(continueAction(), ctx), nil
	}

	return transition(n.Else, continueAction(), ctx), nil
}

func (e *Executor) executeQueue(n flow.QueueNode, ctx flow.ExecutionContext, event events.TelephonyEvent) (Result, error) {
	switch ev := event.(type) {
	case events.QueueConnected:
		return transition(firstOf(n.OnConnect, n.Next), Action{Type: ActionQueueConnect, Params: map[string]any{
			"queueId": n.QueueID,
			"agentId": ev.AgentID,
		}}, ctx), nil
	case events.QueueTimeout:
		return transition(firstOf(n.OnTimeout, n.Next), continueAction(), ctx), nil
	default:
		return suspend(Action{Type: ActionQueueJoin, Params: map[string]any{
			"queueId": n.QueueID,
			"waitUrl": n.WaitURL,
			"timeout": n.Timeout,
			"maxSize": n.MaxSize,
		}}, ctx), nil
	}
}

func (e *Executor) executeBuyer(n flow.BuyerNode, ctx flow.ExecutionContext) (Result, error) {
	eligible := make([]flow.Buyer, 0, len(n.Buyers))

	for _, b := range n.Buyers {
		if b.Enabled {
			eligible = append(eligible, b)
		}
	}

	if len(eligible) == 0 {
		return transition(firstOf(n.OnNoBuyers, n.Next), continueAction(), ctx), nil
	}

	strategy, ok := e.strategies[n.Strategy]
	if !ok {
		return Result{}, fmt.Errorf("unknown routing strategy %q at %s", n.Strategy, n.ID)
	}

	selected := strategy.Select(n, eligible, &ctx)
	if selected == nil {
		return transition(firstOf(n.OnAllBusy, n.Next), continueAction(), ctx), nil
	}

	return transition(n.Next, Action{Type: ActionBuyerRoute, Params: map[string]any{
		"buyerId":     selected.ID,
		"destination": selected.Destination,
		"nodeId":      n.ID,
	}}, ctx), nil
}

func (e *Executor) executeRecord(n flow.RecordNode, ctx flow.ExecutionContext, event events.TelephonyEvent) (Result, error) {
	rec, ok := event.(events.RecordingCompleted)
	if !ok {
		return suspend(Action{Type: ActionRecordStart, Params: map[string]any{
			"format":   n.Format,
			"channels": n.Channels,
			"beep":     n.Beep,
		}}, ctx), nil
	}

	ctx.RecordingURL = rec.RecordingURL

	return transition(firstOf(n.OnComplete, n.Next), continueAction(), ctx), nil
}

func (e *Executor) executeTag(n flow.TagNode, ctx flow.ExecutionContext) (Result, error) {
	for k, v := range n.Tags {
		ctx.Tags[k] = v
	}

	return transition(n.Next, Action{Type: ActionTag, Params: map[string]any{
		"tags": n.Tags,
	}}, ctx), nil
}

func (e *Executor) executeWhisper(n flow.WhisperNode, ctx flow.ExecutionContext, event events.TelephonyEvent) (Result, error) {
	switch event.(type) {
	case events.WhisperAccepted:
		return transition(firstOf(n.OnAccept, n.Next), continueAction(), ctx), nil
	case events.WhisperRejected:
		return transition(firstOf(n.OnReject, n.Next), continueAction(), ctx), nil
	default:
		return suspend(Action{Type: ActionWhisperStart, Params: map[string]any{
			"callerPrompt": n.CallerPrompt,
			"calleePrompt": n.CalleePrompt,
			"timeout":      n.Timeout,
		}}, ctx), nil
	}
}

func (e *Executor) executeFallback(n flow.FallbackNode, ctx flow.ExecutionContext) (Result, error) {
	if len(n.FallbackTargets) > 0 {
		return transition(n.FallbackTargets[0], continueAction(), ctx), nil
	}

	return transition(n.OnAllFailed, continueAction(), ctx), nil
}

// normalizeEvent flattens pointer forms to the value types the node
// steps match on. The event bus decodes every event into a pointer.
func normalizeEvent(event events.TelephonyEvent) events.TelephonyEvent {
	switch ev := event.(type) {
	case *events.CallStarted:
		return *ev
	case *events.CallAnswered:
		return *ev
	case *events.DTMFReceived:
		return *ev
	case *events.RecordingCompleted:
		return *ev
	case *events.QueueConnected:
		return *ev
	case *events.QueueTimeout:
		return *ev
	case *events.WhisperAccepted:
		return *ev
	case *events.WhisperRejected:
		return *ev
	default:
		return event
	}
}

func continueAction() Action {
	return Action{Type: ActionContinue}
}

// transition moves to the target node, or suspends when the target is
// empty.
func transition(target string, action Action, ctx flow.ExecutionContext) Result {
	if target == "" {
		return suspend(action, ctx)
	}

	ctx.CurrentNodeID = target

	return Result{NextNodeID: &target, Action: action, Context: ctx}
}

func suspend(action Action, ctx flow.ExecutionContext) Result {
	return Result{Action: action, Context: ctx}
}

func firstOf(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}

	return ""
}
