// Package events defines the telephony and call lifecycle events exchanged
// over the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Topic names. Telephony events flow in from the media layer; call events
// flow out of the engine toward the media layer and observers.
const (
	TelephonyEventsTopic = "callflow.telephony.events"
	CallEventsTopic      = "callflow.call.events"
)

// Message metadata keys.
const (
	EventMetadataKey     = "event_key"
	EventTypeMetadataKey = "event_type"
)

// TopicFor routes an event type to its bus topic.
func TopicFor(eventType EventType) string {
	switch eventType {
	case CallActionEvent, CallEndedEvent, CallFailedEvent, CallComplianceBlockedEvent:
		return CallEventsTopic
	default:
		return TelephonyEventsTopic
	}
}

type EventType string

const (
	// inbound telephony events
	CallStartedEvent        EventType = "call.started"
	CallAnsweredEvent       EventType = "call.answered"
	DTMFReceivedEvent       EventType = "dtmf.received"
	RecordingCompletedEvent EventType = "recording.completed"
	QueueConnectedEvent     EventType = "queue.connected"
	QueueTimeoutEvent       EventType = "queue.timeout"
	WhisperAcceptedEvent    EventType = "whisper.accepted"
	WhisperRejectedEvent    EventType = "whisper.rejected"

	// outbound call lifecycle events
	CallActionEvent            EventType = "call.action"
	CallEndedEvent             EventType = "call.ended"
	CallFailedEvent            EventType = "call.failed"
	CallComplianceBlockedEvent EventType = "call.compliance.blocked"
)

// Event is anything publishable on the bus.
type Event interface {
	GetType() EventType
}

// TelephonyEvent is an inbound event addressed to one live call.
type TelephonyEvent interface {
	Event

	GetCallID() string
}

// BaseEvent carries the envelope fields shared by every event.
type BaseEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	CallID    string            `json:"callId"`
	TenantID  string            `json:"tenantId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, callID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		CallID:    callID,
		Timestamp: time.Now().UTC(),
	}
}

func (e BaseEvent) GetType() EventType { return e.Type }
func (e BaseEvent) GetCallID() string  { return e.CallID }

// CallStarted announces a new inbound call entering a flow.
type CallStarted struct {
	BaseEvent

	FlowID     string `json:"flowId"`
	FromNumber string `json:"fromNumber"`
	ToNumber   string `json:"toNumber"`
	CampaignID string `json:"campaignId,omitempty"`
}

func NewCallStarted(callID, flowID, from, to string) CallStarted {
	return CallStarted{
		BaseEvent:  NewBaseEvent(CallStartedEvent, callID),
		FlowID:     flowID,
		FromNumber: from,
		ToNumber:   to,
	}
}

// CallAnswered reports that the caller leg is up.
type CallAnswered struct {
	BaseEvent
}

func NewCallAnswered(callID string) CallAnswered {
	return CallAnswered{BaseEvent: NewBaseEvent(CallAnsweredEvent, callID)}
}

// DTMFReceived carries digits pressed by the caller.
type DTMFReceived struct {
	BaseEvent

	Digits string `json:"digits"`
}

func NewDTMFReceived(callID, digits string) DTMFReceived {
	return DTMFReceived{BaseEvent: NewBaseEvent(DTMFReceivedEvent, callID), Digits: digits}
}

// RecordingCompleted reports a finished recording and its location.
type RecordingCompleted struct {
	BaseEvent

	RecordingURL string `json:"recordingUrl"`
	Duration     int    `json:"duration,omitempty"`
}

func NewRecordingCompleted(callID, url string) RecordingCompleted {
	return RecordingCompleted{BaseEvent: NewBaseEvent(RecordingCompletedEvent, callID), RecordingURL: url}
}

// QueueConnected reports that a queued call reached an agent.
type QueueConnected struct {
	BaseEvent

	QueueID string `json:"queueId,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

func NewQueueConnected(callID, agentID string) QueueConnected {
	return QueueConnected{BaseEvent: NewBaseEvent(QueueConnectedEvent, callID), AgentID: agentID}
}

// QueueTimeout reports that a queued call waited past the queue timeout.
type QueueTimeout struct {
	BaseEvent

	QueueID string `json:"queueId,omitempty"`
}

func NewQueueTimeout(callID string) QueueTimeout {
	return QueueTimeout{BaseEvent: NewBaseEvent(QueueTimeoutEvent, callID)}
}

// WhisperAccepted reports the callee accepted the whispered call.
type WhisperAccepted struct {
	BaseEvent
}

func NewWhisperAccepted(callID string) WhisperAccepted {
	return WhisperAccepted{BaseEvent: NewBaseEvent(WhisperAcceptedEvent, callID)}
}

// WhisperRejected reports the callee declined the whispered call.
type WhisperRejected struct {
	BaseEvent
}

func NewWhisperRejected(callID string) WhisperRejected {
	return WhisperRejected{BaseEvent: NewBaseEvent(WhisperRejectedEvent, callID)}
}

// CallAction instructs the media layer to perform one action on a call.
type CallAction struct {
	BaseEvent

	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

func NewCallAction(callID, tenantID, action string, params map[string]any) CallAction {
	ev := CallAction{
		BaseEvent: NewBaseEvent(CallActionEvent, callID),
		Action:    action,
		Params:    params,
	}
	ev.TenantID = tenantID

	return ev
}

// CallEnded announces a call's flow reached a terminal node.
type CallEnded struct {
	BaseEvent

	Reason string         `json:"reason"`
	Tags   map[string]any `json:"tags,omitempty"`
}

func NewCallEnded(callID, reason string, tags map[string]any) CallEnded {
	return CallEnded{BaseEvent: NewBaseEvent(CallEndedEvent, callID), Reason: reason, Tags: tags}
}

// CallFailed announces a call whose flow execution errored out.
type CallFailed struct {
	BaseEvent

	Error      string `json:"error"`
	LastNodeID string `json:"lastNodeId,omitempty"`
}

func NewCallFailed(callID, lastNodeID string, err error) CallFailed {
	return CallFailed{BaseEvent: NewBaseEvent(CallFailedEvent, callID), Error: err.Error(), LastNodeID: lastNodeID}
}

// CallComplianceBlocked announces a routing attempt stopped by the
// compliance gate.
type CallComplianceBlocked struct {
	BaseEvent

	Reason      string `json:"reason"`
	Destination string `json:"destination,omitempty"`
	NodeID      string `json:"nodeId,omitempty"`
}

func NewCallComplianceBlocked(callID, tenantID, reason, destination, nodeID string) CallComplianceBlocked {
	ev := CallComplianceBlocked{
		BaseEvent:   NewBaseEvent(CallComplianceBlockedEvent, callID),
		Reason:      reason,
		Destination: destination,
		NodeID:      nodeID,
	}
	ev.TenantID = tenantID

	return ev
}
