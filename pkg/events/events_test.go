package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicFor(t *testing.T) {
	inbound := []EventType{
		CallStartedEvent,
		CallAnsweredEvent,
		DTMFReceivedEvent,
		RecordingCompletedEvent,
		QueueConnectedEvent,
		QueueTimeoutEvent,
		WhisperAcceptedEvent,
		WhisperRejectedEvent,
	}
	for _, eventType := range inbound {
		assert.Equal(t, TelephonyEventsTopic, TopicFor(eventType), string(eventType))
	}

	outbound := []EventType{
		CallActionEvent,
		CallEndedEvent,
		CallFailedEvent,
		CallComplianceBlockedEvent,
	}
	for _, eventType := range outbound {
		assert.Equal(t, CallEventsTopic, TopicFor(eventType), string(eventType))
	}
}

func TestNewBaseEventStampsEnvelope(t *testing.T) {
	ev := NewBaseEvent(DTMFReceivedEvent, "call-1")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, DTMFReceivedEvent, ev.GetType())
	assert.Equal(t, "call-1", ev.GetCallID())
	assert.False(t, ev.Timestamp.IsZero())
}

func TestConstructorsCarryPayload(t *testing.T) {
	dtmf := NewDTMFReceived("call-1", "42")
	assert.Equal(t, "42", dtmf.Digits)

	action := NewCallAction("call-1", "tenant-1", "play", map[string]any{"prompt": "hi"})
	assert.Equal(t, "play", action.Action)
	assert.Equal(t, "tenant-1", action.TenantID)

	blocked := NewCallComplianceBlocked("call-1", "tenant-1", "dnc_match", "+15550001111", "route")
	assert.Equal(t, "dnc_match", blocked.Reason)
	assert.Equal(t, "+15550001111", blocked.Destination)
	assert.Equal(t, "route", blocked.NodeID)
}
