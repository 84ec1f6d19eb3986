package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish routes the event to its topic keyed by the given partition key,
// usually the call id so per-call ordering survives the broker.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.TopicFor(event.GetType()), msg)
}

// Subscribe consumes a topic and dispatches each message to the handler
// registered for its event type. Unregistered types are acked and
// dropped; undecodable or failed messages are nacked for redelivery.
func (eb *WatermillEventBus) Subscribe(ctx context.Context, topic string) error {
	messages, err := eb.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			event := newEvent(eventType)
			if event == nil {
				msg.Nack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.CallStartedEvent:
		return &events.CallStarted{}
	case events.CallAnsweredEvent:
		return &events.CallAnswered{}
	case events.DTMFReceivedEvent:
		return &events.DTMFReceived{}
	case events.RecordingCompletedEvent:
		return &events.RecordingCompleted{}
	case events.QueueConnectedEvent:
		return &events.QueueConnected{}
	case events.QueueTimeoutEvent:
		return &events.QueueTimeout{}
	case events.WhisperAcceptedEvent:
		return &events.WhisperAccepted{}
	case events.WhisperRejectedEvent:
		return &events.WhisperRejected{}
	case events.CallActionEvent:
		return &events.CallAction{}
	case events.CallEndedEvent:
		return &events.CallEnded{}
	case events.CallFailedEvent:
		return &events.CallFailed{}
	case events.CallComplianceBlockedEvent:
		return &events.CallComplianceBlocked{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
