// Package eventbus provides event-driven communication between the call
// flow engine and the telephony media layer.
package eventbus

import (
	"context"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context, topic string) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
