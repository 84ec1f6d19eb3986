package eventbus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/channels/gochannel"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/eventbus"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
)

func setupBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBusRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := setupBus(t)

	received := make(chan *events.DTMFReceived, 1)

	require.NoError(t, bus.Handle(events.DTMFReceivedEvent, func(_ context.Context, event any) error {
		dtmf, ok := event.(*events.DTMFReceived)
		require.True(t, ok)

		received <- dtmf

		return nil
	}))

	require.NoError(t, bus.Subscribe(ctx, events.TelephonyEventsTopic))

	require.NoError(t, bus.Publish(ctx, "call-1", events.NewDTMFReceived("call-1", "7")))

	select {
	case dtmf := <-received:
		assert.Equal(t, "call-1", dtmf.CallID)
		assert.Equal(t, "7", dtmf.Digits)
		assert.Equal(t, events.DTMFReceivedEvent, dtmf.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBusDropsUnregisteredTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := setupBus(t)

	received := make(chan *events.CallAnswered, 1)

	require.NoError(t, bus.Handle(events.CallAnsweredEvent, func(_ context.Context, event any) error {
		answered, ok := event.(*events.CallAnswered)
		require.True(t, ok)

		received <- answered

		return nil
	}))

	require.NoError(t, bus.Subscribe(ctx, events.TelephonyEventsTopic))

	// No handler registered for DTMF: the message is acked and dropped.
	require.NoError(t, bus.Publish(ctx, "call-1", events.NewDTMFReceived("call-1", "1")))
	require.NoError(t, bus.Publish(ctx, "call-1", events.NewCallAnswered("call-1")))

	select {
	case answered := <-received:
		assert.Equal(t, "call-1", answered.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBusGenerateID(t *testing.T) {
	bus := setupBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
