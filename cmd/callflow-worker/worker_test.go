package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/audit"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/compliance"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/eventbus"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence/memory"
)

const sampleFlowJSON = `{
  "id": "flow-main",
  "name": "Main Routing",
  "version": "1",
  "entry": {"id": "entry", "type": "entry", "target": "menu"},
  "nodes": [
    {
      "id": "menu",
      "type": "ivr",
      "prompt": "Press 1 for sales",
      "maxDigits": 1,
      "choices": [{"digits": "1", "target": "route"}],
      "default": "bye"
    },
    {
      "id": "route",
      "type": "buyer",
      "buyers": [{"id": "b1", "destination": "+15550001111"}],
      "next": "bye"
    },
    {"id": "bye", "type": "hangup"}
  ]
}`

// MockEventBus records published events instead of hitting a broker.
type MockEventBus struct {
	mu              sync.Mutex
	publishedEvents []events.Event
}

func (m *MockEventBus) Handle(_ events.EventType, _ eventbus.EventHandler) error {
	return nil
}

func (m *MockEventBus) Publish(_ context.Context, _ string, event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.publishedEvents = append(m.publishedEvents, event)

	return nil
}

func (m *MockEventBus) Subscribe(_ context.Context, _ string) error {
	return nil
}

func (m *MockEventBus) Close() error {
	return nil
}

func (m *MockEventBus) GenerateID() string {
	return "mock-event-id"
}

func (m *MockEventBus) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []string

	for _, ev := range m.publishedEvents {
		if action, ok := ev.(events.CallAction); ok {
			actions = append(actions, action.Action)
		}
	}

	return actions
}

func setupWorker(t *testing.T) (*WorkerManager, *MockEventBus, *callstate.MemoryStore) {
	t.Helper()

	ctx := context.Background()
	flowStore := memory.NewStore()

	parsed, err := flow.Parse([]byte(sampleFlowJSON))
	require.NoError(t, err)

	_, err = flowStore.StoreFlow(ctx, parsed, "tenant-1", "test-user")
	require.NoError(t, err)

	_, err = flowStore.PublishFlow(ctx, "flow-main", 1)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	bus := &MockEventBus{}
	calls := callstate.NewMemoryStore()

	checker := compliance.NewListChecker(&compliance.StaticPolicyService{}, nil, logger)

	wm := NewWorkerManager("test-worker-1", WorkerDeps{
		FlowStore:  flowStore,
		Calls:      calls,
		EventBus:   bus,
		Compliance: checker,
		Audit:      audit.NewMemoryLog(),
		Logger:     logger,
	})

	return wm, bus, calls
}

func TestWorkerManagerRunsCallToCompletion(t *testing.T) {
	ctx := context.Background()
	wm, bus, calls := setupWorker(t)

	started := events.NewCallStarted("call-1", "flow-main", "+15550002222", "+15550003333")
	started.TenantID = "tenant-1"

	require.NoError(t, wm.handleCallStarted(ctx, &started))

	// Suspended at the IVR prompt waiting for digits.
	assert.Equal(t, 1, wm.registry.Len())
	assert.Equal(t, []string{"play"}, bus.actions())

	call, err := calls.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "flow-main", call.FlowID)
	assert.Equal(t, "1", call.FlowVersion)

	dtmf := events.NewDTMFReceived("call-1", "1")
	require.NoError(t, wm.handleTelephonyEvent(ctx, &dtmf))

	assert.Equal(t, []string{"play", "buyer.route", "hangup"}, bus.actions())
	assert.Equal(t, 0, wm.registry.Len(), "finished engine should be reaped")
}

func TestWorkerManagerUnknownFlowPublishesFailure(t *testing.T) {
	ctx := context.Background()
	wm, bus, _ := setupWorker(t)

	started := events.NewCallStarted("call-2", "no-such-flow", "+15550002222", "+15550003333")

	err := wm.handleCallStarted(ctx, &started)
	require.Error(t, err)

	require.Len(t, bus.publishedEvents, 1)

	failed, ok := bus.publishedEvents[0].(events.CallFailed)
	require.True(t, ok)
	assert.Equal(t, "call-2", failed.CallID)
}

func TestWorkerManagerDropsEventsForUnknownCalls(t *testing.T) {
	ctx := context.Background()
	wm, bus, _ := setupWorker(t)

	dtmf := events.NewDTMFReceived("ghost-call", "1")
	require.NoError(t, wm.handleTelephonyEvent(ctx, &dtmf))

	assert.Empty(t, bus.publishedEvents)
}

func TestWorkerManagerRejectsDuplicateStart(t *testing.T) {
	ctx := context.Background()
	wm, bus, _ := setupWorker(t)

	started := events.NewCallStarted("call-3", "flow-main", "+15550002222", "+15550003333")
	started.TenantID = "tenant-1"

	require.NoError(t, wm.handleCallStarted(ctx, &started))
	require.NoError(t, wm.handleCallStarted(ctx, &started))

	assert.Equal(t, 1, wm.registry.Len())
	assert.Equal(t, []string{"play"}, bus.actions())
}
