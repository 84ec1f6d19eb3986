package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/audit"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/compliance"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/enrich"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/executor"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string

	for _, ev := range p.events {
		if action, ok := ev.(events.CallAction); ok {
			out = append(out, action.Action)
		}
	}

	return out
}

func (p *capturePublisher) typesSeen() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []events.EventType

	for _, ev := range p.events {
		out = append(out, ev.GetType())
	}

	return out
}

type allowAll struct{}

func (allowAll) Check(context.Context, compliance.CheckRequest) (compliance.CheckResult, error) {
	return compliance.CheckResult{Allowed: true}, nil
}

type denyAll struct {
	reason string
}

func (d denyAll) Check(context.Context, compliance.CheckRequest) (compliance.CheckResult, error) {
	return compliance.CheckResult{
		Allowed:  false,
		Reason:   d.reason,
		DNCMatch: &compliance.DNCMatch{ListID: "federal", PhoneNumber: "+15550001111"},
	}, nil
}

func routingPlan(t *testing.T) *flow.ExecutionPlan {
	t.Helper()

	f := &flow.Flow{
		ID:      "flow-main",
		Name:    "Main",
		Version: "1",
		Entry:   flow.EntryNode{BaseNode: flow.BaseNode{ID: "entry", Type: flow.NodeTypeEntry}, Target: "menu"},
		Nodes: []flow.Node{
			flow.IVRNode{
				BaseNode:  flow.BaseNode{ID: "menu", Type: flow.NodeTypeIVR},
				Prompt:    "Press 1 for an agent",
				MaxDigits: 1,
				Choices:   []flow.Choice{{Digits: "1", Target: "route"}},
				Default:   "bye",
			},
			flow.BuyerNode{
				BaseNode: flow.BaseNode{ID: "route", Type: flow.NodeTypeBuyer, Next: "bye"},
				Buyers: []flow.Buyer{
					{ID: "b1", Destination: "+15550001111", Weight: 1, Enabled: true},
				},
				Strategy: flow.StrategyRoundRobin,
			},
			flow.HangupNode{BaseNode: flow.BaseNode{ID: "bye", Type: flow.NodeTypeHangup}, Reason: "normal"},
		},
	}

	plan, err := flow.CompilePlan(f)
	require.NoError(t, err)

	return plan
}

func newTestEngine(t *testing.T, plan *flow.ExecutionPlan, publisher *capturePublisher, checker compliance.Checker) (*Engine, *callstate.MemoryStore, *audit.MemoryLog) {
	t.Helper()

	store := callstate.NewMemoryStore()
	auditLog := audit.NewMemoryLog()

	require.NoError(t, store.Save(context.Background(), &callstate.Call{
		ID:       "call-1",
		TenantID: "tenant-1",
		FlowID:   plan.FlowID,
		Status:   callstate.StatusInitiated,
	}))

	eng := New(Config{
		CallID:     "call-1",
		TenantID:   "tenant-1",
		FromNumber: "+15550009999",
		ToNumber:   "+15557770000",
		Plan:       plan,
		Executor:   executor.New(),
		CallState:  store,
		Publisher:  publisher,
		Compliance: checker,
		Audit:      auditLog,
		Logger:     slog.Default(),
	})

	return eng, store, auditLog
}

func TestEngineHappyPath(t *testing.T) {
	publisher := &capturePublisher{}
	eng, store, _ := newTestEngine(t, routingPlan(t), publisher, allowAll{})

	require.NoError(t, eng.Start(context.Background()))

	// suspended at the IVR waiting for digits
	assert.Equal(t, []string{"play"}, publisher.actions())
	assert.True(t, eng.Running())

	call, err := store.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, "menu", call.CurrentNodeID)

	// one digit drives the flow through routing to hangup
	require.NoError(t, eng.ProcessEvent(context.Background(), events.NewDTMFReceived("call-1", "1")))

	assert.Equal(t, []string{"play", "buyer.route", "hangup"}, publisher.actions())
	assert.False(t, eng.Running())

	call, err = store.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, callstate.StatusCompleted, call.Status)

	assert.Contains(t, publisher.typesSeen(), events.CallEndedEvent)
}

func TestEngineComplianceBlock(t *testing.T) {
	publisher := &capturePublisher{}
	eng, store, auditLog := newTestEngine(t, routingPlan(t), publisher, denyAll{reason: compliance.ReasonDNCMatch})

	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.ProcessEvent(context.Background(), events.NewDTMFReceived("call-1", "1")))

	// the route action never leaves the engine, the call hangs up
	assert.NotContains(t, publisher.actions(), "buyer.route")
	assert.Contains(t, publisher.actions(), "hangup")
	assert.Contains(t, publisher.typesSeen(), events.CallComplianceBlockedEvent)
	assert.Contains(t, publisher.typesSeen(), events.CallEndedEvent)

	// the hangup carries the block reason
	for _, ev := range publisher.events {
		if action, ok := ev.(events.CallAction); ok && action.Action == "hangup" {
			reason, _ := action.Params["reason"].(string)
			assert.Contains(t, reason, compliance.ReasonDNCMatch)
		}

		if ended, ok := ev.(events.CallEnded); ok {
			assert.Contains(t, ended.Reason, compliance.ReasonDNCMatch)
		}
	}

	// a blocked call completed its flow, it did not fail
	call, err := store.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, callstate.StatusCompleted, call.Status)
	assert.False(t, eng.Running())

	entries := auditLog.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "compliance.blocked", entries[0].Action)
	assert.Equal(t, compliance.ReasonDNCMatch, entries[0].Details["reason"])
}

type failingChecker struct{}

func (failingChecker) Check(context.Context, compliance.CheckRequest) (compliance.CheckResult, error) {
	return compliance.CheckResult{}, errors.New("policy service unreachable")
}

func TestEngineComplianceFailsClosed(t *testing.T) {
	publisher := &capturePublisher{}
	eng, _, _ := newTestEngine(t, routingPlan(t), publisher, failingChecker{})

	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.ProcessEvent(context.Background(), events.NewDTMFReceived("call-1", "1")))

	assert.NotContains(t, publisher.actions(), "buyer.route")
	assert.Contains(t, publisher.typesSeen(), events.CallComplianceBlockedEvent)
}

func TestEngineQueueTimeout(t *testing.T) {
	f := &flow.Flow{
		ID:      "flow-q",
		Name:    "Queue",
		Version: "1",
		Entry:   flow.EntryNode{BaseNode: flow.BaseNode{ID: "entry", Type: flow.NodeTypeEntry}, Target: "park"},
		Nodes: []flow.Node{
			flow.QueueNode{
				BaseNode:  flow.BaseNode{ID: "park", Type: flow.NodeTypeQueue},
				QueueID:   "sales",
				Timeout:   30,
				OnTimeout: "bye",
			},
			flow.HangupNode{BaseNode: flow.BaseNode{ID: "bye", Type: flow.NodeTypeHangup}, Reason: "normal"},
		},
	}

	plan, err := flow.CompilePlan(f)
	require.NoError(t, err)

	publisher := &capturePublisher{}
	eng, _, _ := newTestEngine(t, plan, publisher, allowAll{})

	require.NoError(t, eng.Start(context.Background()))
	assert.Equal(t, []string{"queue.join"}, publisher.actions())

	require.NoError(t, eng.ProcessEvent(context.Background(), events.NewQueueTimeout("call-1")))

	assert.Equal(t, []string{"queue.join", "hangup"}, publisher.actions())
	assert.False(t, eng.Running())
}

func TestEngineEnrichmentPopulatesVariables(t *testing.T) {
	publisher := &capturePublisher{}
	eng, _, _ := newTestEngine(t, routingPlan(t), publisher, allowAll{})

	// carrier resolves on the dialed number, not the caller
	eng.cfg.Enricher = enrich.NewEnricher(
		&enrich.StaticAttestation{Levels: map[string]string{"+15550009999": "A"}},
		&enrich.StaticCallerName{Names: map[string]string{"+15550009999": "JANE DOE"}},
		&enrich.StaticCarrier{Carriers: map[string]string{"+15557770000": "Verizon"}},
		slog.Default(),
	)

	require.NoError(t, eng.Start(context.Background()))

	vars := eng.Context().Variables
	assert.Equal(t, "A", vars["attestation"])
	assert.Equal(t, "JANE DOE", vars["callerName"])
	assert.Equal(t, "Verizon", vars["carrier"])
	assert.Equal(t, "+15550009999", vars["from"])
}

func TestEngineEnrichmentRefreshesEveryStep(t *testing.T) {
	publisher := &capturePublisher{}
	eng, _, _ := newTestEngine(t, routingPlan(t), publisher, allowAll{})

	levels := map[string]string{"+15550009999": "B"}
	eng.cfg.Enricher = enrich.NewEnricher(
		&enrich.StaticAttestation{Levels: levels},
		nil,
		nil,
		slog.Default(),
	)

	require.NoError(t, eng.Start(context.Background()))
	assert.Equal(t, "B", eng.Context().Variables["attestation"])

	// the provider's answer changed while the call was parked at the IVR
	levels["+15550009999"] = "A"

	require.NoError(t, eng.ProcessEvent(context.Background(), events.NewDTMFReceived("call-1", "1")))
	assert.Equal(t, "A", eng.Context().Variables["attestation"])
}

func TestEngineTimeoutNodeResumesWithoutBlocking(t *testing.T) {
	f := &flow.Flow{
		ID:      "flow-t",
		Name:    "Pause",
		Version: "1",
		Entry:   flow.EntryNode{BaseNode: flow.BaseNode{ID: "entry", Type: flow.NodeTypeEntry}, Target: "pause"},
		Nodes: []flow.Node{
			flow.TimeoutNode{BaseNode: flow.BaseNode{ID: "pause", Type: flow.NodeTypeTimeout, Next: "bye"}, Duration: 1},
			flow.HangupNode{BaseNode: flow.BaseNode{ID: "bye", Type: flow.NodeTypeHangup}, Reason: "normal"},
		},
	}

	plan, err := flow.CompilePlan(f)
	require.NoError(t, err)

	publisher := &capturePublisher{}
	eng, _, _ := newTestEngine(t, plan, publisher, allowAll{})

	// Start returns before the pause elapses, the call stays suspended
	start := time.Now()
	require.NoError(t, eng.Start(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, eng.Running())

	// the timer drives the call to the hangup on its own
	assert.Eventually(t, func() bool {
		return !eng.Running()
	}, 3*time.Second, 50*time.Millisecond)

	assert.Contains(t, publisher.actions(), "hangup")
}

func TestEngineLifecycleGuards(t *testing.T) {
	publisher := &capturePublisher{}
	eng, _, _ := newTestEngine(t, routingPlan(t), publisher, allowAll{})

	require.NoError(t, eng.Start(context.Background()))
	assert.ErrorIs(t, eng.Start(context.Background()), ErrAlreadyStarted)

	eng.Stop()
	assert.ErrorIs(t, eng.ProcessEvent(context.Background(), events.NewDTMFReceived("call-1", "1")), ErrNotRunning)

	// a finished engine cannot be restarted
	assert.ErrorIs(t, eng.Start(context.Background()), ErrAlreadyStarted)
}

func TestEngineFailurePublishesCallFailed(t *testing.T) {
	plan := routingPlan(t)
	publisher := &capturePublisher{}
	eng, store, _ := newTestEngine(t, plan, publisher, allowAll{})

	require.NoError(t, eng.Start(context.Background()))

	// corrupt the position so the next step cannot resolve a node
	eng.context.CurrentNodeID = "ghost"

	err := eng.ProcessEvent(context.Background(), events.NewDTMFReceived("call-1", "1"))
	require.Error(t, err)

	assert.Contains(t, publisher.typesSeen(), events.CallFailedEvent)

	call, getErr := store.Get(context.Background(), "call-1")
	require.NoError(t, getErr)
	assert.Equal(t, callstate.StatusFailed, call.Status)
}
