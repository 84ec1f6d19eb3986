// Package main runs the event-driven call flow worker. It owns one
// engine per in-flight call and routes inbound telephony events to it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/audit"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/compliance"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/engine"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/enrich"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/eventbus"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/executor"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/log"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
)

// WorkerDeps bundles the collaborators every engine instance shares.
type WorkerDeps struct {
	FlowStore  persistence.FlowStore
	Calls      callstate.Store
	EventBus   eventbus.EventBus
	Compliance compliance.Checker
	Enricher   *enrich.Enricher
	Audit      audit.Log
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

type WorkerManager struct {
	id       string
	deps     WorkerDeps
	logger   *slog.Logger
	registry *engine.Registry
	executor *executor.Executor
}

func NewWorkerManager(id string, deps WorkerDeps) *WorkerManager {
	return &WorkerManager{
		id:       id,
		deps:     deps,
		logger:   deps.Logger.With("module", "callflow-worker", "worker_id", id),
		registry: engine.NewRegistry(),
		executor: executor.New(),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	if err := w.deps.EventBus.Handle(events.CallStartedEvent, w.handleCallStarted); err != nil {
		return err
	}

	resumeEvents := []events.EventType{
		events.CallAnsweredEvent,
		events.DTMFReceivedEvent,
		events.RecordingCompletedEvent,
		events.QueueConnectedEvent,
		events.QueueTimeoutEvent,
		events.WhisperAcceptedEvent,
		events.WhisperRejectedEvent,
	}

	for _, eventType := range resumeEvents {
		if err := w.deps.EventBus.Handle(eventType, w.handleTelephonyEvent); err != nil {
			return err
		}
	}

	if err := w.deps.EventBus.Subscribe(ctx, events.TelephonyEventsTopic); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...", "in_flight", w.registry.Len())
	w.registry.StopAll()

	return nil
}

func (w *WorkerManager) handleCallStarted(ctx context.Context, event any) error {
	started, ok := event.(*events.CallStarted)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for CallStarted")

		return nil
	}

	logger := log.WithCall(w.logger, started.CallID, started.FlowID)
	logger.InfoContext(ctx, "Processing call started event")

	fv, err := w.deps.FlowStore.GetPublishedFlow(ctx, started.FlowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load published flow", "error", err)

		failed := events.NewCallFailed(started.CallID, "", err)
		if publishErr := w.deps.EventBus.Publish(ctx, started.CallID, failed); publishErr != nil {
			logger.ErrorContext(ctx, "Failed to publish call failed event", "error", publishErr)
		}

		return err
	}

	call := &callstate.Call{
		ID:          started.CallID,
		TenantID:    started.TenantID,
		FlowID:      started.FlowID,
		FlowVersion: strconv.Itoa(fv.Version),
		FromNumber:  started.FromNumber,
		ToNumber:    started.ToNumber,
		Status:      callstate.StatusInitiated,
		StartedAt:   time.Now().UTC(),
	}
	if err := w.deps.Calls.Save(ctx, call); err != nil {
		logger.ErrorContext(ctx, "Failed to save call state", "error", err)

		return err
	}

	eng := engine.New(engine.Config{
		CallID:     started.CallID,
		TenantID:   started.TenantID,
		FromNumber: started.FromNumber,
		ToNumber:   started.ToNumber,
		CampaignID: started.CampaignID,

		Plan:     fv.Plan,
		Executor: w.executor,

		CallState:  w.deps.Calls,
		Publisher:  w.deps.EventBus,
		Compliance: w.deps.Compliance,
		Enricher:   w.deps.Enricher,
		Audit:      w.deps.Audit,
		Logger:     w.deps.Logger,
		Tracer:     w.deps.Tracer,
	})

	if !w.registry.Add(started.CallID, eng) {
		logger.WarnContext(ctx, "Call already has a live engine, ignoring duplicate start")

		return nil
	}

	if err := eng.Start(ctx); err != nil {
		w.registry.Remove(started.CallID)

		return err
	}

	w.reapIfFinished(started.CallID, eng)

	return nil
}

func (w *WorkerManager) handleTelephonyEvent(ctx context.Context, event any) error {
	telephony, ok := event.(events.TelephonyEvent)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for telephony event")

		return nil
	}

	callID := telephony.GetCallID()

	eng := w.registry.Get(callID)
	if eng == nil {
		w.logger.WarnContext(ctx, "No live engine for call, dropping event",
			"call_id", callID, "event_type", telephony.GetType())

		return nil
	}

	err := eng.ProcessEvent(ctx, telephony)

	w.reapIfFinished(callID, eng)

	if errors.Is(err, engine.ErrNotRunning) {
		return nil
	}

	return err
}

func (w *WorkerManager) reapIfFinished(callID string, eng *engine.Engine) {
	if !eng.Running() {
		w.registry.Remove(callID)
	}
}
