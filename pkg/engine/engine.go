// Package engine drives one call through its compiled flow plan. The
// engine owns the step loop: enrich, execute, persist, dispatch, repeat
// until the call suspends on a waiting action or reaches a terminal node.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/audit"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/compliance"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/enrich"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/eventbus"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/executor"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/otelhelper"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotRunning     = errors.New("engine is not running")
)

// Config wires one engine instance to its call and its collaborators.
// Compliance, Enricher, Audit and Tracer are optional; CallState,
// Publisher, Plan and Executor are not.
type Config struct {
	CallID       string
	TenantID     string
	FromNumber   string
	ToNumber     string
	CampaignID   string
	ConsentToken string

	Plan     *flow.ExecutionPlan
	Executor *executor.Executor

	CallState  callstate.Store
	Publisher  eventbus.EventPublisher
	Compliance compliance.Checker
	Enricher   *enrich.Enricher
	Audit      audit.Log
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Engine interprets one call against one plan version. Start,
// ProcessEvent and timer resumes serialize on runMu; Stop is safe from
// any goroutine.
type Engine struct {
	cfg Config

	runMu sync.Mutex

	mu       sync.Mutex
	context  flow.ExecutionContext
	running  bool
	finished bool
	logger   *slog.Logger
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		logger: logger.With("call_id", cfg.CallID, "flow_id", cfg.Plan.FlowID),
	}
}

// Start positions the call at the plan entry and steps until the flow
// suspends or terminates.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()

	if e.running || e.finished {
		e.mu.Unlock()

		return ErrAlreadyStarted
	}

	e.running = true
	e.context = flow.NewExecutionContext(e.cfg.CallID, e.cfg.TenantID, e.cfg.Plan.EntryNodeID)
	e.mu.Unlock()

	e.context.Variables["from"] = e.cfg.FromNumber
	e.context.Variables["to"] = e.cfg.ToNumber

	if e.cfg.CampaignID != "" {
		e.context.Variables["campaignId"] = e.cfg.CampaignID
	}

	e.logger.Info("starting call flow", "entry_node", e.cfg.Plan.EntryNodeID)

	return e.run(ctx, nil)
}

// ProcessEvent resumes a suspended call with one telephony event.
func (e *Engine) ProcessEvent(ctx context.Context, event events.TelephonyEvent) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	if !running {
		return ErrNotRunning
	}

	return e.run(ctx, event)
}

// Stop cancels the call cooperatively: the current step finishes, no
// further step starts, and the engine cannot be restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running = false
	e.finished = true
}

// Running reports whether the engine still accepts events.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// Context returns a copy of the call's execution context.
func (e *Engine) Context() flow.ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.context.Clone()
}

func (e *Engine) run(ctx context.Context, event events.TelephonyEvent) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	for {
		e.mu.Lock()
		if !e.running {
			e.mu.Unlock()

			return nil
		}
		e.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := e.step(ctx, event)
		if err != nil {
			e.fail(ctx, err)

			return err
		}

		event = nil

		if result.NextNodeID == nil {
			return nil
		}
	}
}

func (e *Engine) step(ctx context.Context, event events.TelephonyEvent) (result executor.Result, err error) {
	spanCtx := ctx

	if e.cfg.Tracer != nil {
		var span trace.Span

		spanCtx, span = otelhelper.StartSpan(ctx, e.cfg.Tracer, "engine.step",
			attribute.String(otelhelper.CallIDKey, e.cfg.CallID),
			attribute.String(otelhelper.FlowIDKey, e.cfg.Plan.FlowID),
			attribute.String(otelhelper.NodeIDKey, e.context.CurrentNodeID),
		)
		defer span.End()

		defer func() {
			if err != nil {
				otelhelper.SetError(span, err,
					attribute.String(otelhelper.NodeIDKey, e.context.CurrentNodeID))

				return
			}

			span.SetAttributes(attribute.String(otelhelper.NodeIDKey, e.context.CurrentNodeID))
		}()
	}

	e.enrichContext(spanCtx)

	result, err = e.cfg.Executor.Execute(e.cfg.Plan, e.context, event)
	if err != nil {
		return executor.Result{}, fmt.Errorf("failed to execute node %s: %w", e.context.CurrentNodeID, err)
	}

	e.mu.Lock()
	e.context = result.Context
	e.mu.Unlock()

	if err = e.cfg.CallState.SetCurrentNode(spanCtx, e.cfg.CallID, result.Context.CurrentNodeID); err != nil {
		return executor.Result{}, fmt.Errorf("failed to persist call position: %w", err)
	}

	if err = e.dispatch(spanCtx, &result); err != nil {
		return executor.Result{}, err
	}

	return result, nil
}

// enrichContext refreshes the lookup variables before every node, so a
// condition sees data as fresh as the step that evaluates it.
func (e *Engine) enrichContext(ctx context.Context) {
	if e.cfg.Enricher == nil {
		return
	}

	vars := e.cfg.Enricher.Enrich(ctx, e.cfg.TenantID, e.cfg.FromNumber, e.cfg.ToNumber)

	e.mu.Lock()
	for k, v := range vars {
		e.context.Variables[k] = v
	}
	e.mu.Unlock()
}

func (e *Engine) dispatch(ctx context.Context, result *executor.Result) error {
	action := result.Action

	e.logger.Debug("dispatching action", "action", action.Type, "node", e.context.CurrentNodeID)

	switch action.Type {
	case executor.ActionContinue, executor.ActionTag:
		return nil
	case executor.ActionWait:
		return e.wait(ctx, result)
	case executor.ActionBuyerRoute:
		return e.routeBuyer(ctx, result)
	case executor.ActionHangup:
		return e.terminate(ctx, action)
	case executor.ActionPlay, executor.ActionQueueJoin, executor.ActionQueueConnect,
		executor.ActionRecordStart, executor.ActionWhisperStart:
		return e.publishAction(ctx, string(action.Type), action.Params)
	default:
		e.logger.Warn("unhandled action type", "action", action.Type)

		return nil
	}
}

func (e *Engine) publishAction(ctx context.Context, action string, params map[string]any) error {
	ev := events.NewCallAction(e.cfg.CallID, e.cfg.TenantID, action, params)

	if err := e.cfg.Publisher.Publish(ctx, e.cfg.CallID, ev); err != nil {
		return fmt.Errorf("failed to publish %s action: %w", action, err)
	}

	return nil
}

// wait suspends the step loop and rearms it from a timer goroutine.
// The dispatch goroutine that delivered the event keeps serving other
// calls while this one sleeps.
func (e *Engine) wait(ctx context.Context, result *executor.Result) error {
	seconds, _ := result.Action.Params["duration"].(int)
	if seconds <= 0 {
		return nil
	}

	result.NextNodeID = nil

	resumeCtx := context.WithoutCancel(ctx)

	go func() {
		timer := time.NewTimer(time.Duration(seconds) * time.Second)
		defer timer.Stop()

		<-timer.C

		if !e.Running() {
			return
		}

		if err := e.run(resumeCtx, nil); err != nil {
			e.logger.Error("timed resume failed", "error", err)
		}
	}()

	return nil
}

// routeBuyer clears the destination through the compliance gate before
// any route action leaves the engine. A gate error blocks the route:
// compliance fails closed.
func (e *Engine) routeBuyer(ctx context.Context, result *executor.Result) error {
	destination, _ := result.Action.Params["destination"].(string)
	nodeID, _ := result.Action.Params["nodeId"].(string)

	if e.cfg.Compliance != nil {
		verdict, err := e.cfg.Compliance.Check(ctx, compliance.CheckRequest{
			CallID:       e.cfg.CallID,
			TenantID:     e.cfg.TenantID,
			Destination:  destination,
			FromNumber:   e.cfg.FromNumber,
			CampaignID:   e.cfg.CampaignID,
			ConsentToken: e.cfg.ConsentToken,
		})
		if err != nil {
			return e.blockRoute(ctx, result, destination, nodeID, "compliance check failed")
		}

		if !verdict.Allowed {
			return e.blockRoute(ctx, result, destination, nodeID, verdict.Reason)
		}
	}

	return e.publishAction(ctx, string(executor.ActionBuyerRoute), result.Action.Params)
}

func (e *Engine) blockRoute(ctx context.Context, result *executor.Result, destination, nodeID, reason string) error {
	e.logger.Info("buyer route blocked", "reason", reason, "destination", destination)

	if e.cfg.Audit != nil {
		entry := audit.NewEntry(e.cfg.TenantID, "compliance.blocked", "call", e.cfg.CallID, map[string]any{
			"reason":      reason,
			"destination": destination,
			"nodeId":      nodeID,
		})

		if err := e.cfg.Audit.Record(ctx, entry); err != nil {
			e.logger.Warn("failed to record audit entry", "error", err)
		}
	}

	blocked := events.NewCallComplianceBlocked(e.cfg.CallID, e.cfg.TenantID, reason, destination, nodeID)
	if err := e.cfg.Publisher.Publish(ctx, e.cfg.CallID, blocked); err != nil {
		return fmt.Errorf("failed to publish compliance block: %w", err)
	}

	// the blocked call never reaches the buyer: end it through the
	// normal hangup path, carrying the block reason
	result.NextNodeID = nil

	return e.terminate(ctx, executor.Action{
		Type:   executor.ActionHangup,
		Params: map[string]any{"reason": "Compliance block: " + reason},
	})
}

func (e *Engine) terminate(ctx context.Context, action executor.Action) error {
	reason, _ := action.Params["reason"].(string)

	if err := e.publishAction(ctx, string(executor.ActionHangup), action.Params); err != nil {
		return err
	}

	ended := events.NewCallEnded(e.cfg.CallID, reason, e.context.Tags)
	if err := e.cfg.Publisher.Publish(ctx, e.cfg.CallID, ended); err != nil {
		return fmt.Errorf("failed to publish call end: %w", err)
	}

	if err := e.cfg.CallState.SetStatus(ctx, e.cfg.CallID, callstate.StatusCompleted); err != nil {
		e.logger.Warn("failed to mark call state", "error", err)
	}

	e.logger.Info("call flow finished", "reason", reason)
	e.finish()

	return nil
}

func (e *Engine) fail(ctx context.Context, cause error) {
	e.logger.Error("call flow failed", "error", cause, "node", e.context.CurrentNodeID)

	failed := events.NewCallFailed(e.cfg.CallID, e.context.CurrentNodeID, cause)
	if err := e.cfg.Publisher.Publish(ctx, e.cfg.CallID, failed); err != nil {
		e.logger.Warn("failed to publish call failure", "error", err)
	}

	if err := e.cfg.CallState.SetStatus(ctx, e.cfg.CallID, callstate.StatusFailed); err != nil {
		e.logger.Warn("failed to mark call state", "error", err)
	}

	e.finish()
}

func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running = false
	e.finished = true
}
