// Package web provides the REST API for flow management and call state.
package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/eventbus"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/events"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
)

var (
	errMissingFlowID = errors.New("flow id is required")
	errBadVersion    = errors.New("version must be a positive integer")
)

type APIHandlers struct {
	flowStore persistence.FlowStore
	calls     callstate.Store
	publisher eventbus.EventPublisher
	validator *validator.Validate
}

func NewAPIHandlers(
	flowStore persistence.FlowStore,
	calls callstate.Store,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowStore: flowStore,
		calls:     calls,
		publisher: publisher,
		validator: validator,
	}
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		return badRequest(c, "tenant_id query parameter is required")
	}

	flows, err := h.flowStore.ListFlows(c.Context(), tenantID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows": toVersionResponses(flows),
	})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	parsed, err := flow.Parse(req.Flow)
	if err != nil {
		return handleStoreError(c, err)
	}

	stored, err := h.flowStore.StoreFlow(c.Context(), parsed, req.TenantID, req.CreatedBy)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(toVersionResponse(stored, true))
}

func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	var req ValidateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	_, err := flow.Parse(req.Flow)
	if err == nil {
		return c.JSON(ValidateFlowResponse{Valid: true})
	}

	var invalid *flow.InvalidFlowError
	if errors.As(err, &invalid) {
		return c.JSON(ValidateFlowResponse{Valid: false, Issues: invalid.Issues})
	}

	return c.JSON(ValidateFlowResponse{Valid: false, Issues: []string{err.Error()}})
}

func (h *APIHandlers) GetFlowVersions(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	versions, err := h.flowStore.GetFlowVersions(c.Context(), flowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"flowId":   flowID,
		"versions": toVersionResponses(versions),
	})
}

func (h *APIHandlers) GetFlowVersion(c fiber.Ctx) error {
	flowID, version, err := h.parseVersionParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	fv, err := h.flowStore.GetFlowVersion(c.Context(), flowID, version)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(toVersionResponse(fv, true))
}

func (h *APIHandlers) GetPublishedFlow(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	fv, err := h.flowStore.GetPublishedFlow(c.Context(), flowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(toVersionResponse(fv, true))
}

func (h *APIHandlers) PublishFlowVersion(c fiber.Ctx) error {
	flowID, version, err := h.parseVersionParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	published, err := h.flowStore.PublishFlow(c.Context(), flowID, version)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(toVersionResponse(published, false))
}

func (h *APIHandlers) RollbackFlowVersion(c fiber.Ctx) error {
	flowID, version, err := h.parseVersionParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	restored, err := h.flowStore.RollbackFlow(c.Context(), flowID, version)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(toVersionResponse(restored, false))
}

func (h *APIHandlers) DeleteFlowVersion(c fiber.Ctx) error {
	flowID, version, err := h.parseVersionParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.flowStore.DeleteFlowVersion(c.Context(), flowID, version); err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ExecuteCall admits a new call: it verifies the flow has a published
// version, then hands the call to the worker fleet over the bus. The
// worker that picks it up builds the engine and starts stepping.
func (h *APIHandlers) ExecuteCall(c fiber.Ctx) error {
	var req ExecuteCallRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.flowStore.GetPublishedFlow(c.Context(), req.FlowID); err != nil {
		return handleStoreError(c, err)
	}

	if req.CallID == "" {
		req.CallID = uuid.New().String()
	}

	started := events.NewCallStarted(req.CallID, req.FlowID, req.FromNumber, req.ToNumber)
	started.TenantID = req.TenantID
	started.CampaignID = req.CampaignID

	if err := h.publisher.Publish(c.Context(), req.CallID, started); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecuteCallResponse{
		CallID: req.CallID,
		FlowID: req.FlowID,
		Status: string(callstate.StatusInitiated),
	})
}

// PushCallEvent forwards one telephony event to the call's engine. The
// call must be known to the state store before events are accepted.
func (h *APIHandlers) PushCallEvent(c fiber.Ctx) error {
	var req CallEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.calls.Get(c.Context(), req.CallID); err != nil {
		if errors.Is(err, callstate.ErrCallNotFound) {
			return notFound(c, "Call not found")
		}

		return internalError(c, err)
	}

	event, err := telephonyEventFrom(req)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.publisher.Publish(c.Context(), req.CallID, event); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func telephonyEventFrom(req CallEventRequest) (events.TelephonyEvent, error) {
	switch events.EventType(req.Type) {
	case events.CallAnsweredEvent:
		return events.NewCallAnswered(req.CallID), nil
	case events.DTMFReceivedEvent:
		return events.NewDTMFReceived(req.CallID, req.Digits), nil
	case events.RecordingCompletedEvent:
		return events.NewRecordingCompleted(req.CallID, req.RecordingURL), nil
	case events.QueueConnectedEvent:
		return events.NewQueueConnected(req.CallID, req.AgentID), nil
	case events.QueueTimeoutEvent:
		return events.NewQueueTimeout(req.CallID), nil
	case events.WhisperAcceptedEvent:
		return events.NewWhisperAccepted(req.CallID), nil
	case events.WhisperRejectedEvent:
		return events.NewWhisperRejected(req.CallID), nil
	default:
		return nil, fmt.Errorf("unsupported event type %q", req.Type)
	}
}

func (h *APIHandlers) GetCall(c fiber.Ctx) error {
	callID := c.Params("id")
	if callID == "" {
		return badRequest(c, "Call ID is required")
	}

	call, err := h.calls.Get(c.Context(), callID)
	if err != nil {
		if errors.Is(err, callstate.ErrCallNotFound) {
			return notFound(c, "Call not found")
		}

		return internalError(c, err)
	}

	return c.JSON(toCallResponse(call))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.flowStore.HealthCheck(c.Context())
	callsErr := h.calls.HealthCheck(c.Context())

	status := "healthy"
	message := "Callflow API is healthy"
	httpStatus := http.StatusOK

	if storeErr != nil || callsErr != nil {
		status = "unhealthy"
		message = "Callflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"flow_store": checkResult(storeErr),
			"call_state": checkResult(callsErr),
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) parseVersionParams(c fiber.Ctx) (string, int, error) {
	flowID := c.Params("id")
	if flowID == "" {
		return "", 0, errMissingFlowID
	}

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 1 {
		return "", 0, errBadVersion
	}

	return flowID, version, nil
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}

	return "ok"
}
