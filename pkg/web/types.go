package web

import (
	"encoding/json"
	"time"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
)

// CreateFlowRequest stores a new flow version. The flow document itself
// is validated structurally by the parser, not the request validator.
type CreateFlowRequest struct {
	TenantID  string          `json:"tenantId"  validate:"required"`
	CreatedBy string          `json:"createdBy" validate:"required"`
	Flow      json.RawMessage `json:"flow"      validate:"required"`
}

// ValidateFlowRequest checks a flow document without storing it.
type ValidateFlowRequest struct {
	Flow json.RawMessage `json:"flow" validate:"required"`
}

// ValidateFlowResponse reports the validation outcome.
type ValidateFlowResponse struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// FlowVersionResponse is the API projection of a stored version: the
// document plus its lifecycle metadata, without the compiled plan.
type FlowVersionResponse struct {
	ID          string     `json:"id"`
	FlowID      string     `json:"flowId"`
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name"`
	Version     int        `json:"version"`
	IsActive    bool       `json:"isActive"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Flow        any        `json:"flow,omitempty"`
}

func toVersionResponse(fv *persistence.FlowVersion, includeDocument bool) FlowVersionResponse {
	resp := FlowVersionResponse{
		ID:          fv.ID,
		FlowID:      fv.FlowID,
		TenantID:    fv.TenantID,
		Name:        fv.Name,
		Version:     fv.Version,
		IsActive:    fv.IsActive,
		CreatedBy:   fv.CreatedBy,
		PublishedAt: fv.PublishedAt,
		CreatedAt:   fv.CreatedAt,
		UpdatedAt:   fv.UpdatedAt,
	}

	if includeDocument {
		resp.Flow = fv.Flow
	}

	return resp
}

func toVersionResponses(versions []*persistence.FlowVersion) []FlowVersionResponse {
	out := make([]FlowVersionResponse, 0, len(versions))
	for _, fv := range versions {
		out = append(out, toVersionResponse(fv, false))
	}

	return out
}

// ExecuteCallRequest starts a call against the published version of a
// flow. The call id is generated when the caller leaves it empty.
type ExecuteCallRequest struct {
	CallID     string `json:"callId"`
	TenantID   string `json:"tenantId"   validate:"required"`
	FlowID     string `json:"flowId"     validate:"required"`
	FromNumber string `json:"fromNumber" validate:"required"`
	ToNumber   string `json:"toNumber"   validate:"required"`
	CampaignID string `json:"campaignId"`
}

// ExecuteCallResponse acknowledges an accepted call.
type ExecuteCallResponse struct {
	CallID string `json:"callId"`
	FlowID string `json:"flowId"`
	Status string `json:"status"`
}

// CallEventRequest injects one telephony event into a running call.
type CallEventRequest struct {
	CallID       string `json:"callId" validate:"required"`
	Type         string `json:"type"   validate:"required"`
	Digits       string `json:"digits,omitempty"`
	RecordingURL string `json:"recordingUrl,omitempty"`
	AgentID      string `json:"agentId,omitempty"`
}

// CallResponse is the API projection of a live or finished call.
type CallResponse struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	FlowID        string     `json:"flowId"`
	FlowVersion   string     `json:"flowVersion,omitempty"`
	FromNumber    string     `json:"fromNumber"`
	ToNumber      string     `json:"toNumber"`
	Status        string     `json:"status"`
	CurrentNodeID string     `json:"currentNodeId,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

func toCallResponse(call *callstate.Call) CallResponse {
	return CallResponse{
		ID:            call.ID,
		TenantID:      call.TenantID,
		FlowID:        call.FlowID,
		FlowVersion:   call.FlowVersion,
		FromNumber:    call.FromNumber,
		ToNumber:      call.ToNumber,
		Status:        string(call.Status),
		CurrentNodeID: call.CurrentNodeID,
		StartedAt:     call.StartedAt,
		UpdatedAt:     call.UpdatedAt,
		EndedAt:       call.EndedAt,
	}
}
