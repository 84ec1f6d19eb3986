// Package callstate tracks the live telephony state of calls moving
// through routing flows.
package callstate

import (
	"context"
	"errors"
	"time"
)

var ErrCallNotFound = errors.New("call not found")

// Status is the telephony lifecycle of one call, independent of flow
// position.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Call is the stored state of one call.
type Call struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	FlowID        string     `json:"flowId"`
	FlowVersion   string     `json:"flowVersion,omitempty"`
	FromNumber    string     `json:"fromNumber"`
	ToNumber      string     `json:"toNumber"`
	Status        Status     `json:"status"`
	CurrentNodeID string     `json:"currentNodeId,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// Store persists live call state. Implementations must tolerate
// concurrent calls operating on distinct ids.
type Store interface {
	Save(ctx context.Context, call *Call) error
	Get(ctx context.Context, callID string) (*Call, error)
	SetStatus(ctx context.Context, callID string, status Status) error
	SetCurrentNode(ctx context.Context, callID, nodeID string) error
	Delete(ctx context.Context, callID string) error
	HealthCheck(ctx context.Context) error
}
