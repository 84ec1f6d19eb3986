package persistence

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
)

// FlowVersion is one stored, immutable version of a routing flow.
type FlowVersion struct {
	ID          string              `json:"id"`
	FlowID      string              `json:"flowId"`
	TenantID    string              `json:"tenantId"`
	Name        string              `json:"name"`
	Version     int                 `json:"version"`
	Flow        *flow.Flow          `json:"flow"`
	Plan        *flow.ExecutionPlan `json:"plan"`
	IsActive    bool                `json:"isActive"`
	CreatedBy   string              `json:"createdBy,omitempty"`
	PublishedAt *time.Time          `json:"publishedAt,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// FlowStore persists versioned routing flows. Saving an existing
// (flowID, version) pair replaces that version's definition; publishing
// keeps at most one version of a flow active.
type FlowStore interface {
	StoreFlow(ctx context.Context, f *flow.Flow, tenantID, createdBy string) (*FlowVersion, error)
	GetFlowVersion(ctx context.Context, flowID string, version int) (*FlowVersion, error)
	GetFlowVersions(ctx context.Context, flowID string) ([]*FlowVersion, error)
	GetPublishedFlow(ctx context.Context, flowID string) (*FlowVersion, error)
	ListFlows(ctx context.Context, tenantID string) ([]*FlowVersion, error)
	PublishFlow(ctx context.Context, flowID string, version int) (*FlowVersion, error)
	RollbackFlow(ctx context.Context, flowID string, version int) (*FlowVersion, error)
	DeleteFlowVersion(ctx context.Context, flowID string, version int) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ParseVersion extracts the leading integer of a version label:
// "2" -> 2, "3-beta" -> 3, "draft" -> 1.
func ParseVersion(label string) int {
	label = strings.TrimSpace(label)

	end := 0
	for end < len(label) && unicode.IsDigit(rune(label[end])) {
		end++
	}

	if end == 0 {
		return 1
	}

	version := 0
	for _, d := range label[:end] {
		version = version*10 + int(d-'0')
	}

	if version == 0 {
		return 1
	}

	return version
}
