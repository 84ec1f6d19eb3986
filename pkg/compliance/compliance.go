// Package compliance gates outbound call routing: do-not-call lists,
// consent verification and tenant policy. The engine consults it before
// every buyer route and fails closed.
package compliance

import "context"

// Policy is a tenant's effective compliance configuration.
type Policy struct {
	TenantID       string `json:"tenantId"`
	EnforceDNC     bool   `json:"enforceDnc"`
	RequireConsent bool   `json:"requireConsent"`
}

// PolicyService resolves the effective policy for a tenant.
type PolicyService interface {
	EffectivePolicy(ctx context.Context, tenantID string) (Policy, error)
}

// CheckRequest describes one routing attempt to be cleared.
type CheckRequest struct {
	CallID       string `json:"callId"`
	TenantID     string `json:"tenantId"`
	Destination  string `json:"destination"`
	FromNumber   string `json:"fromNumber,omitempty"`
	CampaignID   string `json:"campaignId,omitempty"`
	ConsentToken string `json:"consentToken,omitempty"`
}

// DNCMatch identifies the list entry that blocked a number.
type DNCMatch struct {
	ListID      string `json:"listId"`
	ListName    string `json:"listName,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
}

// CheckResult is the verdict for one routing attempt.
type CheckResult struct {
	Allowed       bool      `json:"allowed"`
	Reason        string    `json:"reason,omitempty"`
	DNCMatch      *DNCMatch `json:"dncMatch,omitempty"`
	ConsentStatus string    `json:"consentStatus,omitempty"`
}

// Blocking reasons.
const (
	ReasonDNCMatch       = "dnc_match"
	ReasonConsentMissing = "consent_missing"
)

// Checker clears or blocks a routing attempt.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (CheckResult, error)
}

// StaticPolicyService returns a fixed per-tenant policy table with a
// default for unknown tenants.
type StaticPolicyService struct {
	Policies map[string]Policy
	Default  Policy
}

func (s *StaticPolicyService) EffectivePolicy(_ context.Context, tenantID string) (Policy, error) {
	if p, ok := s.Policies[tenantID]; ok {
		return p, nil
	}

	p := s.Default
	p.TenantID = tenantID

	return p, nil
}
