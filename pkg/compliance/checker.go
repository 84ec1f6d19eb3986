package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ConsentVerifier validates a consent token for a destination.
type ConsentVerifier interface {
	Verify(ctx context.Context, tenantID, token, destination string) (bool, error)
}

// ListChecker enforces DNC suppression lists and consent against a
// tenant policy.
type ListChecker struct {
	policies PolicyService
	consent  ConsentVerifier
	logger   *slog.Logger

	mu    sync.RWMutex
	lists map[string]dncList
}

type dncList struct {
	id      string
	name    string
	numbers map[string]struct{}
}

func NewListChecker(policies PolicyService, consent ConsentVerifier, logger *slog.Logger) *ListChecker {
	return &ListChecker{
		policies: policies,
		consent:  consent,
		logger:   logger,
		lists:    make(map[string]dncList),
	}
}

// LoadList installs or replaces a suppression list.
func (c *ListChecker) LoadList(listID, name string, numbers []string) {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}

	c.mu.Lock()
	c.lists[listID] = dncList{id: listID, name: name, numbers: set}
	c.mu.Unlock()
}

func (c *ListChecker) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	policy, err := c.policies.EffectivePolicy(ctx, req.TenantID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to resolve policy for tenant %s: %w", req.TenantID, err)
	}

	if policy.EnforceDNC {
		if match := c.lookupDNC(req.Destination); match != nil {
			c.logger.Info("routing blocked by suppression list",
				"call_id", req.CallID, "list_id", match.ListID)

			return CheckResult{Allowed: false, Reason: ReasonDNCMatch, DNCMatch: match}, nil
		}
	}

	if policy.RequireConsent {
		if c.consent == nil || req.ConsentToken == "" {
			return CheckResult{Allowed: false, Reason: ReasonConsentMissing, ConsentStatus: "missing"}, nil
		}

		ok, err := c.consent.Verify(ctx, req.TenantID, req.ConsentToken, req.Destination)
		if err != nil {
			return CheckResult{}, fmt.Errorf("consent verification failed: %w", err)
		}

		if !ok {
			return CheckResult{Allowed: false, Reason: ReasonConsentMissing, ConsentStatus: "invalid"}, nil
		}

		return CheckResult{Allowed: true, ConsentStatus: "verified"}, nil
	}

	return CheckResult{Allowed: true}, nil
}

func (c *ListChecker) lookupDNC(number string) *DNCMatch {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, list := range c.lists {
		if _, found := list.numbers[number]; found {
			return &DNCMatch{ListID: list.id, ListName: list.name, PhoneNumber: number}
		}
	}

	return nil
}
