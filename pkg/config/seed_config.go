// Package config provides YAML seed configuration for the worker:
// tenant compliance policies, suppression lists and static enrichment
// tables.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/compliance"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/enrich"
)

// SeedFile is the structure of the worker seed YAML file.
type SeedFile struct {
	Compliance ComplianceConfig `yaml:"compliance"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

type ComplianceConfig struct {
	Default  PolicyConfig   `yaml:"default"`
	Tenants  []PolicyConfig `yaml:"tenants"`
	DNCLists []DNCList      `yaml:"dnc_lists"`
}

type PolicyConfig struct {
	TenantID       string `yaml:"tenant_id"`
	EnforceDNC     bool   `yaml:"enforce_dnc"`
	RequireConsent bool   `yaml:"require_consent"`
}

type DNCList struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Numbers []string `yaml:"numbers"`
}

type EnrichmentConfig struct {
	Attestation map[string]string `yaml:"attestation"`
	CallerNames map[string]string `yaml:"caller_names"`
	Carriers    map[string]string `yaml:"carriers"`
}

// LoadSeed reads and parses a seed YAML file.
func LoadSeed(filepath string) (*SeedFile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", filepath, err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}

	return &seed, nil
}

// NewChecker builds a compliance checker from the seed: tenant policies
// plus every configured suppression list.
func (s *SeedFile) NewChecker(consent compliance.ConsentVerifier, logger *slog.Logger) *compliance.ListChecker {
	policies := &compliance.StaticPolicyService{
		Default:  policyFromConfig(s.Compliance.Default),
		Policies: make(map[string]compliance.Policy, len(s.Compliance.Tenants)),
	}

	for _, tenant := range s.Compliance.Tenants {
		policies.Policies[tenant.TenantID] = policyFromConfig(tenant)
	}

	checker := compliance.NewListChecker(policies, consent, logger)
	for _, list := range s.Compliance.DNCLists {
		checker.LoadList(list.ID, list.Name, list.Numbers)
	}

	return checker
}

// NewEnricher builds an enricher backed by the seed's static tables. A
// non-nil Redis client puts read-through caches in front of the CNAM
// and carrier lookups.
func (s *SeedFile) NewEnricher(client *redis.Client, logger *slog.Logger) *enrich.Enricher {
	var (
		cnam    enrich.CallerNameService = &enrich.StaticCallerName{Names: s.Enrichment.CallerNames}
		carrier enrich.CarrierService    = &enrich.StaticCarrier{Carriers: s.Enrichment.Carriers}
	)

	if client != nil {
		cnam = enrich.NewCachedCallerName(cnam, client)
		carrier = enrich.NewCachedCarrier(carrier, client)
	}

	return enrich.NewEnricher(
		&enrich.StaticAttestation{Levels: s.Enrichment.Attestation},
		cnam,
		carrier,
		logger,
	)
}

func policyFromConfig(p PolicyConfig) compliance.Policy {
	return compliance.Policy{
		TenantID:       p.TenantID,
		EnforceDNC:     p.EnforceDNC,
		RequireConsent: p.RequireConsent,
	}
}
