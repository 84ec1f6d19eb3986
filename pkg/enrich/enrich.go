// Package enrich resolves caller metadata from telco data providers.
// Lookups are best-effort: a provider failure degrades the variable to
// nil, it never stops the call.
package enrich

import (
	"context"
	"log/slog"
	"sync"
)

// Attestation is the STIR/SHAKEN attestation of an inbound call.
type Attestation struct {
	Level    string `json:"level"`
	Identity string `json:"identity,omitempty"`
}

// CallerName is the CNAM record of a calling number.
type CallerName struct {
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// Carrier describes the carrier of record for a number.
type Carrier struct {
	Name     string `json:"name"`
	LineType string `json:"lineType,omitempty"`
	OCN      string `json:"ocn,omitempty"`
}

type AttestationService interface {
	Lookup(ctx context.Context, tenantID, number string) (*Attestation, error)
}

type CallerNameService interface {
	Lookup(ctx context.Context, tenantID, number string) (*CallerName, error)
}

type CarrierService interface {
	Lookup(ctx context.Context, tenantID, number string) (*Carrier, error)
}

// Enricher fans the three lookups out in parallel and folds whatever
// came back into a variable map. Any service may be nil.
type Enricher struct {
	attestation AttestationService
	callerName  CallerNameService
	carrier     CarrierService
	logger      *slog.Logger
}

func NewEnricher(att AttestationService, cnam CallerNameService, carrier CarrierService, logger *slog.Logger) *Enricher {
	return &Enricher{attestation: att, callerName: cnam, carrier: carrier, logger: logger}
}

// Enrich resolves attestation and CNAM for the calling number and the
// carrier of record for the dialed number. Every key is always present
// in the result; failed or missing lookups hold nil.
func (e *Enricher) Enrich(ctx context.Context, tenantID, fromNumber, toNumber string) map[string]any {
	vars := map[string]any{
		"attestation": nil,
		"callerName":  nil,
		"carrier":     nil,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	set := func(key string, value any, err error) {
		if err != nil {
			e.logger.Warn("enrichment lookup failed", "lookup", key, "error", err)

			return
		}

		mu.Lock()
		vars[key] = value
		mu.Unlock()
	}

	if e.attestation != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()

			att, err := e.attestation.Lookup(ctx, tenantID, fromNumber)
			if att != nil {
				set("attestation", att.Level, err)
			} else {
				set("attestation", nil, err)
			}
		}()
	}

	if e.callerName != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()

			cnam, err := e.callerName.Lookup(ctx, tenantID, fromNumber)
			if cnam != nil {
				set("callerName", cnam.Name, err)
			} else {
				set("callerName", nil, err)
			}
		}()
	}

	if e.carrier != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()

			carrier, err := e.carrier.Lookup(ctx, tenantID, toNumber)
			if carrier != nil {
				set("carrier", carrier.Name, err)
			} else {
				set("carrier", nil, err)
			}
		}()
	}

	wg.Wait()

	return vars
}
