package enrich

import "context"

// StaticAttestation serves a fixed attestation table, used in tests and
// development where no signing provider is reachable.
type StaticAttestation struct {
	Levels map[string]string
}

func (s *StaticAttestation) Lookup(_ context.Context, _, number string) (*Attestation, error) {
	level, ok := s.Levels[number]
	if !ok {
		return nil, nil
	}

	return &Attestation{Level: level}, nil
}

// StaticCallerName serves a fixed CNAM table.
type StaticCallerName struct {
	Names map[string]string
}

func (s *StaticCallerName) Lookup(_ context.Context, _, number string) (*CallerName, error) {
	name, ok := s.Names[number]
	if !ok {
		return nil, nil
	}

	return &CallerName{Name: name, Provider: "static"}, nil
}

// StaticCarrier serves a fixed carrier table.
type StaticCarrier struct {
	Carriers map[string]string
}

func (s *StaticCarrier) Lookup(_ context.Context, _, number string) (*Carrier, error) {
	name, ok := s.Carriers[number]
	if !ok {
		return nil, nil
	}

	return &Carrier{Name: name}, nil
}
