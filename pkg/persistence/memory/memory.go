// Package memory provides an in-process FlowStore for tests and
// development. Versions are kept in the same relational projection the
// SQL store uses, so reads exercise the full graph codec.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
)

type storedVersion struct {
	id          string
	flowID      string
	tenantID    string
	name        string
	version     int
	nodes       []flow.NodeRow
	edges       []flow.EdgeRow
	snapshot    *flow.Flow
	isActive    bool
	createdBy   string
	publishedAt *time.Time
	createdAt   time.Time
	updatedAt   time.Time
}

type Store struct {
	mu    sync.RWMutex
	flows map[string][]*storedVersion // flowID -> versions ascending
}

func NewStore() *Store {
	return &Store{flows: make(map[string][]*storedVersion)}
}

func (s *Store) StoreFlow(_ context.Context, f *flow.Flow, tenantID, createdBy string) (*persistence.FlowVersion, error) {
	if issues := flow.Validate(f); len(issues) > 0 {
		return nil, persistence.NewFlowError("Store", f.ID, 0, &flow.InvalidFlowError{FlowID: f.ID, Issues: issues})
	}

	nodes, edges, err := flow.EncodeGraph(f)
	if err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, 0, err)
	}

	version := persistence.ParseVersion(f.Version)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &storedVersion{
		id:        uuid.Must(uuid.NewV7()).String(),
		flowID:    f.ID,
		tenantID:  tenantID,
		name:      f.Name,
		version:   version,
		nodes:     nodes,
		edges:     edges,
		snapshot:  f,
		createdBy: createdBy,
		createdAt: now,
		updatedAt: now,
	}

	versions := s.flows[f.ID]

	replaced := false

	for i, v := range versions {
		if v.version == version {
			stored.createdAt = v.createdAt
			stored.isActive = v.isActive
			stored.publishedAt = v.publishedAt
			versions[i] = stored
			replaced = true

			break
		}
	}

	if !replaced {
		versions = append(versions, stored)
		sort.Slice(versions, func(i, j int) bool { return versions[i].version < versions[j].version })
	}

	s.flows[f.ID] = versions

	return s.materialize(stored)
}

func (s *Store) GetFlowVersion(_ context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, err := s.lookup(flowID, version)
	if err != nil {
		return nil, persistence.NewFlowError("Get", flowID, version, err)
	}

	return s.materialize(stored)
}

func (s *Store) GetFlowVersions(_ context.Context, flowID string) ([]*persistence.FlowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.flows[flowID]
	if !ok {
		return nil, persistence.NewFlowError("List", flowID, 0, persistence.ErrFlowNotFound)
	}

	out := make([]*persistence.FlowVersion, 0, len(versions))

	for _, stored := range versions {
		fv, err := s.materialize(stored)
		if err != nil {
			return nil, err
		}

		out = append(out, fv)
	}

	return out, nil
}

func (s *Store) GetPublishedFlow(_ context.Context, flowID string) (*persistence.FlowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.flows[flowID]
	if !ok {
		return nil, persistence.NewFlowError("GetPublished", flowID, 0, persistence.ErrFlowNotFound)
	}

	for _, stored := range versions {
		if stored.isActive {
			return s.materialize(stored)
		}
	}

	return nil, persistence.NewFlowError("GetPublished", flowID, 0, persistence.ErrNoPublishedVersion)
}

func (s *Store) ListFlows(_ context.Context, tenantID string) ([]*persistence.FlowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*persistence.FlowVersion

	for _, versions := range s.flows {
		var pick *storedVersion

		for _, stored := range versions {
			if stored.tenantID != tenantID {
				continue
			}

			if stored.isActive || pick == nil {
				pick = stored
			}
		}

		if pick != nil {
			fv, err := s.materialize(pick)
			if err != nil {
				return nil, err
			}

			out = append(out, fv)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FlowID < out[j].FlowID })

	return out, nil
}

// PublishFlow deactivates every version of the flow, then activates the
// requested one. Publishing an older version is how rollback works.
func (s *Store) PublishFlow(_ context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.lookup(flowID, version)
	if err != nil {
		return nil, persistence.NewFlowError("Publish", flowID, version, err)
	}

	now := time.Now().UTC()

	for _, stored := range s.flows[flowID] {
		stored.isActive = false
	}

	target.isActive = true
	target.publishedAt = &now
	target.updatedAt = now

	return s.materialize(target)
}

// RollbackFlow reactivates an earlier version after a bad publish. It
// refuses versions that were never published before.
func (s *Store) RollbackFlow(ctx context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	s.mu.Lock()
	target, err := s.lookup(flowID, version)
	if err != nil {
		s.mu.Unlock()

		return nil, persistence.NewFlowError("Rollback", flowID, version, err)
	}

	if target.publishedAt == nil {
		s.mu.Unlock()

		return nil, persistence.NewFlowError("Rollback", flowID, version, persistence.ErrVersionNotPublished)
	}
	s.mu.Unlock()

	return s.PublishFlow(ctx, flowID, version)
}

func (s *Store) DeleteFlowVersion(_ context.Context, flowID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.flows[flowID]
	if !ok {
		return persistence.NewFlowError("Delete", flowID, version, persistence.ErrFlowNotFound)
	}

	for i, stored := range versions {
		if stored.version != version {
			continue
		}

		if stored.isActive {
			return persistence.NewFlowError("Delete", flowID, version, persistence.ErrVersionActive)
		}

		s.flows[flowID] = append(versions[:i], versions[i+1:]...)

		if len(s.flows[flowID]) == 0 {
			delete(s.flows, flowID)
		}

		return nil
	}

	return persistence.NewFlowError("Delete", flowID, version, persistence.ErrVersionNotFound)
}

func (s *Store) HealthCheck(context.Context) error { return nil }
func (s *Store) Close(context.Context) error       { return nil }

func (s *Store) lookup(flowID string, version int) (*storedVersion, error) {
	versions, ok := s.flows[flowID]
	if !ok {
		return nil, persistence.ErrFlowNotFound
	}

	for _, stored := range versions {
		if stored.version == version {
			return stored, nil
		}
	}

	return nil, persistence.ErrVersionNotFound
}

// materialize decodes the relational projection back into a flow and
// compiles its plan, falling back to the snapshot when decoding fails.
func (s *Store) materialize(stored *storedVersion) (*persistence.FlowVersion, error) {
	f, err := flow.DecodeGraph(stored.flowID, stored.name, stored.snapshot.Version, stored.nodes, stored.edges)
	if err != nil {
		f = stored.snapshot
	}

	plan, err := flow.CompilePlan(f)
	if err != nil {
		return nil, persistence.NewFlowError("Materialize", stored.flowID, stored.version, err)
	}

	return &persistence.FlowVersion{
		ID:          stored.id,
		FlowID:      stored.flowID,
		TenantID:    stored.tenantID,
		Name:        stored.name,
		Version:     stored.version,
		Flow:        f,
		Plan:        plan,
		IsActive:    stored.isActive,
		CreatedBy:   stored.createdBy,
		PublishedAt: stored.publishedAt,
		CreatedAt:   stored.createdAt,
		UpdatedAt:   stored.updatedAt,
	}, nil
}
