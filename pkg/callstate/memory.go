package callstate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node
// development.
type MemoryStore struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]*Call)}
}

func (s *MemoryStore) Save(_ context.Context, call *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *call
	c.UpdatedAt = time.Now().UTC()
	s.calls[c.ID] = &c

	return nil
}

func (s *MemoryStore) Get(_ context.Context, callID string) (*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	c := *call

	return &c, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, callID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	call.Status = status
	call.UpdatedAt = time.Now().UTC()

	if status == StatusCompleted || status == StatusFailed {
		now := time.Now().UTC()
		call.EndedAt = &now
	}

	return nil
}

func (s *MemoryStore) SetCurrentNode(_ context.Context, callID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	call.CurrentNodeID = nodeID
	call.UpdatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.calls, callID)

	return nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}
