// Package audit records tenant-visible actions: flow lifecycle changes
// and compliance decisions.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded action.
type Entry struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Log appends audit entries. Implementations must never block call
// processing on durability.
type Log interface {
	Record(ctx context.Context, entry Entry) error
}

// NewEntry stamps identity and time onto an entry.
func NewEntry(tenantID, action, entityType, entityID string, details map[string]any) Entry {
	return Entry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TenantID:   tenantID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
}

// MemoryLog collects entries in memory for tests and development.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Record(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)

	return nil
}

// Entries returns a copy of everything recorded so far.
func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)

	return out
}
