package cmd

import (
	"fmt"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
)

// NewCallStateStore selects the call state store. An empty URL means
// the in-memory store, suitable for single-process deployments only.
func NewCallStateStore(redisURL string) (callstate.Store, error) {
	if redisURL == "" {
		return callstate.NewMemoryStore(), nil
	}

	store, err := callstate.NewRedisStore(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis call state store: %w", err)
	}

	return store, nil
}
