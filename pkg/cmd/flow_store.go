package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence/memory"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence/postgresql"
)

// NewFlowStore selects the flow store from the database URL scheme. An
// empty URL means the in-memory store, which loses everything on exit.
func NewFlowStore(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.FlowStore, error) {
	switch parseStoreProvider(databaseURL) {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return memory.NewStore(), nil
	}
}

func parseStoreProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "memory"
	}
}
