// Package postgresql provides the PostgreSQL FlowStore used in
// production.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence/sqlbase"
)

// Persistence implements persistence.FlowStore on PostgreSQL.
type Persistence struct {
	db       *sql.DB
	logger   *slog.Logger
	flowRepo *FlowRepository
	audit    *AuditRepository
}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:       database,
		logger:   logger,
		flowRepo: NewFlowRepository(database, logger),
		audit:    NewAuditRepository(database, logger),
	}, nil
}

// AuditLog returns the audit log backed by the same database.
func (p *Persistence) AuditLog() *AuditRepository {
	return p.audit
}

func (p *Persistence) StoreFlow(ctx context.Context, f *flow.Flow, tenantID, createdBy string) (*persistence.FlowVersion, error) {
	return p.flowRepo.Store(ctx, f, tenantID, createdBy)
}

func (p *Persistence) GetFlowVersion(ctx context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	return p.flowRepo.GetVersion(ctx, flowID, version)
}

func (p *Persistence) GetFlowVersions(ctx context.Context, flowID string) ([]*persistence.FlowVersion, error) {
	return p.flowRepo.GetVersions(ctx, flowID)
}

func (p *Persistence) GetPublishedFlow(ctx context.Context, flowID string) (*persistence.FlowVersion, error) {
	return p.flowRepo.GetPublished(ctx, flowID)
}

func (p *Persistence) ListFlows(ctx context.Context, tenantID string) ([]*persistence.FlowVersion, error) {
	return p.flowRepo.List(ctx, tenantID)
}

func (p *Persistence) PublishFlow(ctx context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	return p.flowRepo.Publish(ctx, flowID, version)
}

func (p *Persistence) RollbackFlow(ctx context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	return p.flowRepo.Rollback(ctx, flowID, version)
}

func (p *Persistence) DeleteFlowVersion(ctx context.Context, flowID string, version int) error {
	return p.flowRepo.Delete(ctx, flowID, version)
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Close(context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
