package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/audit"
)

// AuditRepository implements audit.Log on PostgreSQL.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuditRepository(db *sql.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

func (r *AuditRepository) Record(ctx context.Context, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TenantID, entry.Action, entry.EntityType, entry.EntityID, details, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	return nil
}

// Recent returns a tenant's newest entries, newest first.
func (r *AuditRepository) Recent(ctx context.Context, tenantID string, limit int) ([]audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, action, entity_type, entity_id, details, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry

	for rows.Next() {
		var (
			entry     audit.Entry
			details   []byte
			createdAt time.Time
		)

		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Action, &entry.EntityType, &entry.EntityID, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.CreatedAt = createdAt

		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				r.logger.WarnContext(ctx, "Skipping undecodable audit details", "entry_id", entry.ID)
			}
		}

		out = append(out, entry)
	}

	return out, rows.Err()
}
