package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
)

// FlowRepository stores flow versions in their relational projection:
// one row per version, one row per node, one row per transition edge.
// The full document is kept alongside as a snapshot so a version can be
// materialized even if edge reconstruction fails.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

func (r *FlowRepository) Store(ctx context.Context, f *flow.Flow, tenantID, createdBy string) (*persistence.FlowVersion, error) {
	if issues := flow.Validate(f); len(issues) > 0 {
		return nil, persistence.NewFlowError("Store", f.ID, 0, &flow.InvalidFlowError{FlowID: f.ID, Issues: issues})
	}

	nodes, edges, err := flow.EncodeGraph(f)
	if err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, 0, err)
	}

	snapshot, err := json.Marshal(f)
	if err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, 0, err)
	}

	version := persistence.ParseVersion(f.Version)
	versionID := uuid.Must(uuid.NewV7()).String()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	// re-storing an existing version replaces its definition but keeps
	// its identity and active flag
	err = tx.QueryRowContext(ctx, `
		INSERT INTO flow_versions (id, flow_id, tenant_id, name, version, snapshot, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (flow_id, version) DO UPDATE
			SET name = EXCLUDED.name,
			    snapshot = EXCLUDED.snapshot,
			    created_by = EXCLUDED.created_by,
			    updated_at = NOW()
		RETURNING id`,
		versionID, f.ID, tenantID, f.Name, version, snapshot, createdBy,
	).Scan(&versionID)
	if err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, version, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_nodes WHERE version_id = $1", versionID); err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, version, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_edges WHERE version_id = $1", versionID); err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, version, err)
	}

	for _, node := range nodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flow_nodes (version_id, node_id, node_type, name, config)
			VALUES ($1, $2, $3, $4, $5)`,
			versionID, node.ID, string(node.Type), node.Name, []byte(node.Config),
		); err != nil {
			return nil, persistence.NewFlowError("Store", f.ID, version, err)
		}
	}

	for _, edge := range edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flow_edges (version_id, from_node_id, to_node_id, condition, priority)
			VALUES ($1, $2, $3, $4, $5)`,
			versionID, edge.FromNodeID, edge.ToNodeID, edge.Condition, edge.Priority,
		); err != nil {
			return nil, persistence.NewFlowError("Store", f.ID, version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence.NewFlowError("Store", f.ID, version, err)
	}

	r.logger.InfoContext(ctx, "Stored flow version", "flow_id", f.ID, "version", version)

	return r.GetVersion(ctx, f.ID, version)
}

const versionColumns = `id, flow_id, tenant_id, name, version, snapshot, is_active, created_by, published_at, created_at, updated_at`

func (r *FlowRepository) GetVersion(ctx context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM flow_versions WHERE flow_id = $1 AND version = $2",
		flowID, version)

	fv, err := r.scanVersion(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		if exists, existsErr := r.flowExists(ctx, flowID); existsErr == nil && !exists {
			return nil, persistence.NewFlowError("Get", flowID, version, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError("Get", flowID, version, persistence.ErrVersionNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Get", flowID, version, err)
	}

	return fv, nil
}

func (r *FlowRepository) GetVersions(ctx context.Context, flowID string) ([]*persistence.FlowVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM flow_versions WHERE flow_id = $1 ORDER BY version",
		flowID)
	if err != nil {
		return nil, persistence.NewFlowError("List", flowID, 0, err)
	}
	defer rows.Close()

	var out []*persistence.FlowVersion

	for rows.Next() {
		fv, err := r.scanVersion(ctx, rows)
		if err != nil {
			return nil, persistence.NewFlowError("List", flowID, 0, err)
		}

		out = append(out, fv)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewFlowError("List", flowID, 0, err)
	}

	if len(out) == 0 {
		return nil, persistence.NewFlowError("List", flowID, 0, persistence.ErrFlowNotFound)
	}

	return out, nil
}

func (r *FlowRepository) GetPublished(ctx context.Context, flowID string) (*persistence.FlowVersion, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM flow_versions WHERE flow_id = $1 AND is_active",
		flowID)

	fv, err := r.scanVersion(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		if exists, existsErr := r.flowExists(ctx, flowID); existsErr == nil && !exists {
			return nil, persistence.NewFlowError("GetPublished", flowID, 0, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError("GetPublished", flowID, 0, persistence.ErrNoPublishedVersion)
	}

	if err != nil {
		return nil, persistence.NewFlowError("GetPublished", flowID, 0, err)
	}

	return fv, nil
}

func (r *FlowRepository) List(ctx context.Context, tenantID string) ([]*persistence.FlowVersion, error) {
	// one row per flow: the active version, or the newest when none is
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (flow_id) `+versionColumns+`
		FROM flow_versions
		WHERE tenant_id = $1
		ORDER BY flow_id, is_active DESC, version DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []*persistence.FlowVersion

	for rows.Next() {
		fv, err := r.scanVersion(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list flows for tenant %s: %w", tenantID, err)
		}

		out = append(out, fv)
	}

	return out, rows.Err()
}

// Publish flips the active flag inside one transaction: every version of
// the flow goes inactive, then the target goes active. At most one
// version is ever active.
func (r *FlowRepository) Publish(ctx context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewFlowError("Publish", flowID, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE flow_versions SET is_active = FALSE, updated_at = NOW() WHERE flow_id = $1 AND is_active",
		flowID,
	); err != nil {
		return nil, persistence.NewFlowError("Publish", flowID, version, err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE flow_versions SET is_active = TRUE, published_at = NOW(), updated_at = NOW() WHERE flow_id = $1 AND version = $2",
		flowID, version)
	if err != nil {
		return nil, persistence.NewFlowError("Publish", flowID, version, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, persistence.NewFlowError("Publish", flowID, version, err)
	}

	if affected == 0 {
		return nil, persistence.NewFlowError("Publish", flowID, version, persistence.ErrVersionNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence.NewFlowError("Publish", flowID, version, err)
	}

	r.logger.InfoContext(ctx, "Published flow version", "flow_id", flowID, "version", version)

	return r.GetVersion(ctx, flowID, version)
}

// Rollback reactivates an earlier version after a bad publish. Only
// versions with a publish history qualify.
func (r *FlowRepository) Rollback(ctx context.Context, flowID string, version int) (*persistence.FlowVersion, error) {
	var publishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		"SELECT published_at FROM flow_versions WHERE flow_id = $1 AND version = $2",
		flowID, version).Scan(&publishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("Rollback", flowID, version, persistence.ErrVersionNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Rollback", flowID, version, err)
	}

	if !publishedAt.Valid {
		return nil, persistence.NewFlowError("Rollback", flowID, version, persistence.ErrVersionNotPublished)
	}

	return r.Publish(ctx, flowID, version)
}

func (r *FlowRepository) Delete(ctx context.Context, flowID string, version int) error {
	var isActive bool

	err := r.db.QueryRowContext(ctx,
		"SELECT is_active FROM flow_versions WHERE flow_id = $1 AND version = $2",
		flowID, version).Scan(&isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewFlowError("Delete", flowID, version, persistence.ErrVersionNotFound)
	}

	if err != nil {
		return persistence.NewFlowError("Delete", flowID, version, err)
	}

	if isActive {
		return persistence.NewFlowError("Delete", flowID, version, persistence.ErrVersionActive)
	}

	// node and edge rows go with the version via ON DELETE CASCADE
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM flow_versions WHERE flow_id = $1 AND version = $2",
		flowID, version,
	); err != nil {
		return persistence.NewFlowError("Delete", flowID, version, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *FlowRepository) scanVersion(ctx context.Context, row rowScanner) (*persistence.FlowVersion, error) {
	var (
		fv        persistence.FlowVersion
		snapshot  []byte
		createdBy sql.NullString
		published sql.NullTime
	)

	err := row.Scan(&fv.ID, &fv.FlowID, &fv.TenantID, &fv.Name, &fv.Version,
		&snapshot, &fv.IsActive, &createdBy, &published, &fv.CreatedAt, &fv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	fv.CreatedBy = createdBy.String

	if published.Valid {
		t := published.Time
		fv.PublishedAt = &t
	}

	f, err := r.reconstruct(ctx, &fv, snapshot)
	if err != nil {
		return nil, err
	}

	fv.Flow = f

	plan, err := flow.CompilePlan(f)
	if err != nil {
		return nil, err
	}

	fv.Plan = plan

	return &fv, nil
}

// reconstruct rebuilds the flow from its node and edge rows, falling
// back to the stored snapshot.
func (r *FlowRepository) reconstruct(ctx context.Context, fv *persistence.FlowVersion, snapshot []byte) (*flow.Flow, error) {
	nodes, edges, err := r.loadGraph(ctx, fv.ID)
	if err == nil && len(nodes) > 0 {
		versionLabel := fmt.Sprintf("%d", fv.Version)

		if f, decodeErr := flow.DecodeGraph(fv.FlowID, fv.Name, versionLabel, nodes, edges); decodeErr == nil {
			return f, nil
		} else {
			r.logger.WarnContext(ctx, "Falling back to flow snapshot",
				"flow_id", fv.FlowID, "version", fv.Version, "error", decodeErr)
		}
	}

	var f flow.Flow

	if err := json.Unmarshal(snapshot, &f); err != nil {
		return nil, fmt.Errorf("failed to decode flow snapshot: %w", err)
	}

	return &f, nil
}

func (r *FlowRepository) loadGraph(ctx context.Context, versionID string) ([]flow.NodeRow, []flow.EdgeRow, error) {
	nodeRows, err := r.db.QueryContext(ctx,
		"SELECT node_id, node_type, name, config FROM flow_nodes WHERE version_id = $1",
		versionID)
	if err != nil {
		return nil, nil, err
	}
	defer nodeRows.Close()

	var nodes []flow.NodeRow

	for nodeRows.Next() {
		var (
			node   flow.NodeRow
			config []byte
		)

		if err := nodeRows.Scan(&node.ID, &node.Type, &node.Name, &config); err != nil {
			return nil, nil, err
		}

		node.Config = config
		nodes = append(nodes, node)
	}

	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := r.db.QueryContext(ctx,
		"SELECT from_node_id, to_node_id, condition, priority FROM flow_edges WHERE version_id = $1 ORDER BY from_node_id, priority",
		versionID)
	if err != nil {
		return nil, nil, err
	}
	defer edgeRows.Close()

	var edges []flow.EdgeRow

	for edgeRows.Next() {
		var edge flow.EdgeRow

		if err := edgeRows.Scan(&edge.FromNodeID, &edge.ToNodeID, &edge.Condition, &edge.Priority); err != nil {
			return nil, nil, err
		}

		edges = append(edges, edge)
	}

	return nodes, edges, edgeRows.Err()
}

func (r *FlowRepository) flowExists(ctx context.Context, flowID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM flow_versions WHERE flow_id = $1)",
		flowID).Scan(&exists)

	return exists, err
}
