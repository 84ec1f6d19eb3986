package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flow_versions (
				id UUID PRIMARY KEY,
				flow_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				version INTEGER NOT NULL,
				snapshot JSONB NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				created_by TEXT,
				published_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (flow_id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_flow_versions_flow_active
				ON flow_versions (flow_id) WHERE is_active;

			CREATE INDEX IF NOT EXISTS idx_flow_versions_tenant
				ON flow_versions (tenant_id);

			CREATE TABLE IF NOT EXISTS flow_nodes (
				version_id UUID NOT NULL REFERENCES flow_versions(id) ON DELETE CASCADE,
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				name TEXT NOT NULL,
				config JSONB NOT NULL,
				PRIMARY KEY (version_id, node_id)
			);

			CREATE TABLE IF NOT EXISTS flow_edges (
				version_id UUID NOT NULL REFERENCES flow_versions(id) ON DELETE CASCADE,
				from_node_id TEXT NOT NULL,
				to_node_id TEXT NOT NULL,
				condition TEXT NOT NULL DEFAULT '',
				priority INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_flow_edges_version
				ON flow_edges (version_id, from_node_id, priority);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS audit_logs (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				action TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				details JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_created
				ON audit_logs (tenant_id, created_at DESC);
		`,
	}
}
