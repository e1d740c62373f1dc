package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL,
				variables JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE contacts (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(64) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				attributes JSONB
			);

			CREATE TABLE flow_executions (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id),
				mode VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'paused', 'cancelled', 'completed', 'failed')),
				idempotency_key VARCHAR(255) NOT NULL DEFAULT '',
				total_contacts INT NOT NULL DEFAULT 0,
				variables JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_flow_executions_idempotency
				ON flow_executions(flow_id, idempotency_key) WHERE idempotency_key <> '';
			CREATE INDEX idx_flow_executions_status ON flow_executions(status);
		`,
		2: `
			-- Per-contact cursors and the append-only node execution ledger
			CREATE TABLE contact_cursors (
				execution_id VARCHAR(255) NOT NULL REFERENCES flow_executions(id) ON DELETE CASCADE,
				contact_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				step INT NOT NULL DEFAULT 0,
				attempts INT NOT NULL DEFAULT 0,
				resume_at TIMESTAMP WITH TIME ZONE,
				deadline TIMESTAMP WITH TIME ZONE,
				awaiting_reply BOOLEAN NOT NULL DEFAULT false,
				reply TEXT,
				reason TEXT NOT NULL DEFAULT '',
				version INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, contact_id)
			);

			CREATE INDEX idx_contact_cursors_status ON contact_cursors(execution_id, status);

			CREATE TABLE node_executions (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES flow_executions(id) ON DELETE CASCADE,
				contact_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				node_kind VARCHAR(50) NOT NULL,
				step INT NOT NULL,
				attempt INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('succeeded', 'failed', 'skipped')),
				branch VARCHAR(255) NOT NULL DEFAULT '',
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_node_executions_key ON node_executions(execution_id, contact_id, node_id, step);
			CREATE INDEX idx_node_executions_status ON node_executions(execution_id, status);
		`,
		3: `
			CREATE TABLE ai_tools (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				webhook_url TEXT NOT NULL,
				headers JSONB,
				input_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE tool_executions (
				id VARCHAR(255) PRIMARY KEY,
				key VARCHAR(512) NOT NULL UNIQUE,
				tool_id VARCHAR(255) NOT NULL,
				node_execution_id VARCHAR(255) NOT NULL DEFAULT '',
				request JSONB,
				response JSONB,
				status_code INT NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE
			);
		`,
	}
}
