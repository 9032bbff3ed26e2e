package postgres

// migrations returns the ordered schema migrations. Nested structures
// (actions, graphs, request and response snapshots) are stored as JSONB.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS connectors (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				base_url TEXT NOT NULL,
				headers JSONB,
				timeout_seconds INTEGER NOT NULL DEFAULT 0,
				credential_id TEXT NOT NULL DEFAULT '',
				actions JSONB,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS credentials (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				auth_type TEXT NOT NULL,
				api_key_header TEXT NOT NULL DEFAULT '',
				token_header TEXT NOT NULL DEFAULT '',
				token_prefix TEXT NOT NULL DEFAULT '',
				token_url TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS credential_sets (
				id TEXT PRIMARY KEY,
				credential_id TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				secret_values JSONB,
				expires_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				schema JSONB,
				ack JSONB,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS sequences (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				event_id TEXT NOT NULL DEFAULT '',
				nodes JSONB,
				edges JSONB,
				active BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_sequences_event_id ON sequences (event_id);
		`,
		3: `
			CREATE TABLE IF NOT EXISTS sequence_executions (
				id TEXT PRIMARY KEY,
				sequence_id TEXT NOT NULL,
				status TEXT NOT NULL,
				trigger_payload JSONB,
				variables_state JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMPTZ NOT NULL,
				finished_at TIMESTAMPTZ,
				duration_ms BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_sequence_executions_sequence_id
				ON sequence_executions (sequence_id);

			CREATE TABLE IF NOT EXISTS execution_logs (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				node_name TEXT NOT NULL DEFAULT '',
				level TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				input JSONB,
				output JSONB,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_execution_logs_execution_id
				ON execution_logs (execution_id, created_at);
		`,
		4: `
			CREATE TABLE IF NOT EXISTS async_executions (
				id TEXT PRIMARY KEY,
				connector_id TEXT NOT NULL,
				action_id TEXT NOT NULL,
				action_name TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				initial_request JSONB,
				initial_response JSONB,
				polling_attempts INTEGER NOT NULL DEFAULT 0,
				last_polling_response JSONB,
				final_response JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				webhook_url TEXT NOT NULL DEFAULT '',
				webhook_identifier TEXT NOT NULL DEFAULT '',
				webhook_received BOOLEAN NOT NULL DEFAULT FALSE,
				webhook_received_at TIMESTAMPTZ,
				sequence_execution_id TEXT NOT NULL DEFAULT '',
				node_id TEXT NOT NULL DEFAULT '',
				response_mappings JSONB,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_async_executions_webhook_identifier
				ON async_executions (webhook_identifier)
				WHERE webhook_identifier <> '';

			CREATE TABLE IF NOT EXISTS async_progress (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				step TEXT NOT NULL,
				attempt INTEGER NOT NULL DEFAULT 0,
				endpoint TEXT NOT NULL DEFAULT '',
				method TEXT NOT NULL DEFAULT '',
				status_code INTEGER NOT NULL DEFAULT 0,
				request JSONB,
				response JSONB,
				message TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_async_progress_execution_id
				ON async_progress (execution_id, created_at, attempt);
		`,
	}
}
