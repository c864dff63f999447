package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				chatbot_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				definition JSONB NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (chatbot_id, version)
			);

			CREATE INDEX idx_flows_tenant_id ON flows(tenant_id);

			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				chatbot_id VARCHAR(255) NOT NULL,
				conversation_id VARCHAR(255) NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				current_node_id VARCHAR(255),
				variables JSONB NOT NULL DEFAULT '{}',
				message_history JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(50) NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'waiting', 'paused', 'completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error TEXT,
				UNIQUE (chatbot_id, conversation_id)
			);

			CREATE INDEX idx_executions_conversation_id ON executions(conversation_id);
			CREATE INDEX idx_executions_status ON executions(status);
		`,
		2: `
			-- Channel routing, pinned flow version and timer bookkeeping
			ALTER TABLE executions
				ADD COLUMN channel_id VARCHAR(255) NOT NULL DEFAULT '',
				ADD COLUMN flow_version INTEGER NOT NULL DEFAULT 0,
				ADD COLUMN expectation JSONB,
				ADD COLUMN resume_at TIMESTAMP WITH TIME ZONE,
				ADD COLUMN processed_events JSONB NOT NULL DEFAULT '[]';

			CREATE INDEX idx_executions_resume_at ON executions(resume_at) WHERE resume_at IS NOT NULL;
		`,
	}
}
