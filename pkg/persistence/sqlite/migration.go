package sqlite

// Timestamps are INTEGER unix nanoseconds; JSON documents are TEXT.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id TEXT PRIMARY KEY,
				chatbot_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				definition TEXT NOT NULL,
				published_at INTEGER NOT NULL,
				UNIQUE (chatbot_id, version)
			);

			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				chatbot_id TEXT NOT NULL,
				conversation_id TEXT NOT NULL,
				contact_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				current_node_id TEXT,
				variables TEXT NOT NULL DEFAULT '{}',
				message_history TEXT NOT NULL DEFAULT '[]',
				status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'waiting', 'paused', 'completed', 'failed')),
				started_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				completed_at INTEGER,
				error TEXT,
				UNIQUE (chatbot_id, conversation_id)
			);

			CREATE INDEX idx_executions_conversation_id ON executions(conversation_id);
			CREATE INDEX idx_executions_status ON executions(status);
		`,
		2: `
			ALTER TABLE executions ADD COLUMN channel_id TEXT NOT NULL DEFAULT '';
			ALTER TABLE executions ADD COLUMN flow_version INTEGER NOT NULL DEFAULT 0;
			ALTER TABLE executions ADD COLUMN expectation TEXT;
			ALTER TABLE executions ADD COLUMN resume_at INTEGER;
			ALTER TABLE executions ADD COLUMN processed_events TEXT NOT NULL DEFAULT '[]';

			CREATE INDEX idx_executions_resume_at ON executions(resume_at);
		`,
	}
}
