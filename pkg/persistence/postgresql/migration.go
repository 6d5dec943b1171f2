package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				object_type VARCHAR(50) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				entry_criteria JSONB NOT NULL DEFAULT '{}',
				reentry_mode VARCHAR(50) NOT NULL DEFAULT 'allow_all',
				reentry_wait_days INT NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT false,
				is_template BOOLEAN NOT NULL DEFAULT false,
				canvas_data JSONB,
				evaluation_order INT NOT NULL DEFAULT 0,
				next_fire_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_org ON workflows(organization_id);
			CREATE INDEX idx_workflows_trigger ON workflows(object_type, trigger_type) WHERE is_active AND deleted_at IS NULL;
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_steps (
				id UUID NOT NULL,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_key VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				step_order INT NOT NULL DEFAULT 0,
				step_config JSONB,
				next_step_key VARCHAR(255),
				position_x INT NOT NULL DEFAULT 0,
				position_y INT NOT NULL DEFAULT 0,
				PRIMARY KEY (workflow_id, step_key)
			);

			CREATE INDEX idx_workflow_steps_workflow_id ON workflow_steps(workflow_id);

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				organization_id VARCHAR(255) NOT NULL DEFAULT '',
				record_type VARCHAR(50) NOT NULL,
				record_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				current_step_key VARCHAR(255) NOT NULL DEFAULT '',
				context JSONB NOT NULL DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT '',
				retry_count INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				next_run_at TIMESTAMP WITH TIME ZONE,
				waiting_for TEXT NOT NULL DEFAULT '',
				locked_until TIMESTAMP WITH TIME ZONE,
				locked_by VARCHAR(255) NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_executions_record ON workflow_executions(workflow_id, record_type, record_id);
			CREATE INDEX idx_executions_due ON workflow_executions(next_run_at) WHERE status IN ('running', 'waiting');
			CREATE INDEX idx_executions_started_at ON workflow_executions(started_at);

			CREATE TABLE step_executions (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL DEFAULT '',
				step_key VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_step_executions_execution_id ON step_executions(execution_id);
			CREATE INDEX idx_step_executions_step_key ON step_executions(step_key);
			CREATE INDEX idx_step_executions_started_at ON step_executions(started_at);
		`,
	}
}
