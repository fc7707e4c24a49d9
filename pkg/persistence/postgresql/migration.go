package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				allow_reentry BOOLEAN NOT NULL DEFAULT false,
				reentry_delay_days INT,
				exit_on_goal BOOLEAN NOT NULL DEFAULT false,
				goal_config JSONB,
				total_enrolled BIGINT NOT NULL DEFAULT 0 CHECK (total_enrolled >= 0),
				currently_active BIGINT NOT NULL DEFAULT 0 CHECK (currently_active >= 0),
				completed BIGINT NOT NULL DEFAULT 0 CHECK (completed >= 0),
				exited BIGINT NOT NULL DEFAULT 0 CHECK (exited >= 0),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_status ON automations(status);
			CREATE INDEX idx_automations_trigger ON automations(status, trigger_type);

			CREATE TABLE automation_steps (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
				step_type VARCHAR(50) NOT NULL,
				config JSONB DEFAULT '{}',
				position INT NOT NULL DEFAULT 0,
				parent_step_id UUID,
				branch VARCHAR(10) CHECK (branch IN ('yes', 'no')),
				entered BIGINT NOT NULL DEFAULT 0,
				completed BIGINT NOT NULL DEFAULT 0,
				failed BIGINT NOT NULL DEFAULT 0,
				emails_sent BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_steps_automation ON automation_steps(automation_id, position);
			CREATE INDEX idx_steps_parent ON automation_steps(parent_step_id);

			CREATE TABLE automation_enrollments (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL REFERENCES automations(id),
				contact_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'waiting', 'completed', 'exited', 'failed')),
				current_step_id UUID,
				exit_reason VARCHAR(100),
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				next_action_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				exited_at TIMESTAMP WITH TIME ZONE,
				step_history JSONB DEFAULT '[]',
				metadata JSONB,
				attempts INT NOT NULL DEFAULT 0
			);

			-- One live enrollment per (automation, contact).
			CREATE UNIQUE INDEX idx_enrollments_live ON automation_enrollments(automation_id, contact_id)
				WHERE status IN ('active', 'waiting');

			CREATE INDEX idx_enrollments_due ON automation_enrollments(status, next_action_at);
			CREATE INDEX idx_enrollments_contact ON automation_enrollments(automation_id, contact_id);

			CREATE TABLE automation_logs (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				enrollment_id UUID NOT NULL,
				step_id UUID,
				contact_id VARCHAR(255) NOT NULL,
				action VARCHAR(50) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('success', 'failed', 'skipped')),
				message TEXT,
				data JSONB,
				email_message_ref VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_logs_enrollment ON automation_logs(enrollment_id, created_at);
			CREATE INDEX idx_logs_automation ON automation_logs(automation_id, created_at);
		`,
	}
}
