package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS triggers (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    parameters JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS actions (
    id              BIGSERIAL PRIMARY KEY,
    name            TEXT NOT NULL,
    fields_required JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS workflows (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'draft',
    trigger_id BIGINT REFERENCES triggers(id) ON DELETE SET NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS workflow_actions (
    workflow_id        BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
    node_id            BIGINT NOT NULL,
    sort_order         INT NOT NULL,
    type               TEXT NOT NULL CHECK (type IN ('trigger', 'action')),
    action_id          BIGINT REFERENCES actions(id),
    trigger_id         BIGINT REFERENCES triggers(id),
    label              TEXT NOT NULL DEFAULT '',
    configuration_json JSONB NOT NULL DEFAULT '{}',
    x                  DOUBLE PRECISION NOT NULL,
    y                  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (workflow_id, node_id)
);

CREATE TABLE IF NOT EXISTS workflow_connections (
    id             BIGSERIAL PRIMARY KEY,
    workflow_id    BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
    sort_order     INT NOT NULL,
    source_node_id TEXT NOT NULL,
    target_node_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflows_updated_at          ON workflows(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_workflow_connections_workflow ON workflow_connections(workflow_id);
`

// seedSQL fills the catalog with the built-in triggers and actions. Existing
// rows are kept.
const seedSQL = `
INSERT INTO triggers (id, name, parameters) VALUES
    (1, 'Manual Trigger',    '{"description": "Manually triggered workflow"}'),
    (2, 'Scheduled Trigger', '{"frequency": ["daily", "weekly", "monthly"], "time": "time_of_day"}'),
    (3, 'Webhook Trigger',   '{"endpoint": "url_string", "method": ["GET", "POST", "PUT", "DELETE"]}'),
    (4, 'Form Submission',   '{"form_id": "string"}')
ON CONFLICT (id) DO NOTHING;

INSERT INTO actions (id, name, fields_required) VALUES
    (1, 'Send Email', '{"to": {"type": "email", "required": true}, "subject": {"type": "string", "required": true}, "body": {"type": "text", "required": true}}'),
    (2, 'Send SMS',   '{"to": {"type": "phone", "required": true}, "message": {"type": "text", "required": true}}'),
    (3, 'In-app notification', '{"user_id": {"type": "number", "required": true}, "message": {"type": "text", "required": true}, "type": {"type": "select", "options": ["info", "warning", "error", "success"], "required": true}}')
ON CONFLICT (id) DO NOTHING;

SELECT setval(pg_get_serial_sequence('triggers', 'id'), (SELECT MAX(id) FROM triggers));
SELECT setval(pg_get_serial_sequence('actions', 'id'), (SELECT MAX(id) FROM actions));
`

// CreateSchema creates the catalog and workflow tables if they don't exist
// and seeds the catalog.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	if err == nil {
		_, err = s.db.Exec(ctx, seedSQL)
	}
	s.observe("create_schema", err)
	return err
}

// DropSchema drops the workflow and catalog tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS workflow_connections, workflow_actions, workflows, actions, triggers CASCADE;`)
	s.observe("drop_schema", err)
	return err
}
