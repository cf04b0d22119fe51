package database

import "context"

// schemaStatements is the bootstrap DDL for the workflow and notification
// tables. Statements are idempotent so startup can run them every time.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         VARCHAR(64) PRIMARY KEY,
		role       VARCHAR(16) NOT NULL,
		name       TEXT        NOT NULL DEFAULT '',
		verified   BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id              VARCHAR(64) PRIMARY KEY,
		submitter_id    VARCHAR(64) NOT NULL REFERENCES users(id),
		payload         JSONB       NOT NULL DEFAULT '{}',
		review_status   VARCHAR(32) NOT NULL,
		approval_status VARCHAR(32) NOT NULL,
		reviewed_by     VARCHAR(64),
		reviewed_at     TIMESTAMPTZ,
		review_note     TEXT,
		approved_by     VARCHAR(64),
		approved_at     TIMESTAMPTZ,
		final_note      TEXT,
		permit_number   BIGINT,
		permit_period   INTEGER,
		permit_date     TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		UNIQUE (permit_period, permit_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_submitter
		ON submissions (submitter_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS permit_sequences (
		period      INTEGER PRIMARY KEY,
		last_number BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         VARCHAR(64) PRIMARY KEY,
		scope      VARCHAR(16) NOT NULL,
		target_id  VARCHAR(64),
		type       VARCHAR(64) NOT NULL,
		title      TEXT        NOT NULL,
		message    TEXT        NOT NULL,
		payload    JSONB       NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_scope
		ON notifications (scope, target_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS read_receipts (
		notification_id VARCHAR(64) NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
		reader_id       VARCHAR(64) NOT NULL,
		read_at         TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (notification_id, reader_id)
	)`,
}

// EnsureSchema applies the bootstrap DDL.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
