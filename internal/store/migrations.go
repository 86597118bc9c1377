package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	progress        INT NOT NULL DEFAULT 0,
	notes           TEXT NOT NULL DEFAULT '',
	audio_key       TEXT NOT NULL DEFAULT '',
	transcript_key  TEXT NOT NULL DEFAULT '',
	result_markdown TEXT,
	message         TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS jobs_expires_at_idx ON jobs (expires_at);
`

// RunMigrations applies the schema. Statements are idempotent so both
// binaries can run this at startup.
func (s *Store) RunMigrations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
