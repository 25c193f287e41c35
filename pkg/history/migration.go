package history

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema this package reads and writes.
const CurrentSchemaVersion = 1

// migrations are applied in order; each is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS backup_runs (
		id               TEXT PRIMARY KEY,
		file_name        TEXT NOT NULL,
		path             TEXT NOT NULL,
		mode             TEXT NOT NULL,
		envelope_version BIGINT NOT NULL DEFAULT 0,
		size             BIGINT NOT NULL DEFAULT 0,
		sha256           TEXT NOT NULL DEFAULT '',
		items            INTEGER NOT NULL DEFAULT 0,
		folders          INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		error            TEXT NOT NULL DEFAULT '',
		started_at       BIGINT NOT NULL,
		finished_at      BIGINT NOT NULL,
		pruned_at        BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backup_runs_started ON backup_runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_backup_runs_path ON backup_runs(path)`,
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}
	if version < CurrentSchemaVersion {
		if _, err := s.db.Exec(s.rebind(`INSERT INTO schema_version (version) VALUES (?)`), CurrentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}

// schemaVersion returns 0 for a database that has never been stamped.
func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
