package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with runs and per-device metrics",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add fingerprints table for enrollment comparison",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
-- One row per analysis run
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    created_at      INTEGER NOT NULL,
    data_dir        TEXT NOT NULL,
    bit_length      INTEGER NOT NULL,
    device_count    INTEGER NOT NULL,
    algorithm       TEXT NOT NULL,
    inter_hd_mean   REAL,
    error_count     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

-- Headline metrics of every device in a run
CREATE TABLE IF NOT EXISTS device_metrics (
    run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    device_id       TEXT NOT NULL,
    samples         INTEGER NOT NULL,
    skipped_lines   INTEGER NOT NULL,
    hw_mean         REAL,
    intra_hd_mean   REAL,
    flip_mean       REAL,
    masked_bits     INTEGER NOT NULL,
    PRIMARY KEY (run_id, device_id)
);

CREATE INDEX IF NOT EXISTS idx_device_metrics_device ON device_metrics(device_id);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_device_metrics_device;
DROP TABLE IF EXISTS device_metrics;
DROP INDEX IF EXISTS idx_runs_created;
DROP TABLE IF EXISTS runs;
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS fingerprints (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    device_id       TEXT NOT NULL,
    algorithm       TEXT NOT NULL,
    digest          TEXT NOT NULL,
    reference_bits  INTEGER NOT NULL,
    masked          INTEGER NOT NULL,
    created_at      INTEGER NOT NULL,
    UNIQUE(run_id, device_id)
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_device ON fingerprints(device_id, algorithm, created_at);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_fingerprints_device;
DROP TABLE IF EXISTS fingerprints;
`

// LatestVersion is the schema version after all migrations.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// MigrateDB applies all pending migrations to the database.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	currentVersion, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(db *sql.DB) error {
	currentVersion, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == currentVersion {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(migration.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", currentVersion, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", currentVersion); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"runs", "device_metrics", "fingerprints", "schema_migrations"} {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}
