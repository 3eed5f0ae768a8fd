// Package store keeps the history of analysis runs and device fingerprints
// in SQLite so later runs can tell whether a device still answers with the
// same identity.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sramprint/internal/quality"
	"sramprint/internal/report"
)

// Store represents the SQLite run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun stores a run, its device metrics and its fingerprints in a single
// transaction.
func (s *Store) SaveRun(r *report.Report) error {
	if r.RunID == "" {
		return errors.New("save run: empty run id")
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, created_at, data_dir, bit_length, device_count, algorithm, inter_hd_mean, error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, created.UnixNano(), r.DataDir, r.BitLength, len(r.Devices), r.Algorithm,
		mean(r.InterHD), len(r.Errors),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	metricsStmt, err := tx.Prepare(`
		INSERT INTO device_metrics (run_id, device_id, samples, skipped_lines, hw_mean, intra_hd_mean, flip_mean, masked_bits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer metricsStmt.Close()

	fpStmt, err := tx.Prepare(`
		INSERT INTO fingerprints (run_id, device_id, algorithm, digest, reference_bits, masked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer fpStmt.Close()

	for _, d := range r.Devices {
		var flipMean sql.NullFloat64
		if d.Flips != nil {
			flipMean = sql.NullFloat64{Float64: d.Flips.Mean, Valid: true}
		}
		if _, err := metricsStmt.Exec(
			r.RunID, d.ID, d.Samples, d.SkippedLines,
			mean(d.HammingWeight), mean(d.IntraHD), flipMean, d.MaskedBits,
		); err != nil {
			return fmt.Errorf("insert metrics for %s: %w", d.ID, err)
		}

		if fp := d.Fingerprint; fp != nil {
			if _, err := fpStmt.Exec(
				r.RunID, d.ID, fp.Algorithm, fp.Digest, fp.ReferenceBits, fp.Masked, created.UnixNano(),
			); err != nil {
				return fmt.Errorf("insert fingerprint for %s: %w", d.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, data_dir, bit_length, device_count, algorithm, inter_hd_mean, error_count
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			created int64
			inter   sql.NullFloat64
		)
		if err := rows.Scan(&run.ID, &created, &run.DataDir, &run.BitLength, &run.Devices,
			&run.Algorithm, &inter, &run.Errors); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.CreatedAt = time.Unix(0, created)
		run.InterHDMean = nullable(inter)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeviceHistory returns a device's metrics across runs, newest first.
func (s *Store) DeviceHistory(deviceID string) ([]DeviceMetrics, error) {
	rows, err := s.db.Query(`
		SELECT m.run_id, m.device_id, m.samples, m.skipped_lines, m.hw_mean, m.intra_hd_mean, m.flip_mean, m.masked_bits
		FROM device_metrics m JOIN runs r ON r.id = m.run_id
		WHERE m.device_id = ?
		ORDER BY r.created_at DESC, r.rowid DESC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query device history: %w", err)
	}
	defer rows.Close()

	var out []DeviceMetrics
	for rows.Next() {
		var (
			m               DeviceMetrics
			hw, intra, flip sql.NullFloat64
		)
		if err := rows.Scan(&m.RunID, &m.DeviceID, &m.Samples, &m.SkippedLines,
			&hw, &intra, &flip, &m.MaskedBits); err != nil {
			return nil, fmt.Errorf("scan device metrics: %w", err)
		}
		m.HWMean = nullable(hw)
		m.IntraHDMean = nullable(intra)
		m.FlipMean = nullable(flip)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestFingerprint returns the newest stored fingerprint of a device
// under the given algorithm, or nil if none exists.
func (s *Store) LatestFingerprint(deviceID, algorithm string) (*FingerprintRecord, error) {
	var (
		rec     FingerprintRecord
		created int64
	)
	err := s.db.QueryRow(`
		SELECT run_id, device_id, algorithm, digest, reference_bits, masked, created_at
		FROM fingerprints WHERE device_id = ? AND algorithm = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, deviceID, algorithm,
	).Scan(&rec.RunID, &rec.DeviceID, &rec.Algorithm, &rec.Digest, &rec.ReferenceBits, &rec.Masked, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest fingerprint: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created)
	return &rec, nil
}

// FingerprintHistory returns every stored fingerprint of a device, newest first.
func (s *Store) FingerprintHistory(deviceID string) ([]FingerprintRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, device_id, algorithm, digest, reference_bits, masked, created_at
		FROM fingerprints WHERE device_id = ?
		ORDER BY created_at DESC, id DESC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var out []FingerprintRecord
	for rows.Next() {
		var (
			rec     FingerprintRecord
			created int64
		)
		if err := rows.Scan(&rec.RunID, &rec.DeviceID, &rec.Algorithm, &rec.Digest,
			&rec.ReferenceBits, &rec.Masked, &created); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		rec.CreatedAt = time.Unix(0, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func mean(d *quality.Distribution) sql.NullFloat64 {
	if d == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: d.Mean, Valid: true}
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
