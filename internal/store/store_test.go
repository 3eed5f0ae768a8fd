package store

import (
	"path/filepath"
	"testing"
	"time"

	"sramprint/internal/quality"
	"sramprint/internal/report"
	"sramprint/internal/stability"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testReport(runID string, at time.Time, digestA string) *report.Report {
	return &report.Report{
		RunID:     runID,
		CreatedAt: at,
		DataDir:   "/captures",
		BitLength: 8,
		Algorithm: "sha256",
		InterHD:   &quality.Distribution{Mean: 0.5},
		Devices: []report.Device{
			{
				ID:            "A",
				Samples:       3,
				SkippedLines:  1,
				HammingWeight: &quality.Distribution{Mean: 0.5},
				IntraHD:       &quality.Distribution{Mean: 0.0833},
				Flips:         &stability.FlipSummary{Mean: 0.04},
				MaskedBits:    2,
				Fingerprint: &report.FingerprintResult{
					Algorithm: "sha256", Digest: digestA, ReferenceBits: 6, Masked: 2,
				},
			},
			{
				// Single sample: no Intra-HD, no flips.
				ID:            "B",
				Samples:       1,
				HammingWeight: &quality.Distribution{Mean: 0.25},
			},
		},
		Errors: []report.MetricError{{Metric: "intra_hd", Device: "B", Message: "insufficient samples"}},
	}
}

func TestOpenMigrates(t *testing.T) {
	s := openTestStore(t)
	if err := ValidateSchema(s.db); err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	v, err := schemaVersion(s.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != LatestVersion() {
		t.Errorf("schema version = %d, want %d", v, LatestVersion())
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("second MigrateDB: %v", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(migrations) {
		t.Errorf("recorded %d migrations, want %d", n, len(migrations))
	}
}

func TestRollbackMigration(t *testing.T) {
	s := openTestStore(t)
	if err := RollbackMigration(s.db); err != nil {
		t.Fatalf("RollbackMigration: %v", err)
	}
	if err := ValidateSchema(s.db); err == nil {
		t.Error("fingerprints table should be gone after rollback")
	}
	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if err := ValidateSchema(s.db); err != nil {
		t.Errorf("schema after re-migrate: %v", err)
	}
}

func TestSaveRunAndQuery(t *testing.T) {
	s := openTestStore(t)
	t0 := time.Unix(1700000000, 0)

	if err := s.SaveRun(testReport("run-1", t0, "aa")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(testReport("run-2", t0.Add(time.Hour), "bb")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs, err := s.Runs(0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("newest run first, got %s", runs[0].ID)
	}
	if runs[0].Devices != 2 || runs[0].Errors != 1 || runs[0].BitLength != 8 {
		t.Errorf("run row: %+v", runs[0])
	}
	if runs[0].InterHDMean == nil || *runs[0].InterHDMean != 0.5 {
		t.Errorf("inter-HD mean = %v", runs[0].InterHDMean)
	}

	limited, err := s.Runs(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d rows", len(limited))
	}
}

func TestSaveRunDuplicate(t *testing.T) {
	s := openTestStore(t)
	r := testReport("run-1", time.Now(), "aa")
	if err := s.SaveRun(r); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(r); err == nil {
		t.Error("duplicate run id should fail")
	}
	runs, _ := s.Runs(0)
	if len(runs) != 1 {
		t.Errorf("failed save left %d runs", len(runs))
	}
}

func TestSaveRunEmptyID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRun(&report.Report{}); err == nil {
		t.Error("expected error for empty run id")
	}
}

func TestDeviceHistory(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRun(testReport("run-1", time.Unix(1700000000, 0), "aa")); err != nil {
		t.Fatal(err)
	}

	hist, err := s.DeviceHistory("B")
	if err != nil {
		t.Fatalf("DeviceHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 row, got %d", len(hist))
	}
	b := hist[0]
	if b.IntraHDMean != nil || b.FlipMean != nil {
		t.Errorf("single-sample device should have null Intra-HD and flips: %+v", b)
	}
	if b.HWMean == nil || *b.HWMean != 0.25 {
		t.Errorf("hw mean = %v", b.HWMean)
	}
}

func TestLatestFingerprint(t *testing.T) {
	s := openTestStore(t)
	t0 := time.Unix(1700000000, 0)

	rec, err := s.LatestFingerprint("A", "sha256")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("expected nil before any run, got %+v", rec)
	}

	s.SaveRun(testReport("run-1", t0, "aa"))
	s.SaveRun(testReport("run-2", t0.Add(time.Minute), "bb"))

	rec, err = s.LatestFingerprint("A", "sha256")
	if err != nil {
		t.Fatalf("LatestFingerprint: %v", err)
	}
	if rec == nil || rec.Digest != "bb" || rec.RunID != "run-2" {
		t.Errorf("latest fingerprint = %+v", rec)
	}
	if rec.ReferenceBits != 6 || rec.Masked != 2 {
		t.Errorf("bit counts = %d/%d", rec.ReferenceBits, rec.Masked)
	}

	other, err := s.LatestFingerprint("A", "sha3-256")
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Errorf("algorithm filter ignored: %+v", other)
	}

	none, _ := s.LatestFingerprint("B", "sha256")
	if none != nil {
		t.Errorf("device without fingerprint returned %+v", none)
	}
}

func TestFingerprintHistory(t *testing.T) {
	s := openTestStore(t)
	t0 := time.Unix(1700000000, 0)
	for i, d := range []string{"aa", "bb", "cc"} {
		if err := s.SaveRun(testReport("run-"+d, t0.Add(time.Duration(i)*time.Minute), d)); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.FingerprintHistory("A")
	if err != nil {
		t.Fatalf("FingerprintHistory: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 records, got %d", len(hist))
	}
	if hist[0].Digest != "cc" || hist[2].Digest != "aa" {
		t.Errorf("order: %s .. %s", hist[0].Digest, hist[2].Digest)
	}
	if !hist[0].CreatedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("created_at = %v", hist[0].CreatedAt)
	}
}
