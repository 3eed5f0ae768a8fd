package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("SRAMPRINT_HOME", "/tmp/sramprint-home")
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Analysis.RepresentativeIndex != 0 {
		t.Errorf("expected representative index 0, got %d", cfg.Analysis.RepresentativeIndex)
	}
	if cfg.Analysis.FlipThreshold != nil {
		t.Errorf("flip threshold should be unset by default, got %v", *cfg.Analysis.FlipThreshold)
	}
	if cfg.Fingerprint.Algorithm != "sha256" {
		t.Errorf("expected sha256, got %s", cfg.Fingerprint.Algorithm)
	}
	if !strings.HasPrefix(cfg.Storage.Path, "/tmp/sramprint-home") {
		t.Errorf("storage path should live under SRAMPRINT_HOME: %s", cfg.Storage.Path)
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.DataDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Version != Version {
		t.Errorf("expected defaults, got version %d", cfg.Version)
	}
}

func TestLoadFormats(t *testing.T) {
	files := map[string]string{
		"cfg.toml": `
[capture]
data_dir = "/captures"
region_bytes = 2048

[analysis]
flip_threshold = 0.1
debias = ["pairs", "bias_mask"]
`,
		"cfg.yaml": `
capture:
  data_dir: /captures
  region_bytes: 2048
analysis:
  flip_threshold: 0.1
  debias: [pairs, bias_mask]
`,
		"cfg.json": `{"capture": {"data_dir": "/captures", "region_bytes": 2048},
 "analysis": {"flip_threshold": 0.1, "debias": ["pairs", "bias_mask"]}}`,
		"cfg.conf": `
[capture]
data_dir = "/captures"
region_bytes = 2048

[analysis]
flip_threshold = 0.1
debias = ["pairs", "bias_mask"]
`,
	}

	dir := t.TempDir()
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Capture.DataDir != "/captures" || cfg.Capture.RegionBytes != 2048 {
				t.Errorf("capture section: %+v", cfg.Capture)
			}
			if cfg.Analysis.FlipThreshold == nil || *cfg.Analysis.FlipThreshold != 0.1 {
				t.Errorf("flip threshold not loaded: %v", cfg.Analysis.FlipThreshold)
			}
			if len(cfg.Analysis.Debias) != 2 {
				t.Errorf("debias methods: %v", cfg.Analysis.Debias)
			}
			// Untouched sections keep their defaults.
			if cfg.Fingerprint.Algorithm != "sha256" {
				t.Errorf("fingerprint default lost: %s", cfg.Fingerprint.Algorithm)
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[capture\ndata_dir ="), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SRAMPRINT_DATA_DIR", "/env/data")
	t.Setenv("SRAMPRINT_REGION_BYTES", "512")
	t.Setenv("SRAMPRINT_FLIP_THRESHOLD", "0.2")
	t.Setenv("SRAMPRINT_LOG_LEVEL", "debug")
	t.Setenv("SRAMPRINT_WORKERS", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Capture.DataDir != "/env/data" {
		t.Errorf("data dir = %s", cfg.Capture.DataDir)
	}
	if cfg.Capture.RegionBytes != 512 {
		t.Errorf("region bytes = %d", cfg.Capture.RegionBytes)
	}
	if cfg.Analysis.FlipThreshold == nil || *cfg.Analysis.FlipThreshold != 0.2 {
		t.Errorf("flip threshold = %v", cfg.Analysis.FlipThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if cfg.Analysis.Workers != 0 {
		t.Errorf("bad worker env should be ignored, got %d", cfg.Analysis.Workers)
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.DataDir = t.TempDir()
	cfg.Analysis.RepresentativeIndex = -1
	cfg.Analysis.FlipThreshold = Float(0.7)
	cfg.Analysis.Debias = []string{"pairs", "von_neumann"}
	cfg.Fingerprint.Algorithm = "md5"
	cfg.Report.Formats = []string{"pdf"}
	cfg.Publish.Enabled = true
	cfg.Publish.Broker = "http://broker"
	cfg.Publish.QoS = 3
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("errors.Is(err, ErrInvalidConfig) = false for %v", err)
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	for _, field := range []string{
		"analysis.representative_index",
		"analysis.flip_threshold",
		"analysis.debias",
		"fingerprint.algorithm",
		"report.formats",
		"publish.broker",
		"publish.qos",
		"logging.level",
	} {
		if !verrs.Has(field) {
			t.Errorf("missing error for %s in %v", field, verrs)
		}
	}
}

func TestValidateUseMaskNeedsThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.DataDir = t.TempDir()
	cfg.Fingerprint.UseMask = true
	if err := cfg.Validate(); err == nil {
		t.Error("use_mask without flip_threshold should fail")
	}
	cfg.Analysis.FlipThreshold = Float(0.1)
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMissingDataDirIsWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.DataDir = filepath.Join(t.TempDir(), "not-yet")
	if err := cfg.Validate(); err != nil {
		t.Errorf("missing data dir should only warn: %v", err)
	}
	if w := Check(cfg).Warnings(); len(w) != 1 {
		t.Errorf("expected 1 warning, got %v", w)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Capture.RegionBytes = 4096
			cfg.Analysis.NoisyThreshold = Float(0.1)
			cfg.Publish.TopicPrefix = "lab/sram"

			path := filepath.Join(dir, "nested", "config"+ext)
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("mode = %v", info.Mode().Perm())
			}

			loaded, err := loadConfigFromFile(path)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if loaded.Capture.RegionBytes != 4096 {
				t.Errorf("region bytes = %d", loaded.Capture.RegionBytes)
			}
			if loaded.Analysis.NoisyThreshold == nil || *loaded.Analysis.NoisyThreshold != 0.1 {
				t.Errorf("noisy threshold = %v", loaded.Analysis.NoisyThreshold)
			}
			if loaded.Analysis.FlipThreshold != nil {
				t.Errorf("unset flip threshold came back as %v", *loaded.Analysis.FlipThreshold)
			}
			if loaded.Publish.TopicPrefix != "lab/sram" {
				t.Errorf("topic prefix = %s", loaded.Publish.TopicPrefix)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	_, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected config file to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file missing: %v", err)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analysis.FlipThreshold = Float(0.1)
	clone := cfg.Clone()
	*clone.Analysis.FlipThreshold = 0.3
	clone.Report.Formats[0] = "csv"

	if *cfg.Analysis.FlipThreshold != 0.1 {
		t.Error("clone shares flip threshold")
	}
	if cfg.Report.Formats[0] != "text" {
		t.Error("clone shares report formats")
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"
	lc, err := cfg.LoggerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if lc.Level.String() != "WARN" {
		t.Errorf("level = %v", lc.Level)
	}
	if lc.MaxSize != 20 {
		t.Errorf("max size = %d", lc.MaxSize)
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	write := func(region int) {
		cfg := DefaultConfig()
		cfg.Capture.DataDir = dir
		cfg.Capture.RegionBytes = region
		if err := SaveConfig(cfg, path); err != nil {
			t.Fatal(err)
		}
	}
	write(1024)

	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer l.Close()

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	write(2048)
	select {
	case c := <-changed:
		if c.Capture.RegionBytes != 2048 {
			t.Errorf("reloaded region bytes = %d", c.Capture.RegionBytes)
		}
		if l.Config().Capture.RegionBytes != 2048 {
			t.Errorf("loader still holds %d", l.Config().Capture.RegionBytes)
		}
	case err := <-l.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}
