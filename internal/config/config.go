// Package config handles configuration loading, validation, and management for sramprint.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"sramprint/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete analysis configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Capture configuration for reading SRAM dumps.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Analysis configuration for the metric and stability passes.
	Analysis AnalysisConfig `toml:"analysis" json:"analysis" yaml:"analysis"`

	// Fingerprint configuration.
	Fingerprint FingerprintConfig `toml:"fingerprint" json:"fingerprint" yaml:"fingerprint"`

	// Report output configuration.
	Report ReportConfig `toml:"report" json:"report" yaml:"report"`

	// Storage configuration for run history.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Publish configuration for the MQTT fingerprint feed.
	Publish PublishConfig `toml:"publish" json:"publish" yaml:"publish"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Watch configuration for continuous re-analysis.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`
}

// CaptureConfig describes where dumps live and how they are sized.
type CaptureConfig struct {
	// DataDir holds one sub-directory of dump files per device.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// RegionBytes is the expected dump size. 0 accepts whatever the
	// first loaded sample has.
	RegionBytes int `toml:"region_bytes" json:"region_bytes" yaml:"region_bytes"`

	// SkipMismatched drops samples of the wrong length with a warning
	// instead of failing the run.
	SkipMismatched bool `toml:"skip_mismatched" json:"skip_mismatched" yaml:"skip_mismatched"`
}

// AnalysisConfig tunes the metric and stability passes.
type AnalysisConfig struct {
	// RepresentativeIndex selects the sample of each device used for Inter-HD.
	RepresentativeIndex int `toml:"representative_index" json:"representative_index" yaml:"representative_index"`

	// Workers bounds pairwise-distance parallelism. 0 uses GOMAXPROCS.
	Workers int `toml:"workers" json:"workers" yaml:"workers"`

	// CrossInterHD also computes Inter-HD over every cross-device sample pair.
	CrossInterHD bool `toml:"cross_inter_hd" json:"cross_inter_hd" yaml:"cross_inter_hd"`

	// FlipThreshold marks positions unstable when their flip rate exceeds it.
	// Unset means no unstable mask is built.
	FlipThreshold *float64 `toml:"flip_threshold,omitempty" json:"flip_threshold,omitempty" yaml:"flip_threshold,omitempty"`

	// NoisyThreshold enables noisy-bit projection over (t, 1-t). Unset disables it.
	NoisyThreshold *float64 `toml:"noisy_threshold,omitempty" json:"noisy_threshold,omitempty" yaml:"noisy_threshold,omitempty"`

	// BalancedLow and BalancedHigh bound the balanced 1-rate band.
	BalancedLow  float64 `toml:"balanced_low" json:"balanced_low" yaml:"balanced_low"`
	BalancedHigh float64 `toml:"balanced_high" json:"balanced_high" yaml:"balanced_high"`

	// Debias lists the debiasing passes to run: "pairs", "bias_mask".
	Debias []string `toml:"debias" json:"debias" yaml:"debias"`

	// BiasMaskSeed seeds the bias-mask position selection.
	BiasMaskSeed uint64 `toml:"bias_mask_seed" json:"bias_mask_seed" yaml:"bias_mask_seed"`

	// StableZeroRate is the 1-rate below which a position counts as a stable zero.
	StableZeroRate float64 `toml:"stable_zero_rate" json:"stable_zero_rate" yaml:"stable_zero_rate"`
}

// FingerprintConfig controls identity derivation.
type FingerprintConfig struct {
	// Algorithm is the digest: "sha256", "sha3-256" or "blake2b-256".
	Algorithm string `toml:"algorithm" json:"algorithm" yaml:"algorithm"`

	// UseMask excludes unstable positions (needs analysis.flip_threshold).
	UseMask bool `toml:"use_mask" json:"use_mask" yaml:"use_mask"`

	// HexDumpBytes is how much of the reference to render in reports.
	HexDumpBytes int `toml:"hex_dump_bytes" json:"hex_dump_bytes" yaml:"hex_dump_bytes"`
}

// ReportConfig holds report output configuration.
type ReportConfig struct {
	// OutputDir receives report files. Empty writes text to stdout only.
	OutputDir string `toml:"output_dir" json:"output_dir" yaml:"output_dir"`

	// Formats lists the report renderings: "text", "json", "csv".
	Formats []string `toml:"formats" json:"formats" yaml:"formats"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Enabled records every run in the history database.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// PublishConfig holds MQTT publication configuration.
type PublishConfig struct {
	Enabled     bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Broker      string `toml:"broker" json:"broker" yaml:"broker"`
	ClientID    string `toml:"client_id" json:"client_id" yaml:"client_id"`
	Username    string `toml:"username" json:"username" yaml:"username"`
	Password    string `toml:"password" json:"password" yaml:"password"`
	TopicPrefix string `toml:"topic_prefix" json:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `toml:"qos" json:"qos" yaml:"qos"`
	Retain      bool   `toml:"retain" json:"retain" yaml:"retain"`
	TimeoutSec  int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// WatchConfig holds capture-directory watching configuration.
type WatchConfig struct {
	// DebounceMs is how long the capture tree must be quiet before re-analysis.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := SramprintDir()
	return &Config{
		Version: Version,
		Capture: CaptureConfig{
			DataDir: "data",
		},
		Analysis: AnalysisConfig{
			RepresentativeIndex: 0,
			BalancedLow:         0.4,
			BalancedHigh:        0.6,
			Debias:              []string{"pairs"},
			BiasMaskSeed:        1,
			StableZeroRate:      0.05,
		},
		Fingerprint: FingerprintConfig{
			Algorithm:    "sha256",
			HexDumpBytes: 64,
		},
		Report: ReportConfig{
			Formats: []string{"text"},
		},
		Storage: StorageConfig{
			Enabled: false,
			Path:    filepath.Join(dir, "history.db"),
		},
		Publish: PublishConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "sramprint",
			TopicPrefix: "sramprint/fingerprints",
			QoS:         1,
			TimeoutSec:  5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "sramprint.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		Watch: WatchConfig{
			DebounceMs: 500,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(SramprintDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// SramprintDir returns the base sramprint directory.
// SRAMPRINT_HOME overrides the platform default.
func SramprintDir() string {
	if envDir := os.Getenv("SRAMPRINT_HOME"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with SRAMPRINT_. Unparseable numeric
// values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SRAMPRINT_DATA_DIR"); v != "" {
		c.Capture.DataDir = v
	}
	if v := os.Getenv("SRAMPRINT_REGION_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capture.RegionBytes = n
		}
	}
	if v := os.Getenv("SRAMPRINT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analysis.Workers = n
		}
	}
	if v := os.Getenv("SRAMPRINT_FLIP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Analysis.FlipThreshold = &f
		}
	}
	if v := os.Getenv("SRAMPRINT_HASH"); v != "" {
		c.Fingerprint.Algorithm = v
	}
	if v := os.Getenv("SRAMPRINT_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SRAMPRINT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SRAMPRINT_MQTT_BROKER"); v != "" {
		c.Publish.Broker = v
	}
	// Broker credentials from env only, so they stay out of config files.
	if v := os.Getenv("SRAMPRINT_MQTT_PASSWORD"); v != "" {
		c.Publish.Password = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Analysis.Debias = append([]string{}, c.Analysis.Debias...)
	clone.Report.Formats = append([]string{}, c.Report.Formats...)
	if c.Analysis.FlipThreshold != nil {
		v := *c.Analysis.FlipThreshold
		clone.Analysis.FlipThreshold = &v
	}
	if c.Analysis.NoisyThreshold != nil {
		v := *c.Analysis.NoisyThreshold
		clone.Analysis.NoisyThreshold = &v
	}
	return &clone
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	return lc, nil
}

// EnsureDirectories creates the directories the configured outputs need.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Report.OutputDir != "" {
		dirs = append(dirs, c.Report.OutputDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Float returns a pointer to v, for the optional thresholds.
func Float(v float64) *float64 {
	return &v
}
