package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"

	"sramprint/internal/debias"
	"sramprint/internal/fingerprint"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrInvalidConfig) hold for any ValidationErrors.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Has reports whether any error concerns field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	// The capture tree may not exist until the first dump lands.
	return e.Field == "capture.data_dir"
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// ValidateConfig performs comprehensive validation of the configuration.
// Warnings alone do not fail validation; use Check to see them too.
func ValidateConfig(c *Config) error {
	if errs := Check(c).Errors(); len(errs) > 0 {
		return errs
	}
	return nil
}

// Check returns every validation issue, warnings included.
func Check(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateAnalysis(&c.Analysis)...)
	errs = append(errs, validateFingerprint(&c.Fingerprint, &c.Analysis)...)
	errs = append(errs, validateReport(&c.Report)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validatePublish(&c.Publish)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if c.Watch.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "watch.debounce_ms",
			Message: "debounce cannot be negative",
		})
	}
	return errs
}

func validateCapture(cc *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	if cc.DataDir == "" {
		errs = append(errs, *RequiredFieldError("capture.data_dir"))
	} else if info, err := os.Stat(cc.DataDir); err != nil || !info.IsDir() {
		errs = append(errs, ValidationError{
			Field:   "capture.data_dir",
			Message: fmt.Sprintf("%s is not a directory", cc.DataDir),
		})
	}

	if cc.RegionBytes < 0 {
		errs = append(errs, ValidationError{
			Field:   "capture.region_bytes",
			Message: "region size cannot be negative",
		})
	}
	return errs
}

func validateAnalysis(a *AnalysisConfig) ValidationErrors {
	var errs ValidationErrors

	if a.RepresentativeIndex < 0 {
		errs = append(errs, ValidationError{
			Field:   "analysis.representative_index",
			Message: "representative index cannot be negative",
		})
	}
	if a.Workers < 0 {
		errs = append(errs, ValidationError{
			Field:   "analysis.workers",
			Message: "worker count cannot be negative",
		})
	}
	if a.FlipThreshold != nil && !inRange(*a.FlipThreshold, 0, 0.5) {
		errs = append(errs, *RangeError("analysis.flip_threshold", 0, 0.5))
	}
	if a.NoisyThreshold != nil && (!inRange(*a.NoisyThreshold, 0, 0.5) || *a.NoisyThreshold == 0.5) {
		errs = append(errs, ValidationError{
			Field:   "analysis.noisy_threshold",
			Message: "value must be in [0, 0.5)",
		})
	}
	if !inRange(a.BalancedLow, 0, 1) || !inRange(a.BalancedHigh, 0, 1) || a.BalancedLow >= a.BalancedHigh {
		errs = append(errs, ValidationError{
			Field:   "analysis.balanced_low",
			Message: fmt.Sprintf("balanced band (%v, %v) must satisfy 0 <= low < high <= 1", a.BalancedLow, a.BalancedHigh),
		})
	}
	for _, m := range a.Debias {
		switch m {
		case debias.MethodPairs, debias.MethodBiasMask:
		default:
			errs = append(errs, ValidationError{
				Field:   "analysis.debias",
				Message: fmt.Sprintf("unknown method %q (valid: %s, %s)", m, debias.MethodPairs, debias.MethodBiasMask),
			})
		}
	}
	if a.StableZeroRate <= 0 || !inRange(a.StableZeroRate, 0, 1) {
		errs = append(errs, ValidationError{
			Field:   "analysis.stable_zero_rate",
			Message: "value must be in (0, 1]",
		})
	}
	return errs
}

func validateFingerprint(f *FingerprintConfig, a *AnalysisConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := fingerprint.ParseAlgorithm(f.Algorithm); err != nil {
		errs = append(errs, ValidationError{
			Field:   "fingerprint.algorithm",
			Message: err.Error(),
		})
	}
	if f.UseMask && a.FlipThreshold == nil {
		errs = append(errs, ValidationError{
			Field:   "fingerprint.use_mask",
			Message: "masking needs analysis.flip_threshold",
		})
	}
	if f.HexDumpBytes < 0 {
		errs = append(errs, ValidationError{
			Field:   "fingerprint.hex_dump_bytes",
			Message: "cannot be negative",
		})
	}
	return errs
}

func validateReport(r *ReportConfig) ValidationErrors {
	var errs ValidationErrors
	for _, f := range r.Formats {
		switch f {
		case "text", "json", "csv":
		default:
			errs = append(errs, ValidationError{
				Field:   "report.formats",
				Message: fmt.Sprintf("unknown format %q (valid: text, json, csv)", f),
			})
		}
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	if s.Enabled && s.Path == "" {
		return ValidationErrors{*RequiredFieldError("storage.path")}
	}
	return nil
}

func validatePublish(p *PublishConfig) ValidationErrors {
	if !p.Enabled {
		return nil
	}
	var errs ValidationErrors

	if !isValidBrokerURL(p.Broker) {
		errs = append(errs, ValidationError{
			Field:   "publish.broker",
			Message: fmt.Sprintf("invalid broker URL: %q (expected tcp://, ssl://, ws:// or wss://)", p.Broker),
		})
	}
	if p.TopicPrefix == "" {
		errs = append(errs, *RequiredFieldError("publish.topic_prefix"))
	} else if strings.ContainsAny(p.TopicPrefix, "+#") {
		errs = append(errs, ValidationError{
			Field:   "publish.topic_prefix",
			Message: "topic prefix cannot contain wildcards",
		})
	}
	if p.QoS < 0 || p.QoS > 2 {
		errs = append(errs, *RangeError("publish.qos", 0, 2))
	}
	if p.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "publish.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	return errs
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func isValidBrokerURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		return true
	}
	return false
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
