// Package report renders the results of an analysis run as text, as JSON
// checked against an embedded JSON Schema, and as per-position CSV tables.
package report

import (
	"time"

	"sramprint/internal/quality"
	"sramprint/internal/stability"
)

// SchemaVersion is stamped into every JSON report.
const SchemaVersion = 1

// Report is the complete result of one analysis run.
type Report struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	DataDir       string    `json:"data_dir"`
	BitLength     int       `json:"bit_length"`
	Algorithm     string    `json:"algorithm"`
	// RepresentativeIndex is the sample index used for Inter-HD.
	RepresentativeIndex int `json:"representative_index"`

	Devices []Device `json:"devices"`

	InterHD       *quality.Distribution     `json:"inter_hd,omitempty"`
	InterHDCross  *quality.Distribution     `json:"inter_hd_cross,omitempty"`
	PooledBalance *stability.BalanceSummary `json:"pooled_balance,omitempty"`

	Debias               []DebiasResult `json:"debias,omitempty"`
	FingerprintDistances []PairDistance `json:"fingerprint_distances,omitempty"`

	// Errors lists metrics that could not be computed. The rest of the
	// report is still valid.
	Errors []MetricError `json:"errors,omitempty"`
}

// Device holds every per-device result.
type Device struct {
	ID           string `json:"id"`
	Samples      int    `json:"samples"`
	SkippedLines int    `json:"skipped_lines"`
	EmptyFiles   int    `json:"empty_files"`
	Rejected     int    `json:"rejected_samples"`

	HammingWeight *quality.Distribution     `json:"hamming_weight,omitempty"`
	IntraHD       *quality.Distribution     `json:"intra_hd,omitempty"`
	Balance       *stability.BalanceSummary `json:"balance,omitempty"`
	Flips         *stability.FlipSummary    `json:"flips,omitempty"`
	MaskedBits    int                       `json:"masked_bits"`

	Noisy       *NoisyResult       `json:"noisy,omitempty"`
	Fingerprint *FingerprintResult `json:"fingerprint,omitempty"`

	// Positions feeds the CSV export and is left out of JSON.
	Positions []Position `json:"-"`
}

// Position is one row of the per-position table.
type Position struct {
	Index   int
	OneRate float64
	// FlipRate is nil when the device has fewer than 2 samples.
	FlipRate *float64
	Majority uint8
	Unstable bool
}

// NoisyResult re-measures a device over its noisy positions only.
type NoisyResult struct {
	Threshold     float64               `json:"threshold"`
	Positions     int                   `json:"positions"`
	HammingWeight *quality.Distribution `json:"hamming_weight,omitempty"`
	IntraHD       *quality.Distribution `json:"intra_hd,omitempty"`
}

// FingerprintResult is a device identity.
type FingerprintResult struct {
	Algorithm     string `json:"algorithm"`
	Digest        string `json:"digest"`
	ReferenceBits int    `json:"reference_bits"`
	Masked        int    `json:"masked"`
	HexDump       string `json:"hex_dump,omitempty"`
	// PreviousDigest is the last stored digest for the device, if any.
	PreviousDigest string `json:"previous_digest,omitempty"`
	// Matches compares against PreviousDigest; nil when there is none.
	Matches *bool `json:"matches,omitempty"`
}

// DebiasResult re-measures the dataset after one debiasing method.
type DebiasResult struct {
	Method    string                `json:"method"`
	BitLength int                   `json:"bit_length"`
	Devices   []DebiasDevice        `json:"devices"`
	InterHD   *quality.Distribution `json:"inter_hd,omitempty"`
}

// DebiasDevice is one device's metrics after debiasing.
type DebiasDevice struct {
	ID            string                `json:"id"`
	HammingWeight *quality.Distribution `json:"hamming_weight,omitempty"`
	IntraHD       *quality.Distribution `json:"intra_hd,omitempty"`
	// MaskFlips is the number of positions a bias mask flips.
	MaskFlips int `json:"mask_flips,omitempty"`
}

// PairDistance is the normalized Hamming distance between two devices'
// reference bitstrings.
type PairDistance struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	Distance float64 `json:"distance"`
}

// MetricError records a metric that failed for a device (or the dataset).
type MetricError struct {
	Metric  string `json:"metric"`
	Device  string `json:"device,omitempty"`
	Message string `json:"message"`
}

// Device returns the named device's results.
func (r *Report) Device(id string) (*Device, bool) {
	for i := range r.Devices {
		if r.Devices[i].ID == id {
			return &r.Devices[i], true
		}
	}
	return nil, false
}
