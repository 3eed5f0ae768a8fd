// Package quality computes the three scalar PUF quality metrics over
// SRAM samples: Hamming weight (randomness), intra-device Hamming distance
// (robustness) and inter-device Hamming distance (uniqueness).
//
// Pairwise metrics accumulate integer bit-difference counts, so the mean does
// not depend on the order in which pairs are evaluated or on how many
// workers evaluate them.
package quality

import (
	"errors"
	"fmt"
	"math"

	"sramprint/internal/bitvec"
)

var (
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrInsufficientDevices = errors.New("insufficient devices")
	ErrZeroLength          = errors.New("zero-length bit vector")
)

// Metric names used in errors and reports.
const (
	MetricHammingWeight = "hamming_weight"
	MetricIntraHD       = "intra_hd"
	MetricInterHD       = "inter_hd"
	MetricInterHDCross  = "inter_hd_cross"
)

// Error identifies the metric and device a computation failed for.
type Error struct {
	Metric string
	Device string
	Err    error
}

func (e *Error) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Metric, e.Err)
	}
	return fmt.Sprintf("%s for device %s: %v", e.Metric, e.Device, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Distribution summarizes a list of per-sample or per-pair values.
type Distribution struct {
	Values []float64 `json:"values,omitempty"`
	Mean   float64   `json:"mean"`
	Std    float64   `json:"std"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
}

// Summarize computes mean, population standard deviation, min and max. It
// returns the zero Distribution for an empty list; callers guard against
// that before getting here.
func Summarize(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	d := Distribution{Values: values, Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		d.Min = math.Min(d.Min, v)
		d.Max = math.Max(d.Max, v)
	}
	d.Mean = sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - d.Mean) * (v - d.Mean)
	}
	d.Std = math.Sqrt(sq / float64(len(values)))
	return d
}

// HammingWeight returns the fraction of 1-bits in v.
func HammingWeight(v bitvec.Vector) (float64, error) {
	if v.Len() == 0 {
		return 0, ErrZeroLength
	}
	return float64(v.Ones()) / float64(v.Len()), nil
}

// HammingDistance returns the normalized Hamming distance between a and b.
func HammingDistance(a, b bitvec.Vector) (float64, error) {
	d, err := bitvec.Distance(a, b)
	if err != nil {
		return 0, err
	}
	if a.Len() == 0 {
		return 0, ErrZeroLength
	}
	return float64(d) / float64(a.Len()), nil
}

// DeviceSamples names one device's samples for cross-device metrics.
type DeviceSamples struct {
	ID      string
	Samples []bitvec.Vector
}
