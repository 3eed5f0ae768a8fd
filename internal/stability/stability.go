// Package stability characterizes per-bit reliability of SRAM cells across
// repeated boots of a device: how often each position powers up as 1 (bit
// balance) and how often it disagrees with its own majority (flip rate).
//
// All per-bit arrays are indexed by bit position, 0..L-1.
package stability

import (
	"fmt"
	"math"

	"sramprint/internal/bitvec"
	"sramprint/internal/quality"
)

// Flip-rate buckets used in summaries.
const (
	VeryStableRate = 0.05
	StableRate     = 0.10
)

// BitBalance returns, per position, the fraction of samples holding a 1.
func BitBalance(samples []bitvec.Vector) ([]float64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: bit balance needs at least 1 sample", quality.ErrInsufficientSamples)
	}
	counts, err := bitvec.PositionCounts(samples)
	if err != nil {
		return nil, err
	}
	rates := make([]float64, len(counts))
	for p, c := range counts {
		rates[p] = float64(c) / float64(len(samples))
	}
	return rates, nil
}

// PooledBitBalance is BitBalance over the samples of every device together.
func PooledBitBalance(devices []quality.DeviceSamples) ([]float64, error) {
	var all []bitvec.Vector
	for _, d := range devices {
		all = append(all, d.Samples...)
	}
	return BitBalance(all)
}

// FlipRates returns, per position, the fraction of samples that disagree
// with the position's majority value. Ties on an even sample count resolve
// the majority to 0, which keeps every rate within [0, 0.5].
func FlipRates(samples []bitvec.Vector) ([]float64, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: flip rate needs at least 2 samples, have %d", quality.ErrInsufficientSamples, len(samples))
	}
	counts, err := bitvec.PositionCounts(samples)
	if err != nil {
		return nil, err
	}
	n := len(samples)
	rates := make([]float64, len(counts))
	for p, ones := range counts {
		flips := ones
		if bitvec.Majority(ones, n) == 1 {
			flips = n - ones
		}
		rates[p] = float64(flips) / float64(n)
	}
	return rates, nil
}

// MajorityBits returns the per-position majority vector of the samples.
func MajorityBits(samples []bitvec.Vector) (bitvec.Vector, error) {
	if len(samples) == 0 {
		return bitvec.Vector{}, fmt.Errorf("%w: majority needs at least 1 sample", quality.ErrInsufficientSamples)
	}
	counts, err := bitvec.PositionCounts(samples)
	if err != nil {
		return bitvec.Vector{}, err
	}
	out := make([]uint8, len(counts))
	for p, ones := range counts {
		out[p] = bitvec.Majority(ones, len(samples))
	}
	return bitvec.FromBits(out)
}

// BalanceOptions sets the band a position's 1-rate must fall strictly
// inside to count as balanced.
type BalanceOptions struct {
	Low  float64
	High float64
}

// BalanceSummary condenses a bit-balance array.
type BalanceSummary struct {
	GlobalOneRate float64 `json:"global_one_rate"`
	Mean          float64 `json:"mean"`
	Std           float64 `json:"std"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	AlwaysZero    int     `json:"always_zero"`
	AlwaysOne     int     `json:"always_one"`
	Balanced      int     `json:"balanced"`
	Positions     int     `json:"positions"`
}

// SummarizeBalance counts stuck and balanced positions. With equal sample
// counts per position the global 1-rate equals the mean per-bit rate.
func SummarizeBalance(rates []float64, opts BalanceOptions) BalanceSummary {
	d := quality.Summarize(rates)
	s := BalanceSummary{
		GlobalOneRate: d.Mean,
		Mean:          d.Mean,
		Std:           d.Std,
		Min:           d.Min,
		Max:           d.Max,
		Positions:     len(rates),
	}
	for _, r := range rates {
		switch {
		case r == 0:
			s.AlwaysZero++
		case r == 1:
			s.AlwaysOne++
		}
		if r > opts.Low && r < opts.High {
			s.Balanced++
		}
	}
	return s
}

// FlipSummary condenses a flip-rate array.
type FlipSummary struct {
	Mean            float64 `json:"mean"`
	Std             float64 `json:"std"`
	Max             float64 `json:"max"`
	PerfectlyStable int     `json:"perfectly_stable"`
	VeryStable      int     `json:"very_stable"`
	Stable          int     `json:"stable"`
	Unstable        int     `json:"unstable"`
	Positions       int     `json:"positions"`
}

// SummarizeFlips buckets positions by flip rate: exactly 0, below
// VeryStableRate, below StableRate, and the rest.
func SummarizeFlips(rates []float64) FlipSummary {
	d := quality.Summarize(rates)
	s := FlipSummary{Mean: d.Mean, Std: d.Std, Max: d.Max, Positions: len(rates)}
	for _, r := range rates {
		if r == 0 {
			s.PerfectlyStable++
		}
		if r < VeryStableRate {
			s.VeryStable++
		}
		if r < StableRate {
			s.Stable++
		} else {
			s.Unstable++
		}
	}
	return s
}

// NoisyPositions returns positions whose 1-rate lies strictly inside
// (t, 1-t): cells that do flip between boots and therefore carry the most
// entropy.
func NoisyPositions(samples []bitvec.Vector, t float64) ([]int, error) {
	rates, err := BitBalance(samples)
	if err != nil {
		return nil, err
	}
	var out []int
	for p, r := range rates {
		if r > t && r < 1-t {
			out = append(out, p)
		}
	}
	return out, nil
}

// Project keeps only the given positions of every sample.
func Project(samples []bitvec.Vector, positions []int) ([]bitvec.Vector, error) {
	out := make([]bitvec.Vector, len(samples))
	for i, s := range samples {
		v, err := s.Select(positions)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// validRate reports whether r is a usable probability threshold.
func validRate(r float64) bool {
	return !math.IsNaN(r) && r >= 0 && r <= 1
}
