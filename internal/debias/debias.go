// Package debias derives secondary bitstreams from SRAM samples that push
// Hamming weight and inter-device distance toward 0.5.
//
// Derived streams are new vectors; source samples are never modified. The
// outputs are plain bit vectors and go back through package quality like
// any other sample.
package debias

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"sramprint/internal/bitvec"
	"sramprint/internal/quality"
)

var ErrOddLength = errors.New("odd bit length")

// Method names accepted in configuration.
const (
	MethodPairs    = "pairs"
	MethodBiasMask = "bias_mask"
)

// XORPairs combines adjacent bits: output bit k is bit 2k XOR bit 2k+1. The
// result is half as long as v.
func XORPairs(v bitvec.Vector) (bitvec.Vector, error) {
	if v.Len()%2 != 0 {
		return bitvec.Vector{}, fmt.Errorf("%w: %d bits", ErrOddLength, v.Len())
	}
	out := make([]uint8, v.Len()/2)
	for k := range out {
		out[k] = v.Bit(2*k) ^ v.Bit(2*k+1)
	}
	return bitvec.FromBits(out)
}

// XORPairsAll applies XORPairs to every sample, keeping order.
func XORPairsAll(samples []bitvec.Vector) ([]bitvec.Vector, error) {
	out := make([]bitvec.Vector, len(samples))
	for i, s := range samples {
		d, err := XORPairs(s)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// BiasMaskOptions configures BuildBiasMask.
type BiasMaskOptions struct {
	// StableZeroRate is the 1-rate below which a position counts as a stable
	// zero and may be flipped.
	StableZeroRate float64
	// Seed makes the choice of flipped positions reproducible.
	Seed uint64
}

// BuildBiasMask returns a mask that, XORed into every sample of a device,
// moves its Hamming weight toward 0.5. It flips int((0.5-HW)*L) of the
// device's stable-zero positions, chosen by a seeded shuffle, or all of them
// if there are fewer. A device already at or above 0.5 gets an all-zero mask.
func BuildBiasMask(samples []bitvec.Vector, opts BiasMaskOptions) (bitvec.Vector, error) {
	if len(samples) == 0 {
		return bitvec.Vector{}, fmt.Errorf("%w: bias mask needs at least 1 sample", quality.ErrInsufficientSamples)
	}
	counts, err := bitvec.PositionCounts(samples)
	if err != nil {
		return bitvec.Vector{}, err
	}
	n := len(samples)
	bitLen := len(counts)

	ones := 0
	var stableZero []int
	for p, c := range counts {
		ones += c
		if float64(c)/float64(n) < opts.StableZeroRate {
			stableZero = append(stableZero, p)
		}
	}
	hw := float64(ones) / (float64(n) * float64(bitLen))

	flips := int((0.5 - hw) * float64(bitLen))
	if flips < 0 {
		flips = 0
	}
	if flips > len(stableZero) {
		flips = len(stableZero)
	}

	r := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	for i := 0; i < flips; i++ {
		j := i + r.IntN(len(stableZero)-i)
		stableZero[i], stableZero[j] = stableZero[j], stableZero[i]
	}

	mask := make([]uint8, bitLen)
	for _, p := range stableZero[:flips] {
		mask[p] = 1
	}
	return bitvec.FromBits(mask)
}

// ApplyMask XORs mask into every sample.
func ApplyMask(samples []bitvec.Vector, mask bitvec.Vector) ([]bitvec.Vector, error) {
	out := make([]bitvec.Vector, len(samples))
	for i, s := range samples {
		x, err := bitvec.Xor(s, mask)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}
