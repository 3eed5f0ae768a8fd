package debias

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sramprint/internal/bitvec"
	"sramprint/internal/quality"
)

func TestXORPairsHalvesLength(t *testing.T) {
	in := bitvec.MustParse("1100101001")
	out, err := XORPairs(in)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Len())
	assert.Equal(t, "00111", out.String())
}

func TestXORPairsIdenticalPairsGiveZeros(t *testing.T) {
	out, err := XORPairs(bitvec.MustParse("1100001111"))
	require.NoError(t, err)
	assert.Equal(t, "00000", out.String())
}

func TestXORPairsAlternatingGivesOnes(t *testing.T) {
	out, err := XORPairs(bitvec.MustParse(strings.Repeat("10", 12)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("1", 12), out.String())
}

func TestXORPairsOddLength(t *testing.T) {
	_, err := XORPairs(bitvec.MustParse("101"))
	assert.True(t, errors.Is(err, ErrOddLength))

	_, err = XORPairsAll([]bitvec.Vector{bitvec.MustParse("10"), bitvec.MustParse("101")})
	assert.True(t, errors.Is(err, ErrOddLength))
	assert.Contains(t, err.Error(), "sample 1")
}

func TestXORPairsDoesNotTouchSource(t *testing.T) {
	in := bitvec.MustParse("1011")
	_, err := XORPairs(in)
	require.NoError(t, err)
	assert.Equal(t, "1011", in.String())
}

func TestXORPairsImprovesBiasedWeight(t *testing.T) {
	// Mostly-zero cells: pairing a 1 with a 0 yields 1, pushing weight up.
	samples := []bitvec.Vector{
		bitvec.MustParse("1000100010001000"),
		bitvec.MustParse("1000100010000000"),
	}
	derived, err := XORPairsAll(samples)
	require.NoError(t, err)

	e := quality.NewEngine(1)
	before, err := e.DeviceHammingWeight("d", samples)
	require.NoError(t, err)
	after, err := e.DeviceHammingWeight("d", derived)
	require.NoError(t, err)
	assert.Greater(t, after.Mean, before.Mean)
}

func TestBuildBiasMask(t *testing.T) {
	// 16 bits, HW 2/16 = 0.125 -> flip int(0.375*16) = 6 stable zeros.
	samples := []bitvec.Vector{
		bitvec.MustParse("1100000000000000"),
		bitvec.MustParse("1100000000000000"),
	}
	opts := BiasMaskOptions{StableZeroRate: 0.05, Seed: 42}

	mask, err := BuildBiasMask(samples, opts)
	require.NoError(t, err)
	assert.Equal(t, 16, mask.Len())
	assert.Equal(t, 6, mask.Ones())
	assert.Equal(t, uint8(0), mask.Bit(0))
	assert.Equal(t, uint8(0), mask.Bit(1))

	again, err := BuildBiasMask(samples, opts)
	require.NoError(t, err)
	assert.True(t, mask.Equal(again), "same seed must give the same mask")

	applied, err := ApplyMask(samples, mask)
	require.NoError(t, err)
	hw, err := quality.HammingWeight(applied[0])
	require.NoError(t, err)
	assert.Equal(t, 0.5, hw)
}

func TestBuildBiasMaskCapsAtStableZeros(t *testing.T) {
	// HW 7/32 asks for two flips; position 7 is the only stable zero.
	samples := []bitvec.Vector{
		bitvec.MustParse("11111110"),
		bitvec.MustParse("00000000"),
		bitvec.MustParse("00000000"),
		bitvec.MustParse("00000000"),
	}
	mask, err := BuildBiasMask(samples, BiasMaskOptions{StableZeroRate: 0.05, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, "00000001", mask.String())
}

func TestBuildBiasMaskAlreadyBalanced(t *testing.T) {
	mask, err := BuildBiasMask([]bitvec.Vector{bitvec.MustParse("1111")}, BiasMaskOptions{StableZeroRate: 0.05})
	require.NoError(t, err)
	assert.Equal(t, 0, mask.Ones())
}

func TestBuildBiasMaskErrors(t *testing.T) {
	_, err := BuildBiasMask(nil, BiasMaskOptions{})
	assert.True(t, errors.Is(err, quality.ErrInsufficientSamples))

	_, err = ApplyMask([]bitvec.Vector{bitvec.MustParse("10")}, bitvec.MustParse("1"))
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
}
