package fingerprint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sramprint/internal/bitvec"
	"sramprint/internal/stability"
)

func vecs(ss ...string) []bitvec.Vector {
	out := make([]bitvec.Vector, len(ss))
	for i, s := range ss {
		out[i] = bitvec.MustParse(s)
	}
	return out
}

func mask(t *testing.T, bitLen int, positions ...int) *stability.Mask {
	t.Helper()
	m, err := stability.NewMask(bitLen, positions)
	require.NoError(t, err)
	return &m
}

func TestReconstructScenario(t *testing.T) {
	ref, err := Reconstruct(vecs("11001010", "11001011", "11001010"), nil)
	require.NoError(t, err)
	assert.Equal(t, "11001010", ref.String())
}

func TestReconstructEvenTieIsZero(t *testing.T) {
	ref, err := Reconstruct(vecs("1100", "1010"), nil)
	require.NoError(t, err)
	assert.Equal(t, "1000", ref.String())
}

func TestReconstructSkipsMaskedPositions(t *testing.T) {
	ref, err := Reconstruct(vecs("11001010", "11001011", "11001010"), mask(t, 8, 6, 7))
	require.NoError(t, err)
	assert.Equal(t, "110010", ref.String())
}

func TestReconstructErrors(t *testing.T) {
	_, err := Reconstruct(nil, nil)
	assert.True(t, errors.Is(err, ErrEmptyInput))

	_, err = Reconstruct(vecs("10"), mask(t, 2, 0, 1))
	assert.True(t, errors.Is(err, ErrAllBitsMasked))

	_, err = Reconstruct(vecs("10"), mask(t, 3))
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
}

func TestGenerateKnownDigests(t *testing.T) {
	samples := vecs("11001010", "11001011", "11001010")
	tests := []struct {
		alg  Algorithm
		want string
	}{
		{SHA256, "13598656f10fa962b75f6c4587a61a067c14c1ef7dc9ca3703da76bae4c1beb1"},
		{SHA3_256, "c87670ce8d935008e6ed401e0a4265f8ac96f8128a8f07c0424d59a2d8ab76e7"},
		{BLAKE2b256, "ba5e812ca6410509dda43b9d02643db7bf652d952a8d7896fad08d2d521e344a"},
	}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			g, err := NewGenerator(tt.alg)
			require.NoError(t, err)
			fp, err := g.Generate("card1", samples, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fp.Hex())
			assert.Equal(t, "card1", fp.DeviceID)
			assert.Equal(t, 3, fp.Samples)
			assert.Zero(t, fp.Masked)
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	g, err := NewGenerator(SHA256)
	require.NoError(t, err)
	samples := vecs("1011001110001111", "1011001010001111", "1011001110001101")
	m := mask(t, 16, 3)

	a, err := g.Generate("d", samples, m)
	require.NoError(t, err)
	b, err := g.Generate("d", samples, m)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)
	assert.True(t, a.Matches(b))
}

func TestGenerateMajorityFlipChangesDigest(t *testing.T) {
	g, err := NewGenerator(SHA256)
	require.NoError(t, err)

	base, err := g.Generate("d", vecs("11001010", "11001011", "11001010"), nil)
	require.NoError(t, err)
	// Third sample now agrees with the second at position 7: majority flips.
	flipped, err := g.Generate("d", vecs("11001010", "11001011", "11001011"), nil)
	require.NoError(t, err)
	assert.False(t, base.Matches(flipped))
	assert.Equal(t, "11001011", flipped.Reference.String())

	// Masking position 7 makes the two sample sets indistinguishable.
	m := mask(t, 8, 7)
	a, err := g.Generate("d", vecs("11001010", "11001011", "11001010"), m)
	require.NoError(t, err)
	b, err := g.Generate("d", vecs("11001010", "11001011", "11001011"), m)
	require.NoError(t, err)
	assert.True(t, a.Matches(b))
	assert.Equal(t, 1, a.Masked)
}

func TestGenerateWrapsDevice(t *testing.T) {
	g, err := NewGenerator(SHA256)
	require.NoError(t, err)
	_, err = g.Generate("card9", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyInput))
	assert.Contains(t, err.Error(), "card9")
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm(" SHA3-256 ")
	require.NoError(t, err)
	assert.Equal(t, SHA3_256, a)

	_, err = ParseAlgorithm("md5")
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))

	_, err = NewGenerator("crc32")
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
}

func TestDistance(t *testing.T) {
	d, err := Distance(bitvec.MustParse("0000"), bitvec.MustParse("0011"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, d)
}

func TestHexDump(t *testing.T) {
	ref := bitvec.FromBytes([]byte{0xCA, 0xFE, 0x00, 0x01})
	assert.Equal(t, "CA FE 00 01", HexDump(ref, 0))
	assert.Equal(t, "CA FE", HexDump(ref, 2))

	long := bitvec.FromBytes(make([]byte, 20))
	assert.Equal(t,
		"00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 \r\n00 00 00 00",
		HexDump(long, 0))
}
