package dataset

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sramprint/internal/bitvec"
)

func TestLoadFixesLengthFromFirstSample(t *testing.T) {
	s := New(Options{})
	assert.Zero(t, s.BitLength())

	v, err := s.Load("card1", []byte{0xCA})
	require.NoError(t, err)
	assert.Equal(t, "11001010", v.String())
	assert.Equal(t, 8, s.BitLength())

	_, err = s.Load("card2", []byte{0xCA, 0xFE})
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
	assert.Contains(t, err.Error(), "card2")
	assert.Equal(t, []string{"card1"}, s.Devices())
}

func TestLoadEnforcesRegionSize(t *testing.T) {
	s := New(Options{RegionBytes: 2})
	assert.Equal(t, 16, s.BitLength())

	_, err := s.Load("card1", []byte{0x01})
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))

	_, err = s.Load("card1", []byte{0x01, 0x02})
	require.NoError(t, err)
}

func TestLoadRejectsEmptySample(t *testing.T) {
	s := New(Options{})
	_, err := s.Load("card1", nil)
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
}

func TestAllSamplesPreservesOrder(t *testing.T) {
	s := New(Options{})
	for _, b := range []byte{3, 1, 2} {
		_, err := s.Load("card1", []byte{b})
		require.NoError(t, err)
	}

	samples, err := s.AllSamples("card1")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, []byte{3}, samples[0].Bytes())
	assert.Equal(t, []byte{1}, samples[1].Bytes())
	assert.Equal(t, []byte{2}, samples[2].Bytes())
	assert.Equal(t, 3, s.SampleCount("card1"))

	_, err = s.AllSamples("nope")
	assert.True(t, errors.Is(err, ErrUnknownDevice))
}

func TestBitAt(t *testing.T) {
	s := New(Options{})
	v, err := s.Load("card1", []byte{0x80})
	require.NoError(t, err)

	b, err := s.BitAt(v, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), b)

	_, err = s.BitAt(v, 8)
	assert.True(t, errors.Is(err, bitvec.ErrIndexOutOfRange))
}

func TestDevicesInFirstLoadOrder(t *testing.T) {
	s := New(Options{})
	for _, id := range []string{"b", "a", "b", "c"} {
		_, err := s.Load(id, []byte{0})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b", "a", "c"}, s.Devices())
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New(Options{})
	_, err := s.Load("card2", []byte{0xDE, 0xAD})
	require.NoError(t, err)
	_, err = s.Load("card1", []byte{0xBE, 0xEF})
	require.NoError(t, err)
	_, err = s.Load("card2", []byte{0xDE, 0xAF})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteSnapshot(&buf))

	got, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, 16, got.BitLength())
	assert.Equal(t, []string{"card2", "card1"}, got.Devices())

	samples, err := got.AllSamples("card2")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, []byte{0xDE, 0xAF}, samples[1].Bytes())
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	_, err := ReadSnapshot(bytes.NewReader([]byte{0xC1}))
	assert.Error(t, err)
}
