package quality

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sramprint/internal/bitvec"
)

func vecs(ss ...string) []bitvec.Vector {
	out := make([]bitvec.Vector, len(ss))
	for i, s := range ss {
		out[i] = bitvec.MustParse(s)
	}
	return out
}

func randomVectors(seed uint64, n, bits int) []bitvec.Vector {
	r := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	out := make([]bitvec.Vector, n)
	for i := range out {
		src := make([]uint8, bits)
		for j := range src {
			src[j] = uint8(r.IntN(2))
		}
		v, _ := bitvec.FromBits(src)
		out[i] = v
	}
	return out
}

func TestHammingWeightBounds(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"00000000", 0},
		{"11111111", 1},
		{"01010101", 0.5},
		{"11001010", 0.5},
		{"1000", 0.25},
	}
	for _, tt := range tests {
		hw, err := HammingWeight(bitvec.MustParse(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, hw, tt.in)
	}

	_, err := HammingWeight(bitvec.Vector{})
	assert.True(t, errors.Is(err, ErrZeroLength))
}

func TestHammingDistanceExtremes(t *testing.T) {
	d, err := HammingDistance(bitvec.MustParse("10110"), bitvec.MustParse("10110"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)

	d, err = HammingDistance(bitvec.MustParse("10110"), bitvec.MustParse("01001"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, d)

	_, err = HammingDistance(bitvec.MustParse("1"), bitvec.MustParse("10"))
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
}

func TestDeviceHammingWeight(t *testing.T) {
	e := NewEngine(2)
	d, err := e.DeviceHammingWeight("card1", vecs("11110000", "11111111", "00000000"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 0}, d.Values)
	assert.Equal(t, 0.5, d.Mean)
	assert.Equal(t, 0.0, d.Min)
	assert.Equal(t, 1.0, d.Max)

	_, err = e.DeviceHammingWeight("card1", nil)
	assert.True(t, errors.Is(err, ErrInsufficientSamples))

	_, err = e.DeviceHammingWeight("card1", vecs("1", "10"))
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
}

func TestIntraHDScenario(t *testing.T) {
	e := NewEngine(4)
	samples := vecs("11001010", "11001011", "11001010")

	hw, err := HammingWeight(samples[0])
	require.NoError(t, err)
	assert.Equal(t, 0.5, hw)

	d, err := e.IntraHD("card1", samples)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.125, 0, 0.125}, d.Values)
	assert.InDelta(t, 1.0/12.0, d.Mean, 1e-15)
}

func TestIntraHDNeedsTwoSamples(t *testing.T) {
	e := NewEngine(1)
	_, err := e.IntraHD("card7", vecs("1010"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientSamples))

	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, MetricIntraHD, qe.Metric)
	assert.Equal(t, "card7", qe.Device)
	assert.Contains(t, err.Error(), "card7")
}

func TestIntraHDRejectsMixedLengths(t *testing.T) {
	_, err := NewEngine(1).IntraHD("card1", vecs("1010", "10100"))
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
}

func TestInterHDFullyDistinguishable(t *testing.T) {
	e := NewEngine(2)
	d, err := e.InterHD([]DeviceSamples{
		{ID: "card1", Samples: vecs("00000000")},
		{ID: "card2", Samples: vecs("11111111")},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Mean)
}

func TestInterHDRepresentativeIndex(t *testing.T) {
	e := NewEngine(2)
	devices := []DeviceSamples{
		{ID: "a", Samples: vecs("0000", "1111")},
		{ID: "b", Samples: vecs("0000", "0000")},
		{ID: "c", Samples: vecs("0011", "0011")},
	}

	d, err := e.InterHD(devices, 0)
	require.NoError(t, err)
	// a-b 0, a-c 0.5, b-c 0.5
	assert.Equal(t, []float64{0, 0.5, 0.5}, d.Values)
	assert.InDelta(t, 1.0/3.0, d.Mean, 1e-15)

	d, err = e.InterHD(devices, 1)
	require.NoError(t, err)
	// a-b 1, a-c 0.5, b-c 0.5
	assert.InDelta(t, 2.0/3.0, d.Mean, 1e-15)

	_, err = e.InterHD(devices, 2)
	assert.True(t, errors.Is(err, ErrInsufficientSamples))
}

func TestInterHDErrors(t *testing.T) {
	e := NewEngine(1)
	_, err := e.InterHD([]DeviceSamples{{ID: "a", Samples: vecs("1")}}, 0)
	assert.True(t, errors.Is(err, ErrInsufficientDevices))

	_, err = e.InterHD([]DeviceSamples{
		{ID: "a", Samples: vecs("1010")},
		{ID: "b", Samples: vecs("10101010")},
	}, 0)
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
}

func TestInterHDCross(t *testing.T) {
	e := NewEngine(3)
	d, err := e.InterHDCross([]DeviceSamples{
		{ID: "a", Samples: vecs("0000", "0001")},
		{ID: "b", Samples: vecs("1111")},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.75}, d.Values)
	assert.InDelta(t, 0.875, d.Mean, 1e-15)

	_, err = e.InterHDCross([]DeviceSamples{{ID: "a", Samples: vecs("1")}})
	assert.True(t, errors.Is(err, ErrInsufficientDevices))
}

func TestParallelismDoesNotChangeResults(t *testing.T) {
	samples := randomVectors(7, 12, 1024)

	want, err := NewEngine(1).IntraHD("x", samples)
	require.NoError(t, err)
	for _, workers := range []int{2, 3, 8, 64} {
		got, err := NewEngine(workers).IntraHD("x", samples)
		require.NoError(t, err)
		assert.Equal(t, want, got, "workers=%d", workers)
	}
}

func TestSummarize(t *testing.T) {
	d := Summarize([]float64{1, 3})
	assert.Equal(t, 2.0, d.Mean)
	assert.Equal(t, 1.0, d.Std)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 3.0, d.Max)

	assert.Equal(t, Distribution{}, Summarize(nil))
}

func TestNewEngineDefaultsWorkers(t *testing.T) {
	assert.Positive(t, NewEngine(0).Workers())
	assert.Equal(t, 5, NewEngine(5).Workers())
}

func TestDistancesKeepPairOrder(t *testing.T) {
	v := vecs("0000", "1000", "1100", "1110", "1111")
	pairs := make([]pair, 0, len(v))
	for i := range v {
		pairs = append(pairs, pair{v[0], v[i]})
	}

	for _, workers := range []int{1, 2, 16} {
		counts, total, err := NewEngine(workers).distances(pairs)
		require.NoError(t, err, "workers=%d", workers)
		assert.Equal(t, []int{0, 1, 2, 3, 4}, counts, "workers=%d", workers)
		assert.Equal(t, 10, total)
	}

	counts, total, err := NewEngine(4).distances(nil)
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.Zero(t, total)
}

func TestDistancesReportFailingPair(t *testing.T) {
	pairs := []pair{
		{bitvec.MustParse("1010"), bitvec.MustParse("0101")},
		{bitvec.MustParse("1010"), bitvec.MustParse("10100")},
	}
	_, _, err := NewEngine(2).distances(pairs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bitvec.ErrLengthMismatch))
	assert.Contains(t, err.Error(), "pair 1")
}
