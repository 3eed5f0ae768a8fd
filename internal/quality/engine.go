package quality

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"sramprint/internal/bitvec"
)

// Engine evaluates metrics, spreading independent pairs over a fixed number
// of workers.
type Engine struct {
	workers int
}

// NewEngine returns an Engine using workers goroutines, or GOMAXPROCS when
// workers is not positive.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{workers: workers}
}

// Workers returns the configured parallelism.
func (e *Engine) Workers() int {
	return e.workers
}

type pair struct {
	a, b bitvec.Vector
}

// distances evaluates every pair and returns the raw bit-difference counts in
// pair order, plus their total. The total is summed in pair order once every
// worker has finished.
func (e *Engine) distances(pairs []pair) ([]int, int, error) {
	out := make([]int, len(pairs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range pairs {
		g.Go(func() error {
			d, err := bitvec.Distance(pairs[i].a, pairs[i].b)
			if err != nil {
				return fmt.Errorf("pair %d: %w", i, err)
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	total := 0
	for _, d := range out {
		total += d
	}
	return out, total, nil
}

// pairDistribution turns bit-difference counts into normalized values. The
// mean is computed from the integer total.
func pairDistribution(counts []int, total, bitLen int) Distribution {
	values := make([]float64, len(counts))
	for i, c := range counts {
		values[i] = float64(c) / float64(bitLen)
	}
	d := Summarize(values)
	d.Mean = float64(total) / (float64(len(counts)) * float64(bitLen))
	return d
}

// DeviceHammingWeight returns the per-sample Hamming weights of a device and
// their mean.
func (e *Engine) DeviceHammingWeight(device string, samples []bitvec.Vector) (Distribution, error) {
	fail := func(err error) (Distribution, error) {
		return Distribution{}, &Error{Metric: MetricHammingWeight, Device: device, Err: err}
	}
	if len(samples) == 0 {
		return fail(fmt.Errorf("%w: need at least 1 sample", ErrInsufficientSamples))
	}
	bitLen, err := bitvec.CheckLengths(samples)
	if err != nil {
		return fail(err)
	}
	if bitLen == 0 {
		return fail(ErrZeroLength)
	}

	values := make([]float64, len(samples))
	ones := 0
	for i, s := range samples {
		values[i] = float64(s.Ones()) / float64(bitLen)
		ones += s.Ones()
	}
	d := Summarize(values)
	d.Mean = float64(ones) / (float64(len(samples)) * float64(bitLen))
	return d, nil
}

// IntraHD averages the normalized Hamming distance over every unordered pair
// of the device's samples. Pairs are listed as (0,1), (0,2), ..., (n-2,n-1).
func (e *Engine) IntraHD(device string, samples []bitvec.Vector) (Distribution, error) {
	fail := func(err error) (Distribution, error) {
		return Distribution{}, &Error{Metric: MetricIntraHD, Device: device, Err: err}
	}
	if len(samples) < 2 {
		return fail(fmt.Errorf("%w: need at least 2 samples, have %d", ErrInsufficientSamples, len(samples)))
	}
	bitLen, err := bitvec.CheckLengths(samples)
	if err != nil {
		return fail(err)
	}
	if bitLen == 0 {
		return fail(ErrZeroLength)
	}

	pairs := make([]pair, 0, len(samples)*(len(samples)-1)/2)
	for i := 0; i < len(samples); i++ {
		for j := i + 1; j < len(samples); j++ {
			pairs = append(pairs, pair{samples[i], samples[j]})
		}
	}
	counts, total, err := e.distances(pairs)
	if err != nil {
		return fail(err)
	}
	return pairDistribution(counts, total, bitLen), nil
}

// InterHD picks sample index from every device and averages the normalized
// Hamming distance over every pair of devices, in device order.
func (e *Engine) InterHD(devices []DeviceSamples, index int) (Distribution, error) {
	fail := func(device string, err error) (Distribution, error) {
		return Distribution{}, &Error{Metric: MetricInterHD, Device: device, Err: err}
	}
	if len(devices) < 2 {
		return fail("", fmt.Errorf("%w: need at least 2 devices, have %d", ErrInsufficientDevices, len(devices)))
	}

	reps := make([]bitvec.Vector, len(devices))
	for i, d := range devices {
		if index < 0 || index >= len(d.Samples) {
			return fail(d.ID, fmt.Errorf("%w: representative index %d with %d samples",
				ErrInsufficientSamples, index, len(d.Samples)))
		}
		reps[i] = d.Samples[index]
	}
	bitLen, err := checkDeviceLengths(devices, reps)
	if err != nil {
		return fail("", err)
	}

	var pairs []pair
	for i := 0; i < len(reps); i++ {
		for j := i + 1; j < len(reps); j++ {
			pairs = append(pairs, pair{reps[i], reps[j]})
		}
	}
	counts, total, err := e.distances(pairs)
	if err != nil {
		return fail("", err)
	}
	return pairDistribution(counts, total, bitLen), nil
}

// InterHDCross compares every sample of every device against every sample of
// every other device and averages all of those distances.
func (e *Engine) InterHDCross(devices []DeviceSamples) (Distribution, error) {
	fail := func(device string, err error) (Distribution, error) {
		return Distribution{}, &Error{Metric: MetricInterHDCross, Device: device, Err: err}
	}
	if len(devices) < 2 {
		return fail("", fmt.Errorf("%w: need at least 2 devices, have %d", ErrInsufficientDevices, len(devices)))
	}

	var all []bitvec.Vector
	for _, d := range devices {
		if len(d.Samples) == 0 {
			return fail(d.ID, fmt.Errorf("%w: device has no samples", ErrInsufficientSamples))
		}
		all = append(all, d.Samples...)
	}
	bitLen, err := checkDeviceLengths(devices, all)
	if err != nil {
		return fail("", err)
	}

	var pairs []pair
	for i := 0; i < len(devices); i++ {
		for j := i + 1; j < len(devices); j++ {
			for _, a := range devices[i].Samples {
				for _, b := range devices[j].Samples {
					pairs = append(pairs, pair{a, b})
				}
			}
		}
	}
	counts, total, err := e.distances(pairs)
	if err != nil {
		return fail("", err)
	}
	return pairDistribution(counts, total, bitLen), nil
}

func checkDeviceLengths(devices []DeviceSamples, vs []bitvec.Vector) (int, error) {
	bitLen, err := bitvec.CheckLengths(vs)
	if err != nil {
		return 0, fmt.Errorf("across %d devices: %w", len(devices), err)
	}
	if bitLen == 0 {
		return 0, ErrZeroLength
	}
	return bitLen, nil
}
