// Package analysis runs the SRAM PUF evaluation pipeline: it loads the
// capture tree, measures every device in parallel, then computes the
// dataset-wide metrics, the debiasing passes and the device fingerprints,
// and collects everything into a report.
//
// A metric that cannot be computed (too few samples, too few devices, odd
// length for XOR pairing) is recorded in the report's error list; the rest
// of the run carries on.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sramprint/internal/bitvec"
	"sramprint/internal/fingerprint"
	"sramprint/internal/logging"
	"sramprint/internal/metrics"
	"sramprint/internal/quality"
	"sramprint/internal/report"
	"sramprint/internal/stability"
	"sramprint/internal/store"
)

// Metric names for failures outside the quality package.
const (
	MetricBitBalance  = "bit_balance"
	MetricFlipRate    = "flip_rate"
	MetricMask        = "unstable_mask"
	MetricNoisy       = "noisy_bits"
	MetricFingerprint = "fingerprint"
	MetricDistance    = "fingerprint_distance"
	MetricHistory     = "history"
)

// ErrMaskUnavailable is reported for a masked fingerprint whose unstable
// mask could not be computed.
var ErrMaskUnavailable = errors.New("unstable mask unavailable")

// History looks up previously stored fingerprints. *store.Store implements it.
type History interface {
	LatestFingerprint(deviceID, algorithm string) (*store.FingerprintRecord, error)
}

// Analyzer runs the pipeline with fixed options.
type Analyzer struct {
	opts    Options
	engine  *quality.Engine
	gen     *fingerprint.Generator
	log     *logging.Logger
	metrics *metrics.PipelineMetrics
	history History
}

// New creates an Analyzer. A nil logger uses logging.Default and nil
// metrics register on a private registry.
func New(opts Options, logger *logging.Logger, m *metrics.PipelineMetrics) (*Analyzer, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("analysis options: %w", err)
	}
	gen, err := fingerprint.NewGenerator(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = metrics.NewPipelineMetrics(metrics.NewRegistry("sramprint", ""))
	}
	return &Analyzer{
		opts:    opts,
		engine:  quality.NewEngine(opts.workers()),
		gen:     gen,
		log:     logger.WithComponent("analysis"),
		metrics: m,
	}, nil
}

// SetHistory enables comparison against stored fingerprints.
func (a *Analyzer) SetHistory(h History) {
	a.history = h
}

// Options returns the analyzer's options.
func (a *Analyzer) Options() Options {
	return a.opts
}

// Run loads the capture tree and analyzes it.
func (a *Analyzer) Run(ctx context.Context) (*report.Report, error) {
	start := time.Now()
	r, err := a.run(ctx)
	a.metrics.RecordRun(time.Since(start), err)
	return r, err
}

func (a *Analyzer) run(ctx context.Context) (*report.Report, error) {
	ds, err := a.Load(ctx)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, ds)
}

// deviceState carries per-device intermediate results between stages.
type deviceState struct {
	info      DeviceInfo
	samples   []bitvec.Vector
	reference *bitvec.Vector
	errs      []report.MetricError
}

// Analyze measures an already loaded dataset.
func (a *Analyzer) Analyze(ctx context.Context, ds *Dataset) (*report.Report, error) {
	runID := uuid.NewString()
	log := a.log.WithRunID(runID)
	bitLen := ds.Store.BitLength()
	if bitLen == 0 {
		return nil, fmt.Errorf("analyze %s: %w", a.opts.DataDir, quality.ErrZeroLength)
	}

	r := &report.Report{
		SchemaVersion:       report.SchemaVersion,
		RunID:               runID,
		CreatedAt:           time.Now().UTC(),
		DataDir:             a.opts.DataDir,
		BitLength:           bitLen,
		Algorithm:           string(a.opts.Algorithm),
		RepresentativeIndex: a.opts.RepresentativeIndex,
		Devices:             make([]report.Device, len(ds.Devices)),
	}
	a.metrics.Devices.Set(int64(len(ds.Devices)))
	a.metrics.BitLength.Set(int64(bitLen))

	states := make([]*deviceState, len(ds.Devices))
	for i, info := range ds.Devices {
		st := &deviceState{info: info}
		if ds.Store.SampleCount(info.ID) > 0 {
			samples, err := ds.Store.AllSamples(info.ID)
			if err != nil {
				return nil, err
			}
			st.samples = samples
		}
		states[i] = st
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.workers())
	for i, st := range states {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.Devices[i] = a.analyzeDevice(st)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	masked := 0
	for i, st := range states {
		masked += r.Devices[i].MaskedBits
		r.Errors = append(r.Errors, st.errs...)
		log.Info("device analyzed",
			"device", st.info.ID,
			"samples", len(st.samples),
			"skipped_lines", st.info.SkippedLines,
			"masked_bits", r.Devices[i].MaskedBits)
	}
	a.metrics.MaskedBitsLast.Set(int64(masked))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.datasetMetrics(r, states)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, method := range a.opts.Debias {
		res, errs := a.debiasPass(method, states)
		r.Errors = append(r.Errors, errs...)
		if res != nil {
			r.Debias = append(r.Debias, *res)
		}
	}

	r.FingerprintDistances, r.Errors = a.referenceDistances(states, r.Errors)
	r.Errors = append(r.Errors, a.compareHistory(r)...)

	for _, e := range r.Errors {
		log.Warn("metric unavailable", "metric", e.Metric, "device", e.Device, "error", e.Message)
	}
	log.Info("analysis complete", "devices", len(r.Devices), "errors", len(r.Errors))
	return r, nil
}

func (a *Analyzer) analyzeDevice(st *deviceState) report.Device {
	id := st.info.ID
	samples := st.samples
	d := report.Device{
		ID:           id,
		Samples:      len(samples),
		SkippedLines: st.info.SkippedLines,
		EmptyFiles:   st.info.EmptyFiles,
		Rejected:     st.info.Rejected,
	}
	fail := func(metric string, err error) {
		st.errs = append(st.errs, metricError(metric, id, err))
	}

	if hw, err := a.timed(func() (quality.Distribution, error) {
		return a.engine.DeviceHammingWeight(id, samples)
	}); err != nil {
		fail(quality.MetricHammingWeight, err)
	} else {
		d.HammingWeight = &hw
	}
	if len(samples) == 0 {
		// Every capture was empty or rejected.
		return d
	}

	if intra, err := a.timed(func() (quality.Distribution, error) {
		return a.engine.IntraHD(id, samples)
	}); err != nil {
		fail(quality.MetricIntraHD, err)
	} else {
		d.IntraHD = &intra
	}

	balance, err := stability.BitBalance(samples)
	if err != nil {
		fail(MetricBitBalance, err)
	} else {
		s := stability.SummarizeBalance(balance, a.opts.Balance)
		d.Balance = &s
	}

	flips, err := stability.FlipRates(samples)
	if err != nil {
		fail(MetricFlipRate, err)
	} else {
		s := stability.SummarizeFlips(flips)
		d.Flips = &s
	}

	var mask *stability.Mask
	if a.opts.FlipThreshold != nil && flips != nil {
		m, err := stability.UnstableMask(flips, *a.opts.FlipThreshold)
		if err != nil {
			fail(MetricMask, err)
		} else {
			mask = &m
			d.MaskedBits = m.Len()
		}
	}

	if a.opts.NoisyThreshold != nil {
		d.Noisy = a.noisy(id, samples, *a.opts.NoisyThreshold, fail)
	}

	if ref, err := fingerprint.Reconstruct(samples, nil); err == nil {
		st.reference = &ref
	}

	if a.opts.UseMask && mask == nil {
		fail(MetricFingerprint, ErrMaskUnavailable)
	} else if fp, err := a.fingerprint(id, samples, mask); err != nil {
		fail(MetricFingerprint, err)
	} else {
		a.metrics.FingerprintsTotal.Inc()
		d.Fingerprint = &report.FingerprintResult{
			Algorithm:     string(fp.Algorithm),
			Digest:        fp.Hex(),
			ReferenceBits: fp.Reference.Len(),
			Masked:        fp.Masked,
			HexDump:       fingerprint.HexDump(fp.Reference, a.opts.HexDumpBytes),
		}
	}

	if a.opts.Positions && balance != nil {
		d.Positions = positions(samples, balance, flips, mask)
	}
	return d
}

// fingerprint applies mask only when the options ask for a masked digest.
func (a *Analyzer) fingerprint(id string, samples []bitvec.Vector, mask *stability.Mask) (*fingerprint.Fingerprint, error) {
	if !a.opts.UseMask {
		mask = nil
	}
	start := time.Now()
	fp, err := a.gen.Generate(id, samples, mask)
	a.metrics.FingerprintDuration.ObserveDuration(time.Since(start))
	return fp, err
}

func (a *Analyzer) noisy(id string, samples []bitvec.Vector, t float64, fail func(string, error)) *report.NoisyResult {
	pos, err := stability.NoisyPositions(samples, t)
	if err != nil {
		fail(MetricNoisy, err)
		return nil
	}
	res := &report.NoisyResult{Threshold: t, Positions: len(pos)}
	if len(pos) == 0 {
		return res
	}
	projected, err := stability.Project(samples, pos)
	if err != nil {
		fail(MetricNoisy, err)
		return res
	}
	if hw, err := a.engine.DeviceHammingWeight(id, projected); err == nil {
		res.HammingWeight = &hw
	}
	// Intra-HD needs two samples; the device-level error already covers it.
	if intra, err := a.engine.IntraHD(id, projected); err == nil {
		res.IntraHD = &intra
	}
	return res
}

func positions(samples []bitvec.Vector, balance, flips []float64, mask *stability.Mask) []report.Position {
	majority, err := stability.MajorityBits(samples)
	if err != nil {
		return nil
	}
	out := make([]report.Position, len(balance))
	for p := range balance {
		bit, _ := majority.At(p)
		row := report.Position{Index: p, OneRate: balance[p], Majority: bit}
		if flips != nil {
			f := flips[p]
			row.FlipRate = &f
		}
		if mask != nil {
			row.Unstable = mask.Contains(p)
		}
		out[p] = row
	}
	return out
}

// datasetMetrics computes Inter-HD, cross Inter-HD and pooled balance over
// the devices that have samples.
func (a *Analyzer) datasetMetrics(r *report.Report, states []*deviceState) {
	devices := deviceSamples(states)

	if inter, err := a.timed(func() (quality.Distribution, error) {
		return a.engine.InterHD(devices, a.opts.RepresentativeIndex)
	}); err != nil {
		r.Errors = append(r.Errors, metricError(quality.MetricInterHD, "", err))
	} else {
		r.InterHD = &inter
	}

	if a.opts.CrossInterHD {
		if cross, err := a.timed(func() (quality.Distribution, error) {
			return a.engine.InterHDCross(devices)
		}); err != nil {
			r.Errors = append(r.Errors, metricError(quality.MetricInterHDCross, "", err))
		} else {
			r.InterHDCross = &cross
		}
	}

	if len(devices) > 0 {
		if pooled, err := stability.PooledBitBalance(devices); err != nil {
			r.Errors = append(r.Errors, metricError(MetricBitBalance, "", err))
		} else {
			s := stability.SummarizeBalance(pooled, a.opts.Balance)
			r.PooledBalance = &s
		}
	}
}

// referenceDistances compares the full-length majority references of every
// device pair.
func (a *Analyzer) referenceDistances(states []*deviceState, errs []report.MetricError) ([]report.PairDistance, []report.MetricError) {
	var out []report.PairDistance
	for i := 0; i < len(states); i++ {
		for j := i + 1; j < len(states); j++ {
			ra, rb := states[i].reference, states[j].reference
			if ra == nil || rb == nil {
				continue
			}
			d, err := fingerprint.Distance(*ra, *rb)
			if err != nil {
				errs = append(errs, metricError(MetricDistance, states[i].info.ID, err))
				continue
			}
			out = append(out, report.PairDistance{A: states[i].info.ID, B: states[j].info.ID, Distance: d})
		}
	}
	return out, errs
}

func (a *Analyzer) compareHistory(r *report.Report) []report.MetricError {
	if a.history == nil {
		return nil
	}
	var errs []report.MetricError
	for i := range r.Devices {
		d := &r.Devices[i]
		if d.Fingerprint == nil {
			continue
		}
		prev, err := a.history.LatestFingerprint(d.ID, d.Fingerprint.Algorithm)
		if err != nil {
			errs = append(errs, metricError(MetricHistory, d.ID, err))
			continue
		}
		if prev == nil {
			continue
		}
		match := prev.Digest == d.Fingerprint.Digest
		d.Fingerprint.PreviousDigest = prev.Digest
		d.Fingerprint.Matches = &match
		if !match {
			a.log.Warn("fingerprint changed since last run",
				"device", d.ID, "previous_run", prev.RunID)
		}
	}
	return errs
}

func (a *Analyzer) timed(fn func() (quality.Distribution, error)) (quality.Distribution, error) {
	start := time.Now()
	d, err := fn()
	a.metrics.MetricDuration.ObserveDuration(time.Since(start))
	return d, err
}

func deviceSamples(states []*deviceState) []quality.DeviceSamples {
	var out []quality.DeviceSamples
	for _, st := range states {
		if len(st.samples) == 0 {
			continue
		}
		out = append(out, quality.DeviceSamples{ID: st.info.ID, Samples: st.samples})
	}
	return out
}

// metricError flattens err for the report, preferring the device named by
// a quality.Error.
func metricError(metric, device string, err error) report.MetricError {
	var qe *quality.Error
	if errors.As(err, &qe) {
		if device == "" {
			device = qe.Device
		}
		err = qe.Err
	}
	return report.MetricError{Metric: metric, Device: device, Message: err.Error()}
}
