package metrics

import "time"

// PipelineMetrics holds the analysis pipeline's instruments.
type PipelineMetrics struct {
	registry *Registry

	RunsTotal         *Counter
	RunErrorsTotal    *Counter
	SamplesLoaded     *Counter
	SamplesRejected   *Counter
	LinesSkipped      *Counter
	FingerprintsTotal *Counter
	PublishedTotal    *Counter

	Devices        *Gauge
	BitLength      *Gauge
	MaskedBitsLast *Gauge

	LoadDuration        *Histogram
	MetricDuration      *Histogram
	FingerprintDuration *Histogram
	RunDuration         *Histogram
}

// NewPipelineMetrics registers the pipeline instruments on registry
// (Default when nil).
func NewPipelineMetrics(registry *Registry) *PipelineMetrics {
	if registry == nil {
		registry = Default()
	}
	return &PipelineMetrics{
		registry: registry,

		RunsTotal: registry.RegisterCounter(
			"runs_total", "Total number of analysis runs", nil),
		RunErrorsTotal: registry.RegisterCounter(
			"run_errors_total", "Analysis runs that failed", nil),
		SamplesLoaded: registry.RegisterCounter(
			"samples_loaded_total", "SRAM samples accepted into the dataset", nil),
		SamplesRejected: registry.RegisterCounter(
			"samples_rejected_total", "Samples dropped for a length mismatch", nil),
		LinesSkipped: registry.RegisterCounter(
			"capture_lines_skipped_total", "Malformed capture lines skipped while parsing", nil),
		FingerprintsTotal: registry.RegisterCounter(
			"fingerprints_total", "Device fingerprints generated", nil),
		PublishedTotal: registry.RegisterCounter(
			"fingerprints_published_total", "Fingerprints published to the broker", nil),

		Devices: registry.RegisterGauge(
			"devices", "Devices in the most recent run", nil),
		BitLength: registry.RegisterGauge(
			"bit_length", "Sample length in bits in the most recent run", nil),
		MaskedBitsLast: registry.RegisterGauge(
			"masked_bits", "Unstable positions masked in the most recent run, summed over devices", nil),

		LoadDuration: registry.RegisterHistogram(
			"load_duration_seconds", "Time to parse and load the capture tree", nil, DurationBuckets),
		MetricDuration: registry.RegisterHistogram(
			"metric_duration_seconds", "Time to compute one quality metric", nil, DurationBuckets),
		FingerprintDuration: registry.RegisterHistogram(
			"fingerprint_duration_seconds", "Time to fingerprint one device", nil, DurationBuckets),
		RunDuration: registry.RegisterHistogram(
			"run_duration_seconds", "Wall time of a full analysis run", nil, DurationBuckets),
	}
}

// Registry returns the registry the instruments live on.
func (m *PipelineMetrics) Registry() *Registry {
	return m.registry
}

// RecordRun records one finished run.
func (m *PipelineMetrics) RecordRun(d time.Duration, err error) {
	m.RunsTotal.Inc()
	if err != nil {
		m.RunErrorsTotal.Inc()
	}
	m.RunDuration.ObserveDuration(d)
}
