package analysis

import (
	"fmt"
	"runtime"

	"sramprint/internal/config"
	"sramprint/internal/debias"
	"sramprint/internal/fingerprint"
	"sramprint/internal/stability"
)

// Options drives one analysis run. Every threshold comes from here; nothing
// is compiled in.
type Options struct {
	DataDir        string
	RegionBytes    int
	SkipMismatched bool

	RepresentativeIndex int
	Workers             int
	CrossInterHD        bool

	// FlipThreshold builds the unstable mask when set.
	FlipThreshold *float64
	// NoisyThreshold enables the noisy-position re-measurement when set.
	NoisyThreshold *float64
	Balance        stability.BalanceOptions

	Debias   []string
	BiasMask debias.BiasMaskOptions

	Algorithm    fingerprint.Algorithm
	UseMask      bool
	HexDumpBytes int

	// Positions fills report.Device.Positions for the CSV export.
	Positions bool
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.DefaultConfig())
	return opts
}

// OptionsFromConfig converts a validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	alg, err := fingerprint.ParseAlgorithm(cfg.Fingerprint.Algorithm)
	if err != nil {
		return Options{}, err
	}
	positions := false
	for _, f := range cfg.Report.Formats {
		if f == "csv" {
			positions = true
		}
	}
	return Options{
		DataDir:             cfg.Capture.DataDir,
		RegionBytes:         cfg.Capture.RegionBytes,
		SkipMismatched:      cfg.Capture.SkipMismatched,
		RepresentativeIndex: cfg.Analysis.RepresentativeIndex,
		Workers:             cfg.Analysis.Workers,
		CrossInterHD:        cfg.Analysis.CrossInterHD,
		FlipThreshold:       copyFloat(cfg.Analysis.FlipThreshold),
		NoisyThreshold:      copyFloat(cfg.Analysis.NoisyThreshold),
		Balance: stability.BalanceOptions{
			Low:  cfg.Analysis.BalancedLow,
			High: cfg.Analysis.BalancedHigh,
		},
		Debias: append([]string(nil), cfg.Analysis.Debias...),
		BiasMask: debias.BiasMaskOptions{
			StableZeroRate: cfg.Analysis.StableZeroRate,
			Seed:           cfg.Analysis.BiasMaskSeed,
		},
		Algorithm:    alg,
		UseMask:      cfg.Fingerprint.UseMask,
		HexDumpBytes: cfg.Fingerprint.HexDumpBytes,
		Positions:    positions,
	}, nil
}

func (o Options) validate() error {
	if o.RepresentativeIndex < 0 {
		return fmt.Errorf("representative index %d is negative", o.RepresentativeIndex)
	}
	if o.UseMask && o.FlipThreshold == nil {
		return fmt.Errorf("use_mask needs a flip threshold")
	}
	for _, m := range o.Debias {
		if m != debias.MethodPairs && m != debias.MethodBiasMask {
			return fmt.Errorf("unknown debias method %q", m)
		}
	}
	return nil
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
