package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"sramprint/internal/analysis"
	"sramprint/internal/capture"
	"sramprint/internal/config"
	"sramprint/internal/dataset"
	"sramprint/internal/fsutil"
	"sramprint/internal/publish"
	"sramprint/internal/report"
	"sramprint/internal/store"
)

// runFlags are the configuration overrides shared by analyze, fingerprint
// and watch. Only flags given on the command line are applied.
type runFlags struct {
	fs *flag.FlagSet

	dataDir       string
	regionBytes   int
	outDir        string
	formats       string
	hash          string
	flipThreshold float64
	noisy         float64
	useMask       bool
	cross         bool
	debias        string
	store         bool
	publish       bool
	snapshot      string
}

func newRunFlags(name string, a *app) *runFlags {
	f := &runFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.SetOutput(a.stderr)
	f.fs.StringVar(&f.dataDir, "data", "", "capture root, one sub-directory per device")
	f.fs.IntVar(&f.regionBytes, "region", 0, "expected capture size in bytes")
	f.fs.StringVar(&f.hash, "hash", "", "fingerprint digest: sha256, sha3-256, blake2b-256")
	f.fs.Float64Var(&f.flipThreshold, "flip-threshold", 0, "mark positions with a higher flip rate unstable")
	f.fs.Float64Var(&f.noisy, "noisy", 0, "re-measure positions whose 1-rate lies in (t, 1-t)")
	f.fs.BoolVar(&f.useMask, "use-mask", false, "exclude unstable positions from fingerprints")
	f.fs.BoolVar(&f.cross, "cross", false, "also compute Inter-HD over all cross-device sample pairs")
	f.fs.StringVar(&f.debias, "debias", "", "comma-separated debias passes: pairs, bias_mask (\"none\" disables)")
	f.fs.BoolVar(&f.store, "store", false, "record the run in the history database")
	f.fs.BoolVar(&f.publish, "publish", false, "publish fingerprints over MQTT")
	f.fs.StringVar(&f.snapshot, "snapshot", "", "analyze a msgpack snapshot instead of the capture tree")
	return f
}

func (f *runFlags) withOutput() *runFlags {
	f.fs.StringVar(&f.outDir, "out", "", "report directory (default: print to stdout)")
	f.fs.StringVar(&f.formats, "format", "", "comma-separated report formats: text, json, csv")
	return f
}

func (f *runFlags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "data":
			cfg.Capture.DataDir = f.dataDir
		case "region":
			cfg.Capture.RegionBytes = f.regionBytes
		case "out":
			cfg.Report.OutputDir = f.outDir
		case "format":
			cfg.Report.Formats = splitList(f.formats)
		case "hash":
			cfg.Fingerprint.Algorithm = f.hash
		case "flip-threshold":
			cfg.Analysis.FlipThreshold = config.Float(f.flipThreshold)
		case "noisy":
			cfg.Analysis.NoisyThreshold = config.Float(f.noisy)
		case "use-mask":
			cfg.Fingerprint.UseMask = f.useMask
		case "cross":
			cfg.Analysis.CrossInterHD = f.cross
		case "debias":
			if f.debias == "none" {
				cfg.Analysis.Debias = nil
			} else {
				cfg.Analysis.Debias = splitList(f.debias)
			}
		case "store":
			cfg.Storage.Enabled = f.store
		case "publish":
			cfg.Publish.Enabled = f.publish
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *app) signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(a.ctx, syscall.SIGINT, syscall.SIGTERM)
}

// runOnce performs one analysis with the current configuration, including
// history comparison, storage and publishing when enabled.
func (a *app) runOnce(ctx context.Context, snapshotPath string) (*report.Report, error) {
	opts, err := analysis.OptionsFromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	an, err := analysis.New(opts, a.log, a.metrics)
	if err != nil {
		return nil, err
	}

	var db *store.Store
	if a.cfg.Storage.Enabled {
		db, err = store.Open(a.cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		an.SetHistory(db)
	}

	var r *report.Report
	if snapshotPath != "" {
		ds, err := loadSnapshot(snapshotPath)
		if err != nil {
			return nil, err
		}
		r, err = an.Analyze(ctx, ds)
		if err != nil {
			return nil, err
		}
		r.DataDir = snapshotPath
	} else {
		r, err = an.Run(ctx)
		if err != nil {
			return nil, err
		}
	}

	if db != nil {
		if err := db.SaveRun(r); err != nil {
			return r, fmt.Errorf("store run: %w", err)
		}
		a.log.Info("run stored", "run_id", r.RunID, "db", a.cfg.Storage.Path)
	}

	if a.cfg.Publish.Enabled {
		if err := a.publish(ctx, r); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (a *app) publish(ctx context.Context, r *report.Report) error {
	p := publish.New(publish.OptionsFromConfig(a.cfg.Publish), a.log.WithComponent("publish").Logger)
	if err := p.Connect(ctx); err != nil {
		return err
	}
	defer p.Disconnect()

	sent, err := p.PublishReport(ctx, r)
	a.metrics.PublishedTotal.Add(uint64(sent))
	if err != nil {
		return fmt.Errorf("publish fingerprints: %w", err)
	}
	a.log.Info("fingerprints published", "count", sent, "broker", a.cfg.Publish.Broker)
	return nil
}

func loadSnapshot(path string) (*analysis.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	s, err := dataset.ReadSnapshot(f)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return analysis.NewDataset(s), nil
}

// emit writes r to the report directory, or to stdout when none is set.
func (a *app) emit(r *report.Report) error {
	formats := a.cfg.Report.Formats
	if a.cfg.Report.OutputDir != "" {
		paths, err := report.Save(a.cfg.Report.OutputDir, r, formats)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(a.stdout, "Wrote %s\n", p)
		}
		return nil
	}

	for _, f := range formats {
		switch f {
		case "text":
			if err := report.WriteText(a.stdout, r); err != nil {
				return err
			}
		case "json":
			if err := report.WriteJSON(a.stdout, r); err != nil {
				return err
			}
		case "csv":
			fmt.Fprintln(a.stderr, "Warning: csv output needs -out; skipped")
		}
	}
	return nil
}

func (a *app) cmdAnalyze(args []string) error {
	f := newRunFlags("analyze", a).withOutput()
	if err := f.fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.setup(f.apply); err != nil {
		return err
	}

	ctx, stop := a.signalContext()
	defer stop()

	r, err := a.runOnce(ctx, f.snapshot)
	if r != nil {
		if emitErr := a.emit(r); emitErr != nil && err == nil {
			err = emitErr
		}
	}
	return err
}

func (a *app) cmdFingerprint(args []string) error {
	f := newRunFlags("fingerprint", a)
	if err := f.fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.setup(func(cfg *config.Config) {
		f.apply(cfg)
		// Fingerprints only: skip the optional dataset passes.
		cfg.Analysis.Debias = nil
		cfg.Analysis.CrossInterHD = false
	}); err != nil {
		return err
	}

	ctx, stop := a.signalContext()
	defer stop()

	r, err := a.runOnce(ctx, f.snapshot)
	if r == nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, d := range r.Devices {
		if d.Fingerprint == nil {
			fmt.Fprintf(tw, "%s\t-\tunavailable\n", d.ID)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%s\n", d.ID, d.Fingerprint.Algorithm, d.Fingerprint.Digest, changeNote(d.Fingerprint))
	}
	if flushErr := tw.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

func changeNote(fp *report.FingerprintResult) string {
	if fp.Matches == nil {
		return ""
	}
	if *fp.Matches {
		return "\tunchanged"
	}
	return "\tCHANGED"
}

func (a *app) cmdWatch(args []string) error {
	f := newRunFlags("watch", a).withOutput()
	if err := f.fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.setup(f.apply); err != nil {
		return err
	}

	ctx, stop := a.signalContext()
	defer stop()

	// Configuration edits take effect on the next run; flags still win.
	var loader *config.Loader
	if a.configPath != "" {
		loader = config.NewLoader(a.configPath)
		if _, err := loader.Load(); err == nil {
			loader.OnChange(func(*config.Config) { a.log.Info("configuration changed", "path", a.configPath) })
			if err := loader.Watch(); err != nil {
				a.log.Warn("config watch unavailable", "error", err)
			}
			defer loader.Close()
		} else {
			loader = nil
		}
	}

	analyze := func() {
		if loader != nil {
			if cfg := loader.Config(); cfg != nil {
				next := cfg.Clone()
				f.apply(next)
				if err := next.Validate(); err != nil {
					a.log.Warn("ignoring invalid configuration", "error", err)
				} else {
					a.cfg = next
				}
			}
		}
		r, err := a.runOnce(ctx, "")
		if r != nil {
			if err := a.emit(r); err != nil {
				a.log.Error("write report", "error", err)
			}
		}
		if err != nil {
			a.log.Error("analysis failed", "error", err)
		}
	}

	root := a.cfg.Capture.DataDir
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create capture root: %w", err)
	}
	w, err := capture.NewWatcher(root, time.Duration(a.cfg.Watch.DebounceMs)*time.Millisecond,
		a.log.WithComponent("watch").Logger)
	if err != nil {
		return err
	}

	a.log.Info("watching captures", "dir", root)
	analyze()
	if err := w.Run(ctx, analyze); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	limit := fs.Int("n", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.setup(nil); err != nil {
		return err
	}
	if _, err := os.Stat(a.cfg.Storage.Path); os.IsNotExist(err) {
		fmt.Fprintln(a.stdout, "No history database found")
		return nil
	}

	db, err := store.Open(a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if fs.NArg() == 0 {
		runs, err := db.Runs(*limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "RUN\tCREATED\tDEVICES\tBITS\tINTER-HD\tERRORS")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\n",
				r.ID, r.CreatedAt.Format(time.RFC3339), r.Devices, r.BitLength, optional(r.InterHDMean), r.Errors)
		}
		return nil
	}

	device := fs.Arg(0)
	fps, err := db.FingerprintHistory(device)
	if err != nil {
		return err
	}
	hist, err := db.DeviceHistory(device)
	if err != nil {
		return err
	}
	byRun := make(map[string]store.DeviceMetrics, len(hist))
	for _, m := range hist {
		byRun[m.RunID] = m
	}

	fmt.Fprintln(tw, "CREATED\tALGORITHM\tDIGEST\tBITS\tMASKED\tINTRA-HD\tFLIP")
	for _, fp := range fps {
		m := byRun[fp.RunID]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			fp.CreatedAt.Format(time.RFC3339), fp.Algorithm, fp.Digest,
			fp.ReferenceBits, fp.Masked, optional(m.IntraHDMean), optional(m.FlipMean))
	}
	return nil
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func (a *app) cmdSnapshot(args []string) error {
	f := newRunFlags("snapshot", a)
	if err := f.fs.Parse(args); err != nil {
		return errUsage
	}
	if f.fs.NArg() < 1 {
		fmt.Fprintln(a.stderr, "Usage: sramprint snapshot [-data dir] <file>")
		return errUsage
	}
	if err := a.setup(f.apply); err != nil {
		return err
	}

	opts, err := analysis.OptionsFromConfig(a.cfg)
	if err != nil {
		return err
	}
	an, err := analysis.New(opts, a.log, a.metrics)
	if err != nil {
		return err
	}
	ctx, stop := a.signalContext()
	defer stop()
	ds, err := an.Load(ctx)
	if err != nil {
		return err
	}

	path := f.fs.Arg(0)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	w, err := fsutil.NewAtomicWriter(path, 0644)
	if err != nil {
		return err
	}
	if err := ds.Store.WriteSnapshot(w); err != nil {
		w.Abort()
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Wrote %s (%d devices, %d bits)\n", path, len(ds.Store.Devices()), ds.Store.BitLength())
	return nil
}

func (a *app) cmdShow(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(a.stderr, "Usage: sramprint show <report.json>")
		return errUsage
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := report.ReadJSON(f)
	if err != nil {
		return err
	}
	return report.WriteText(a.stdout, r)
}

func (a *app) cmdConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	format := fs.String("format", "toml", "output format: toml, json, yaml")
	write := fs.Bool("init", false, "create the config file with defaults if it does not exist")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *write {
		_, created, err := config.LoadOrCreate(a.configPath)
		if err != nil {
			return err
		}
		path := a.configPath
		if path == "" {
			path = config.ConfigPath()
		}
		if created {
			fmt.Fprintf(a.stdout, "Created %s\n", path)
		} else {
			fmt.Fprintf(a.stdout, "%s already exists\n", path)
		}
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	for _, issue := range config.Check(cfg) {
		kind := "Error"
		if issue.IsWarning() {
			kind = "Warning"
		}
		fmt.Fprintf(a.stderr, "%s: %s\n", kind, issue.Error())
	}
	data, err := config.Encode(cfg, "."+*format)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(data)
	return err
}
