// sramprint evaluates SRAM power-up captures as a physical unclonable
// function and derives a stable fingerprint for every device.
//
//	sramprint analyze             Full quality report over the capture tree
//	sramprint fingerprint         Print one fingerprint per device
//	sramprint watch               Re-analyze whenever new captures land
//	sramprint history [device]    Show stored runs or a device's fingerprints
//	sramprint snapshot <file>     Save the parsed dataset as msgpack
//	sramprint show <report.json>  Re-render a saved JSON report as text
//	sramprint config              Print the effective configuration
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"sramprint/internal/config"
	"sramprint/internal/fsutil"
	"sramprint/internal/logging"
	"sramprint/internal/metrics"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// errUsage marks errors whose message is the usage text itself.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type app struct {
	// ctx bounds long-running commands; signals cancel it too.
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer

	configPath string
	metricsOut string

	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.PipelineMetrics
}

func run(args []string, stdout, stderr io.Writer) int {
	return runContext(context.Background(), args, stdout, stderr)
}

func runContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{ctx: ctx, stdout: stdout, stderr: stderr}

	fs := flag.NewFlagSet("sramprint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = a.usage
	fs.StringVar(&a.configPath, "config", "", "path to config file")
	fs.StringVar(&a.metricsOut, "metrics", "", "write Prometheus metrics after the command (- for stdout)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "sramprint %s (built %s)\n", Version, BuildTime)
		return 0
	}
	if fs.NArg() < 1 {
		a.usage()
		return 1
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "analyze":
		err = a.cmdAnalyze(rest)
	case "fingerprint":
		err = a.cmdFingerprint(rest)
	case "watch":
		err = a.cmdWatch(rest)
	case "history":
		err = a.cmdHistory(rest)
	case "snapshot":
		err = a.cmdSnapshot(rest)
	case "show":
		err = a.cmdShow(rest)
	case "config":
		err = a.cmdConfig(rest)
	case "help", "-h", "--help":
		a.usage()
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		a.usage()
		return 1
	}

	if err == nil {
		err = a.writeMetrics()
	}
	if a.log != nil {
		a.log.Close()
	}
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (a *app) usage() {
	fmt.Fprintln(a.stderr, `sramprint - SRAM PUF quality analysis and fingerprinting

USAGE:
    sramprint [options] <command> [args]

COMMANDS:
    analyze             Analyze the capture tree and write reports
    fingerprint         Print the fingerprint of every device
    watch               Re-run the analysis whenever captures change
    history [device]    List stored runs, or one device's fingerprints
    snapshot <file>     Write the parsed dataset as a msgpack snapshot
    show <report.json>  Render a saved JSON report as text
    config              Print the effective configuration
    help                Show this help message

OPTIONS:
    -config <path>      Config file (default: $SRAMPRINT_HOME/config.toml)
    -metrics <path>     Write Prometheus metrics after the command (- for stdout)
    -version            Print version and exit

Run 'sramprint <command> -h' for command options.`)
}

// setup loads and validates the configuration, applies fn to it, and
// builds the logger and instruments.
func (a *app) setup(fn func(*config.Config)) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if fn != nil {
		fn(cfg)
	}
	for _, w := range config.Check(cfg).Warnings() {
		fmt.Fprintf(a.stderr, "Warning: %s\n", w.Error())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	logging.SetDefault(logger)

	a.cfg = cfg
	a.log = logger
	a.metrics = metrics.NewPipelineMetrics(nil)
	return nil
}

func (a *app) writeMetrics() error {
	if a.metricsOut == "" || a.metrics == nil {
		return nil
	}
	reg := a.metrics.Registry()
	if a.metricsOut == "-" {
		return reg.WritePrometheus(a.stdout)
	}
	w, err := fsutil.NewAtomicWriter(a.metricsOut, 0644)
	if err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := reg.WritePrometheus(w); err != nil {
		w.Abort()
		return fmt.Errorf("write metrics: %w", err)
	}
	return w.Commit()
}
