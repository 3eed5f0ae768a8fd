package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sramprint/internal/bitvec"
	"sramprint/internal/capture"
	"sramprint/internal/dataset"
)

// DeviceInfo is the loading bookkeeping for one device directory.
type DeviceInfo struct {
	ID           string
	SkippedLines int
	EmptyFiles   int
	Rejected     int
}

// Dataset is a loaded capture tree.
type Dataset struct {
	Store *dataset.Store
	// Devices lists every device directory found, including ones whose
	// samples were all rejected.
	Devices []DeviceInfo
}

// NewDataset wraps an already populated store, e.g. one read from a snapshot.
func NewDataset(s *dataset.Store) *Dataset {
	ds := &Dataset{Store: s}
	for _, id := range s.Devices() {
		ds.Devices = append(ds.Devices, DeviceInfo{ID: id})
	}
	return ds
}

// Load parses the capture tree under Options.DataDir into a dataset.
func (a *Analyzer) Load(ctx context.Context) (*Dataset, error) {
	start := time.Now()
	defer func() { a.metrics.LoadDuration.ObserveDuration(time.Since(start)) }()

	devices, err := capture.LoadDataset(a.opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load captures: %w", err)
	}

	ds := &Dataset{Store: dataset.New(dataset.Options{RegionBytes: a.opts.RegionBytes})}
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info := DeviceInfo{ID: dev.ID, SkippedLines: dev.SkippedLines(), EmptyFiles: len(dev.Empty)}

		for _, f := range dev.Files {
			for _, bad := range f.Dump.Skipped {
				a.log.Warn("skipped malformed capture line",
					"device", dev.ID, "file", f.Name, "line", bad.Line, "reason", bad.Reason)
			}
			if _, err := ds.Store.Load(dev.ID, f.Dump.Data); err != nil {
				if !errors.Is(err, bitvec.ErrLengthMismatch) || !a.opts.SkipMismatched {
					return nil, fmt.Errorf("load %s: %w", f.Path, err)
				}
				info.Rejected++
				a.log.Warn("rejected sample", "device", dev.ID, "file", f.Name, "error", err)
				continue
			}
			a.metrics.SamplesLoaded.Inc()
		}
		if len(dev.Empty) > 0 {
			a.log.Debug("ignored empty captures", "device", dev.ID, "files", dev.Empty)
		}

		a.metrics.LinesSkipped.Add(uint64(info.SkippedLines))
		a.metrics.SamplesRejected.Add(uint64(info.Rejected))
		ds.Devices = append(ds.Devices, info)
	}

	a.log.Info("dataset loaded",
		"dir", a.opts.DataDir,
		"devices", len(ds.Devices),
		"bit_length", ds.Store.BitLength(),
		"duration", time.Since(start))
	return ds, nil
}
