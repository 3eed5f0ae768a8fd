package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"sramprint/internal/fsutil"
)

// Output file names inside the report directory.
const (
	TextFileName = "report.txt"
	JSONFileName = "report.json"
)

// Save renders r in every requested format ("text", "json", "csv") into dir.
// The directory is locked for the duration and every file is replaced
// atomically. It returns the paths written.
func Save(dir string, r *Report, formats []string) ([]string, error) {
	lock, err := fsutil.LockDir(dir)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	var written []string
	put := func(name string, render func(*bytes.Buffer) error) error {
		var buf bytes.Buffer
		if err := render(&buf); err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		path := filepath.Join(dir, name)
		if err := fsutil.AtomicWriteFile(path, buf.Bytes(), 0644); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	for _, format := range formats {
		switch format {
		case "text":
			err = put(TextFileName, func(b *bytes.Buffer) error { return WriteText(b, r) })
		case "json":
			err = put(JSONFileName, func(b *bytes.Buffer) error { return WriteJSON(b, r) })
		case "csv":
			for i := range r.Devices {
				d := &r.Devices[i]
				if len(d.Positions) == 0 {
					continue
				}
				if err = put(PositionsFileName(d.ID), func(b *bytes.Buffer) error { return WritePositionsCSV(b, d) }); err != nil {
					break
				}
			}
		default:
			err = fmt.Errorf("unknown report format %q", format)
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
