package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ignoredExtensions are files that live next to captures but are not dumps.
var ignoredExtensions = []string{".py", ".c", ".md"}

// File is one parsed capture file.
type File struct {
	Name string
	Path string
	Dump *Dump
}

// Device groups the captures found in one device directory, in reboot order.
type Device struct {
	ID    string
	Dir   string
	Files []File
	// Empty lists files that parsed to zero bytes and were left out.
	Empty []string
}

// SkippedLines sums skipped lines over all of the device's files.
func (d *Device) SkippedLines() int {
	total := 0
	for _, f := range d.Files {
		total += f.Dump.SkippedLines()
	}
	return total
}

// IsCaptureName reports whether a directory entry name looks like a dump.
func IsCaptureName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, ignored := range ignoredExtensions {
		if ext == ignored {
			return false
		}
	}
	return true
}

// captureOrder sorts numeric names by value. Non-numeric names count as 0
// and fall back to lexical order among equals.
func captureOrder(names []string) {
	key := func(name string) int {
		n, err := strconv.Atoi(name)
		if err != nil {
			return 0
		}
		return n
	}
	sort.SliceStable(names, func(i, j int) bool {
		ki, kj := key(names[i]), key(names[j])
		if ki != kj {
			return ki < kj
		}
		return names[i] < names[j]
	})
}

// LoadDevice parses every capture in dir, ordered by reboot number.
func LoadDevice(dir string) (*Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read device directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsCaptureName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	captureOrder(names)

	dev := &Device{ID: filepath.Base(dir), Dir: dir}
	for _, name := range names {
		path := filepath.Join(dir, name)
		d, err := ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.ID, err)
		}
		if len(d.Data) == 0 {
			dev.Empty = append(dev.Empty, name)
			continue
		}
		dev.Files = append(dev.Files, File{Name: name, Path: path, Dump: d})
	}
	return dev, nil
}

// LoadDataset treats each sub-directory of root as one device. Devices are
// returned sorted by directory name.
func LoadDataset(root string) ([]*Device, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read capture root: %w", err)
	}

	var devices []*Device
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dev, err := LoadDevice(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}
