// Package dataset holds the power-up samples of every device under study.
//
// The store fixes the sample bit length L either up front (from the captured
// region size) or from the first sample it accepts, and rejects any sample
// that disagrees. Samples are immutable and kept in insertion order, which
// is the reboot order later stages rely on.
package dataset

import (
	"errors"
	"fmt"
	"sync"

	"sramprint/internal/bitvec"
)

var ErrUnknownDevice = errors.New("unknown device")

// Options configures a Store.
type Options struct {
	// RegionBytes is the captured SRAM region size. When positive, every
	// sample must be exactly RegionBytes*8 bits. When zero, L is taken from
	// the first loaded sample.
	RegionBytes int
}

// Store maps device identifiers to their samples.
type Store struct {
	mu      sync.RWMutex
	bitLen  int
	order   []string
	samples map[string][]bitvec.Vector
}

// New creates an empty Store.
func New(opts Options) *Store {
	return &Store{
		bitLen:  opts.RegionBytes * 8,
		samples: make(map[string][]bitvec.Vector),
	}
}

// Load expands raw capture bytes (MSB first) into a sample and appends it to
// the device. It fails with bitvec.ErrLengthMismatch when the bit length
// disagrees with the store's L.
func (s *Store) Load(deviceID string, raw []byte) (bitvec.Vector, error) {
	return s.Add(deviceID, bitvec.FromBytes(raw))
}

// Add appends an already built sample to the device.
func (s *Store) Add(deviceID string, v bitvec.Vector) (bitvec.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.Len() == 0 {
		return bitvec.Vector{}, fmt.Errorf("device %s: %w: empty sample", deviceID, bitvec.ErrLengthMismatch)
	}
	if s.bitLen == 0 {
		s.bitLen = v.Len()
	} else if v.Len() != s.bitLen {
		return bitvec.Vector{}, fmt.Errorf("device %s: %w: sample has %d bits, dataset has %d",
			deviceID, bitvec.ErrLengthMismatch, v.Len(), s.bitLen)
	}

	if _, ok := s.samples[deviceID]; !ok {
		s.order = append(s.order, deviceID)
	}
	s.samples[deviceID] = append(s.samples[deviceID], v)
	return v, nil
}

// AllSamples returns the device's samples in insertion order.
func (s *Store) AllSamples(deviceID string) ([]bitvec.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples, ok := s.samples[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	out := make([]bitvec.Vector, len(samples))
	copy(out, samples)
	return out, nil
}

// BitAt returns bit index of sample, failing with bitvec.ErrIndexOutOfRange
// past L.
func (s *Store) BitAt(sample bitvec.Vector, index int) (uint8, error) {
	return sample.At(index)
}

// Devices returns device identifiers in the order they were first loaded.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// BitLength returns L, or 0 before any sample is loaded and no region size
// was configured.
func (s *Store) BitLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bitLen
}

// SampleCount returns the number of samples held for the device.
func (s *Store) SampleCount(deviceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples[deviceID])
}
