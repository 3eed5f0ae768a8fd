package dataset

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"sramprint/internal/bitvec"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// snapshot is the msgpack layout of a parsed dataset. Parsing hundreds of
// text dumps is slow compared to reading this back.
type snapshot struct {
	Version   int              `msgpack:"version"`
	BitLength int              `msgpack:"bit_length"`
	Devices   []snapshotDevice `msgpack:"devices"`
}

type snapshotDevice struct {
	ID      string   `msgpack:"id"`
	Samples [][]byte `msgpack:"samples"`
}

// WriteSnapshot encodes the store, preserving device and sample order.
func (s *Store) WriteSnapshot(w io.Writer) error {
	s.mu.RLock()
	snap := snapshot{Version: SnapshotVersion, BitLength: s.bitLen}
	for _, id := range s.order {
		dev := snapshotDevice{ID: id}
		for _, v := range s.samples[id] {
			dev.Samples = append(dev.Samples, v.Bytes())
		}
		snap.Devices = append(snap.Devices, dev)
	}
	s.mu.RUnlock()

	if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot rebuilds a store written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Store, error) {
	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}

	s := &Store{bitLen: snap.BitLength, samples: make(map[string][]bitvec.Vector)}
	for _, dev := range snap.Devices {
		for i, packed := range dev.Samples {
			v, err := bitvec.FromPacked(packed, snap.BitLength)
			if err != nil {
				return nil, fmt.Errorf("snapshot device %s sample %d: %w", dev.ID, i, err)
			}
			if _, err := s.Add(dev.ID, v); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}
