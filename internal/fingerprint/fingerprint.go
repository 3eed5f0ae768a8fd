// Package fingerprint derives one canonical identity per device from its
// noisy SRAM power-up samples.
//
// Every unmasked bit position is reconstructed by majority vote over the
// device's samples (an exact split resolves to 0). The resulting reference
// bitstring is packed 8 positions per byte, MSB first, final byte zero-padded
// on the low end, and hashed. Any change in a majority outcome at an unmasked
// position changes the digest completely; there is no fuzzy matching here.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"sramprint/internal/bitvec"
	"sramprint/internal/capture"
	"sramprint/internal/quality"
	"sramprint/internal/stability"
)

var (
	ErrEmptyInput       = errors.New("no samples to reconstruct from")
	ErrAllBitsMasked    = errors.New("every bit position is masked")
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)

// Algorithm names a digest function.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// Algorithms lists the supported digest functions.
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, SHA3_256, BLAKE2b256}
}

// ParseAlgorithm accepts an algorithm name, case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Algorithms() {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}

// Fingerprint is a device identity digest. It is immutable once produced.
type Fingerprint struct {
	DeviceID  string
	Algorithm Algorithm
	Digest    []byte
	// Reference is the reconstructed bitstring over unmasked positions.
	Reference bitvec.Vector
	// Masked is the number of positions excluded by the stability mask.
	Masked  int
	Samples int
}

// Hex renders the digest as lowercase hexadecimal.
func (f *Fingerprint) Hex() string {
	return hex.EncodeToString(f.Digest)
}

// Matches reports whether two fingerprints carry the same digest under the
// same algorithm.
func (f *Fingerprint) Matches(o *Fingerprint) bool {
	return f.Algorithm == o.Algorithm && bytes.Equal(f.Digest, o.Digest)
}

// Generator produces fingerprints with a fixed digest algorithm.
type Generator struct {
	alg Algorithm
}

// NewGenerator validates alg and returns a Generator.
func NewGenerator(alg Algorithm) (*Generator, error) {
	if _, err := alg.New(); err != nil {
		return nil, err
	}
	return &Generator{alg: alg}, nil
}

// Algorithm returns the generator's digest algorithm.
func (g *Generator) Algorithm() Algorithm {
	return g.alg
}

// Reconstruct majority-votes every position not in mask, in ascending
// position order. A nil mask keeps every position.
func Reconstruct(samples []bitvec.Vector, mask *stability.Mask) (bitvec.Vector, error) {
	if len(samples) == 0 {
		return bitvec.Vector{}, ErrEmptyInput
	}
	counts, err := bitvec.PositionCounts(samples)
	if err != nil {
		return bitvec.Vector{}, err
	}
	if mask != nil && mask.BitLength() != len(counts) {
		return bitvec.Vector{}, fmt.Errorf("%w: mask covers %d bits, samples have %d",
			bitvec.ErrLengthMismatch, mask.BitLength(), len(counts))
	}

	ref := make([]uint8, 0, len(counts))
	for p, ones := range counts {
		if mask != nil && mask.Contains(p) {
			continue
		}
		ref = append(ref, bitvec.Majority(ones, len(samples)))
	}
	if len(ref) == 0 {
		return bitvec.Vector{}, ErrAllBitsMasked
	}
	return bitvec.FromBits(ref)
}

// Digest hashes the packed reference bitstring.
func Digest(alg Algorithm, ref bitvec.Vector) ([]byte, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	h.Write(ref.Bytes())
	return h.Sum(nil), nil
}

// Generate reconstructs and hashes the device's reference bitstring.
func (g *Generator) Generate(deviceID string, samples []bitvec.Vector, mask *stability.Mask) (*Fingerprint, error) {
	ref, err := Reconstruct(samples, mask)
	if err != nil {
		return nil, fmt.Errorf("fingerprint for device %s: %w", deviceID, err)
	}
	digest, err := Digest(g.alg, ref)
	if err != nil {
		return nil, fmt.Errorf("fingerprint for device %s: %w", deviceID, err)
	}

	masked := 0
	if mask != nil {
		masked = mask.Len()
	}
	return &Fingerprint{
		DeviceID:  deviceID,
		Algorithm: g.alg,
		Digest:    digest,
		Reference: ref,
		Masked:    masked,
		Samples:   len(samples),
	}, nil
}

// Distance is the normalized Hamming distance between two reference
// bitstrings.
func Distance(a, b bitvec.Vector) (float64, error) {
	return quality.HammingDistance(a, b)
}

// HexDump renders up to maxBytes of the packed reference in the capture
// firmware's dump format. maxBytes <= 0 dumps everything.
func HexDump(ref bitvec.Vector, maxBytes int) string {
	data := ref.Bytes()
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[:maxBytes]
	}
	return strings.TrimRight(capture.Format(data), "\r\n ")
}
