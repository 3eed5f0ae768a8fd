package stability

import (
	"errors"
	"fmt"
	"sort"

	"sramprint/internal/bitvec"
)

var ErrInvalidThreshold = errors.New("invalid flip-rate threshold")

// Mask is a read-only set of bit positions marked unstable.
type Mask struct {
	bitLen    int
	positions []int
	set       map[int]struct{}
}

// NewMask builds a mask over bitLen positions. Positions are sorted and
// deduplicated.
func NewMask(bitLen int, positions []int) (Mask, error) {
	sorted := make([]int, 0, len(positions))
	set := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		if p < 0 || p >= bitLen {
			return Mask{}, fmt.Errorf("%w: mask position %d not in [0,%d)", bitvec.ErrIndexOutOfRange, p, bitLen)
		}
		if _, dup := set[p]; dup {
			continue
		}
		set[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Ints(sorted)
	return Mask{bitLen: bitLen, positions: sorted, set: set}, nil
}

// UnstableMask marks every position whose flip rate exceeds tau. Raising tau
// can only shrink the mask.
func UnstableMask(rates []float64, tau float64) (Mask, error) {
	if !validRate(tau) {
		return Mask{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, tau)
	}
	var unstable []int
	for p, r := range rates {
		if r > tau {
			unstable = append(unstable, p)
		}
	}
	return NewMask(len(rates), unstable)
}

// Len returns the number of masked positions.
func (m Mask) Len() int {
	return len(m.positions)
}

// BitLength returns the number of positions the mask ranges over.
func (m Mask) BitLength() int {
	return m.bitLen
}

// Contains reports whether position p is masked.
func (m Mask) Contains(p int) bool {
	_, ok := m.set[p]
	return ok
}

// Positions returns the masked positions in ascending order.
func (m Mask) Positions() []int {
	out := make([]int, len(m.positions))
	copy(out, m.positions)
	return out
}

// Kept returns the unmasked positions in ascending order.
func (m Mask) Kept() []int {
	out := make([]int, 0, m.bitLen-len(m.positions))
	for p := 0; p < m.bitLen; p++ {
		if !m.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}
