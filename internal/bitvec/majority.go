package bitvec

import "fmt"

// Majority returns the majority bit among n observations of which ones were
// 1. An exact split on an even n resolves to 0.
func Majority(ones, n int) uint8 {
	if 2*ones > n {
		return 1
	}
	return 0
}

// CheckLengths verifies that every vector has the same length and returns
// it. An empty slice has length 0.
func CheckLengths(vs []Vector) (int, error) {
	if len(vs) == 0 {
		return 0, nil
	}
	n := vs[0].n
	for i, v := range vs[1:] {
		if v.n != n {
			return 0, fmt.Errorf("%w: vector %d has %d bits, vector 0 has %d", ErrLengthMismatch, i+1, v.n, n)
		}
	}
	return n, nil
}

// PositionCounts returns, for every bit position, how many of the vectors
// hold a 1 there. Vectors are visited in slice order.
func PositionCounts(vs []Vector) ([]int, error) {
	n, err := CheckLengths(vs)
	if err != nil {
		return nil, err
	}
	counts := make([]int, n)
	for _, v := range vs {
		for byteIdx, b := range v.data {
			if b == 0 {
				continue
			}
			base := byteIdx * 8
			for bit := 0; bit < 8; bit++ {
				if b&(0x80>>bit) != 0 {
					counts[base+bit]++
				}
			}
		}
	}
	return counts, nil
}
