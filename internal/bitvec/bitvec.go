// Package bitvec provides the immutable bit vector used for SRAM power-up
// samples and everything derived from them.
//
// Bits are stored packed, most-significant bit first, in capture order. Bit
// position 0 is the MSB of the first captured byte. A vector never changes
// after construction; every transform returns a new vector.
package bitvec

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

var (
	ErrLengthMismatch  = errors.New("bit length mismatch")
	ErrIndexOutOfRange = errors.New("bit index out of range")
	ErrInvalidBit      = errors.New("invalid bit value")
)

// Vector is a fixed-length, read-only sequence of bits.
type Vector struct {
	n    int
	data []byte
}

// FromBytes expands each byte into 8 bits, MSB first.
func FromBytes(b []byte) Vector {
	data := make([]byte, len(b))
	copy(data, b)
	return Vector{n: len(b) * 8, data: data}
}

// FromPacked builds an n-bit vector from packed bytes. Padding bits beyond n
// are cleared.
func FromPacked(b []byte, n int) (Vector, error) {
	if n < 0 || (n+7)/8 != len(b) {
		return Vector{}, fmt.Errorf("%w: %d packed bytes cannot hold exactly %d bits", ErrLengthMismatch, len(b), n)
	}
	data := make([]byte, len(b))
	copy(data, b)
	if rem := n % 8; rem != 0 {
		data[len(data)-1] &= byte(0xFF << (8 - rem))
	}
	return Vector{n: n, data: data}, nil
}

// FromBits builds a vector from one byte per bit, each 0 or 1.
func FromBits(src []uint8) (Vector, error) {
	data := make([]byte, (len(src)+7)/8)
	for i, b := range src {
		switch b {
		case 0:
		case 1:
			data[i/8] |= 0x80 >> (i % 8)
		default:
			return Vector{}, fmt.Errorf("%w: %d at position %d", ErrInvalidBit, b, i)
		}
	}
	return Vector{n: len(src), data: data}, nil
}

// Parse reads a string of '0' and '1' characters.
func Parse(s string) (Vector, error) {
	src := make([]uint8, 0, len(s))
	for i, c := range s {
		switch c {
		case '0':
			src = append(src, 0)
		case '1':
			src = append(src, 1)
		default:
			return Vector{}, fmt.Errorf("%w: %q at position %d", ErrInvalidBit, c, i)
		}
	}
	return FromBits(src)
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Vector {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Len returns the number of bits.
func (v Vector) Len() int {
	return v.n
}

// At returns the bit at position i.
func (v Vector) At(i int) (uint8, error) {
	if i < 0 || i >= v.n {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, v.n)
	}
	return v.Bit(i), nil
}

// Bit returns the bit at position i without a range check beyond the one
// the runtime performs on the backing slice.
func (v Vector) Bit(i int) uint8 {
	return (v.data[i/8] >> (7 - i%8)) & 1
}

// Ones returns the number of 1-bits.
func (v Vector) Ones() int {
	total := 0
	for _, b := range v.data {
		total += bits.OnesCount8(b)
	}
	return total
}

// Bytes returns the packed representation, 8 positions per byte, MSB
// first, with the final partial byte zero-padded on the low end.
func (v Vector) Bytes() []byte {
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out
}

// String renders the vector as '0'/'1' characters.
func (v Vector) String() string {
	var sb strings.Builder
	sb.Grow(v.n)
	for i := 0; i < v.n; i++ {
		sb.WriteByte('0' + v.Bit(i))
	}
	return sb.String()
}

// Equal reports whether two vectors have the same length and bits.
func (v Vector) Equal(o Vector) bool {
	if v.n != o.n {
		return false
	}
	for i := range v.data {
		if v.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// Distance returns the number of positions at which a and b differ.
func Distance(a, b Vector) (int, error) {
	if a.n != b.n {
		return 0, fmt.Errorf("%w: %d vs %d bits", ErrLengthMismatch, a.n, b.n)
	}
	d := 0
	for i := range a.data {
		d += bits.OnesCount8(a.data[i] ^ b.data[i])
	}
	return d, nil
}

// Xor returns the bitwise exclusive-or of two equal-length vectors.
func Xor(a, b Vector) (Vector, error) {
	if a.n != b.n {
		return Vector{}, fmt.Errorf("%w: %d vs %d bits", ErrLengthMismatch, a.n, b.n)
	}
	data := make([]byte, len(a.data))
	for i := range data {
		data[i] = a.data[i] ^ b.data[i]
	}
	return Vector{n: a.n, data: data}, nil
}

// Select returns a new vector made of the bits at the given positions, in
// the order given.
func (v Vector) Select(positions []int) (Vector, error) {
	out := make([]uint8, len(positions))
	for k, p := range positions {
		b, err := v.At(p)
		if err != nil {
			return Vector{}, err
		}
		out[k] = b
	}
	return FromBits(out)
}
