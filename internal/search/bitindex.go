package search

import (
	"fmt"
	"iter"
)

// BitIndex identifies one bit of a buffer. Bits are numbered MSB-first:
// Bit 0 is the most significant bit of the byte (mask 0x80), Bit 7 the least
// significant (mask 0x01). Every component uses this convention.
type BitIndex struct {
	Byte int   `json:"byte"`
	Bit  uint8 `json:"bit"`
}

// BitIndexFromLinear is the inverse of Linear.
func BitIndexFromLinear(i int64) BitIndex {
	return BitIndex{Byte: int(i / 8), Bit: uint8(i % 8)}
}

// Linear returns Byte*8 + Bit.
func (b BitIndex) Linear() int64 {
	return int64(b.Byte)*8 + int64(b.Bit)
}

// Mask returns the single-bit XOR mask for this index.
func (b BitIndex) Mask() byte {
	return 0x80 >> b.Bit
}

// Valid reports whether b addresses a bit inside a buffer of n bytes.
func (b BitIndex) Valid(n int) bool {
	return b.Byte >= 0 && b.Byte < n && b.Bit < 8
}

func (b BitIndex) String() string {
	return fmt.Sprintf("byte %d bit %d", b.Byte, b.Bit)
}

// Generator enumerates every BitIndex of a buffer of fixed length.
type Generator struct {
	length int
}

// NewGenerator returns a generator over a buffer of length bytes.
func NewGenerator(length int) Generator {
	if length < 0 {
		length = 0
	}
	return Generator{length: length}
}

// Len is the number of indices All yields: length*8.
func (g Generator) Len() int64 {
	return int64(g.length) * 8
}

// All yields every index in strictly increasing linear order. Each call
// starts over at zero; no cursor is shared between iterations.
func (g Generator) All() iter.Seq[BitIndex] {
	return func(yield func(BitIndex) bool) {
		for pos := 0; pos < g.length; pos++ {
			for bit := uint8(0); bit < 8; bit++ {
				if !yield(BitIndex{Byte: pos, Bit: bit}) {
					return
				}
			}
		}
	}
}
