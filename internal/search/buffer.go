package search

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrBitIndexOutOfRange means a task addressed a bit outside the buffer.
	ErrBitIndexOutOfRange = errors.New("bit index out of range")

	// ErrSlotOutOfRange means a worker used a scratch slot it does not own.
	ErrSlotOutOfRange = errors.New("scratch slot out of range")
)

// Buffer owns the original bytes of one search. It is never written after
// construction, so workers read it without synchronization.
type Buffer struct {
	data []byte
}

// NewBuffer copies data into a new Buffer.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: bytes.Clone(data)}
}

// Len returns the number of bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bits returns Len()*8.
func (b *Buffer) Bits() int64 {
	return int64(len(b.data)) * 8
}

// Bytes returns a copy of the contents.
func (b *Buffer) Bytes() []byte {
	return bytes.Clone(b.data)
}

// Equal reports whether p matches the buffer contents.
func (b *Buffer) Equal(p []byte) bool {
	return bytes.Equal(b.data, p)
}

// ScratchPool is an arena of per-worker copies of a Buffer. Slot i belongs to
// worker i for the lifetime of the pool; no two goroutines touch a slot at
// the same time, and a slot always equals the source between tasks.
type ScratchPool struct {
	source *Buffer
	slots  [][]byte
}

// NewScratchPool allocates exactly slots copies of src in one allocation.
func NewScratchPool(src *Buffer, slots int) (*ScratchPool, error) {
	if slots < 1 {
		return nil, fmt.Errorf("scratch pool needs at least one slot, got %d", slots)
	}

	n := src.Len()
	arena := make([]byte, slots*n)
	p := &ScratchPool{
		source: src,
		slots:  make([][]byte, slots),
	}
	for i := range p.slots {
		s := arena[i*n : (i+1)*n : (i+1)*n]
		copy(s, src.data)
		p.slots[i] = s
	}
	return p, nil
}

// Slots returns the number of scratch buffers.
func (p *ScratchPool) Slots() int {
	return len(p.slots)
}

// WithVariant flips idx in the given slot, calls f with the variant and flips
// the bit back before returning, including when f fails or panics. f must not
// retain the slice.
func (p *ScratchPool) WithVariant(slot int, idx BitIndex, f func(variant []byte) error) error {
	if slot < 0 || slot >= len(p.slots) {
		return fmt.Errorf("%w: %d of %d", ErrSlotOutOfRange, slot, len(p.slots))
	}
	if !idx.Valid(p.source.Len()) {
		return fmt.Errorf("%w: %s in %d-byte buffer", ErrBitIndexOutOfRange, idx, p.source.Len())
	}

	buf := p.slots[slot]
	mask := idx.Mask()
	buf[idx.Byte] ^= mask
	defer func() { buf[idx.Byte] ^= mask }()

	return f(buf)
}

// Pristine reports whether slot currently equals the source buffer.
func (p *ScratchPool) Pristine(slot int) bool {
	if slot < 0 || slot >= len(p.slots) {
		return false
	}
	return p.source.Equal(p.slots[slot])
}
