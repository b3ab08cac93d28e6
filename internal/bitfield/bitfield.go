// Package bitfield implements the piece bitmap exchanged in BitTorrent "bitfield" messages.
package bitfield

import (
	"encoding/hex"
	"errors"
	"math/bits"
)

// ErrSpareBits is returned by FromWire when the padding bits of the last byte are set.
var ErrSpareBits = errors.New("spare bits set in bitfield")

// Bitfield is a fixed length bitmap. Bit 0 is the most significant bit of the first byte.
type Bitfield struct {
	b      []byte
	length uint32
}

// New returns a zeroed Bitfield of length bits.
func New(length uint32) *Bitfield {
	return &Bitfield{b: make([]byte, (length+7)/8), length: length}
}

// NewBytes wraps b without copying. Unused bits of the last byte are cleared.
// Panics if b is too short to hold length bits.
func NewBytes(b []byte, length uint32) *Bitfield {
	n := (length + 7) / 8
	if uint32(len(b)) < n {
		panic("bitfield: not enough bytes for length")
	}
	f := &Bitfield{b: b[:n], length: length}
	f.clearSpare()
	return f
}

// FromWire copies a bitfield received from a peer and validates its size.
func FromWire(b []byte, length uint32) (*Bitfield, error) {
	if uint32(len(b)) != (length+7)/8 {
		return nil, errors.New("invalid bitfield length")
	}
	f := &Bitfield{b: append([]byte(nil), b...), length: length}
	if mod := length % 8; mod != 0 && b[len(b)-1]&(0xff>>mod) != 0 {
		return nil, ErrSpareBits
	}
	return f, nil
}

func (f *Bitfield) clearSpare() {
	if mod := f.length % 8; mod != 0 {
		f.b[len(f.b)-1] &= ^byte(0xff >> mod)
	}
}

// Bytes returns the underlying bytes. Modifying them modifies f.
func (f *Bitfield) Bytes() []byte { return f.b }

// Len returns the number of bits.
func (f *Bitfield) Len() uint32 { return f.length }

// Hex returns the bytes as a hex string.
func (f *Bitfield) Hex() string { return hex.EncodeToString(f.b) }

// Copy returns a deep copy of f.
func (f *Bitfield) Copy() *Bitfield {
	return &Bitfield{b: append([]byte(nil), f.b...), length: f.length}
}

// Set sets bit i. Panics if i >= f.Len().
func (f *Bitfield) Set(i uint32) {
	f.checkIndex(i)
	f.b[i/8] |= 1 << (7 - i%8)
}

// SetTo sets bit i to value.
func (f *Bitfield) SetTo(i uint32, value bool) {
	if value {
		f.Set(i)
	} else {
		f.Clear(i)
	}
}

// Clear clears bit i. Panics if i >= f.Len().
func (f *Bitfield) Clear(i uint32) {
	f.checkIndex(i)
	f.b[i/8] &^= 1 << (7 - i%8)
}

// SetAll sets every bit.
func (f *Bitfield) SetAll() {
	for i := range f.b {
		f.b[i] = 0xff
	}
	f.clearSpare()
}

// ClearAll clears every bit.
func (f *Bitfield) ClearAll() {
	for i := range f.b {
		f.b[i] = 0
	}
}

// Test reports whether bit i is set. Panics if i >= f.Len().
func (f *Bitfield) Test(i uint32) bool {
	f.checkIndex(i)
	return f.b[i/8]&(1<<(7-i%8)) != 0
}

// Count returns the number of set bits.
func (f *Bitfield) Count() uint32 {
	var n int
	for _, v := range f.b {
		n += bits.OnesCount8(v)
	}
	return uint32(n)
}

// All reports whether every bit is set.
func (f *Bitfield) All() bool { return f.Count() == f.length }

// Equal reports whether f and o have the same length and bits.
func (f *Bitfield) Equal(o *Bitfield) bool {
	if f.length != o.length {
		return false
	}
	for i := range f.b {
		if f.b[i] != o.b[i] {
			return false
		}
	}
	return true
}

// Indices returns the indexes of set bits in ascending order.
func (f *Bitfield) Indices() []uint32 {
	ret := make([]uint32, 0, f.Count())
	for i, v := range f.b {
		for v != 0 {
			j := bits.LeadingZeros8(v)
			ret = append(ret, uint32(i*8+j))
			v &^= 0x80 >> j
		}
	}
	return ret
}

func (f *Bitfield) checkIndex(i uint32) {
	if i >= f.length {
		panic("bitfield: index out of range")
	}
}
