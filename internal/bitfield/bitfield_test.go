package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBytes(t *testing.T) {
	buf := []byte{0x0f}
	assert.Equal(t, "0f", NewBytes(buf, 8).Hex())
	assert.Equal(t, "0e", NewBytes([]byte{0x0f}, 7).Hex())
	assert.Panics(t, func() { NewBytes([]byte{0x0f}, 9) })
}

func TestSetClear(t *testing.T) {
	f := New(10)
	assert.Equal(t, "0000", f.Hex())
	f.Set(0)
	assert.Equal(t, "8000", f.Hex())
	f.Set(9)
	assert.Equal(t, "8040", f.Hex())
	assert.True(t, f.Test(9))
	assert.EqualValues(t, 2, f.Count())
	assert.Equal(t, []uint32{0, 9}, f.Indices())
	f.Clear(0)
	assert.False(t, f.Test(0))
	assert.Panics(t, func() { f.Set(10) })
	f.SetAll()
	assert.True(t, f.All())
	assert.Equal(t, "ffc0", f.Hex())
}

func TestFromWire(t *testing.T) {
	f, err := FromWire([]byte{0xa0}, 3)
	require.NoError(t, err)
	assert.True(t, f.Test(0))
	assert.False(t, f.Test(1))
	assert.True(t, f.Test(2))

	_, err = FromWire([]byte{0xa1}, 3)
	assert.Equal(t, ErrSpareBits, err)

	_, err = FromWire([]byte{0xa0, 0x00}, 3)
	assert.Error(t, err)
}

func TestCopyEqual(t *testing.T) {
	f := New(12)
	f.Set(3)
	c := f.Copy()
	assert.True(t, f.Equal(c))
	c.Set(4)
	assert.False(t, f.Equal(c))
	assert.False(t, f.Equal(New(13)))
}
