package filesection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile []byte

func (m memFile) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m[off:]), nil }
func (m memFile) WriteAt(p []byte, off int64) (int, error) { return copy(m[off:], p), nil }

func TestCrossBoundary(t *testing.T) {
	a, b := make(memFile, 10), make(memFile, 10)
	s := Sections{
		{File: a, Offset: 6, Length: 4},
		{File: b, Offset: 0, Length: 5},
	}
	assert.EqualValues(t, 9, s.Length())

	n, err := s.WriteAt([]byte("xyzw"), 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "xy", string(a[8:10]))
	assert.Equal(t, "zw", string(b[0:2]))

	buf := make([]byte, 9)
	_, err = s.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 'x', 'y', 'z', 'w', 0, 0, 0}, buf)

	_, err = s.ReadAt(make([]byte, 2), 8)
	assert.Equal(t, errOutOfRange, err)
}
