package piece

import (
	"bytes"
	"testing"

	"github.com/drizzle-bt/drizzle/internal/filesection"
	"github.com/drizzle-bt/drizzle/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile []byte

func (m memFile) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m[off:]), nil }
func (m memFile) WriteAt(p []byte, off int64) (int, error) { return copy(m[off:], p), nil }

func TestNewPieces(t *testing.T) {
	files := []metainfo.FileDict{
		{Length: 5, Path: []string{"a"}},
		{Length: 0, Path: []string{"empty"}},
		{Length: 40000, Path: []string{"b"}},
	}
	data := bytes.Repeat([]byte{7}, 40005)
	b, err := metainfo.CreateInfo("t", 32768, files, 0, bytes.NewReader(data))
	require.NoError(t, err)
	info, err := metainfo.NewInfo(b)
	require.NoError(t, err)

	mem := []filesection.ReadWriterAt{make(memFile, 5), make(memFile, 0), make(memFile, 40000)}
	pieces := NewPieces(info, mem)
	require.Len(t, pieces, 2)
	assert.Equal(t, []int{0, 2}, pieces[0].Files)
	assert.Equal(t, []int{2}, pieces[1].Files)
	assert.EqualValues(t, 40005-32768, pieces[1].Length)
	assert.EqualValues(t, 2, pieces[0].NumBlocks())

	for i := range pieces {
		p := &pieces[i]
		_, err = p.Data.WriteAt(data[int64(p.Index)*32768:int64(p.Index)*32768+int64(p.Length)], 0)
		require.NoError(t, err)
		ok, err := p.Verify(make([]byte, 32768))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	blk, ok := pieces[1].FindBlock(0, 7237)
	assert.True(t, ok)
	assert.EqualValues(t, 7237, blk.Length)
	_, ok = pieces[0].FindBlock(100, BlockSize)
	assert.False(t, ok)
}
