package metainfo

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func TestCreateAndParse(t *testing.T) {
	data := bytes.Repeat([]byte("drizzle"), 10000) // 70000 bytes
	b, err := CreateInfo("sample.bin", 32<<10, nil, int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	desc, err := Encode(b, [][]string{{"http://tracker.example/announce"}, {"udp://ignored:1337"}}, "test", "drizzle")
	require.NoError(t, err)

	mi, err := New(bytes.NewReader(desc))
	require.NoError(t, err)
	assert.Equal(t, "sample.bin", mi.Info.Name)
	assert.EqualValues(t, 3, mi.Info.NumPieces)
	assert.EqualValues(t, 70000, mi.Info.TotalLength)
	assert.EqualValues(t, 70000-2*(32<<10), mi.Info.PieceSize(2))
	assert.EqualValues(t, 32<<10, mi.Info.PieceSize(0))
	assert.Equal(t, [][]string{{"http://tracker.example/announce"}}, mi.AnnounceList)
	assert.Equal(t, sha1.Sum(b), mi.Info.Hash) // nolint: gosec

	first := sha1.Sum(data[:32<<10]) // nolint: gosec
	assert.Equal(t, first[:], mi.Info.HashOf(0))
}

func TestMultiFile(t *testing.T) {
	files := []FileDict{
		{Length: 10, Path: []string{"a.txt"}},
		{Length: 20, Path: []string{"sub", "b.txt"}},
	}
	b, err := CreateInfo("dir", 16, files, 0, bytes.NewReader(make([]byte, 30)))
	require.NoError(t, err)
	info, err := NewInfo(b)
	require.NoError(t, err)
	assert.True(t, info.MultiFile())
	assert.EqualValues(t, 2, info.NumPieces)
	fs := info.GetFiles()
	require.Len(t, fs, 2)
	assert.Equal(t, "dir/sub/b.txt", fs[1].Path)
	assert.EqualValues(t, 10, fs[1].Offset)
}

func TestRejectInvalid(t *testing.T) {
	files := []FileDict{{Length: 4, Path: []string{"..", "etc"}}}
	b, err := CreateInfo("x", 16, files, 0, bytes.NewReader(make([]byte, 4)))
	require.NoError(t, err)
	_, err = NewInfo(b)
	assert.Error(t, err)

	bad, err := bencode.EncodeBytes(map[string]interface{}{
		"name":         "x",
		"piece length": 16,
		"pieces":       "short",
		"length":       4,
	})
	require.NoError(t, err)
	_, err = NewInfo(bad)
	assert.Equal(t, errInvalidPieceData, err)

	_, err = New(bytes.NewReader([]byte("d8:announce3:fooe")))
	assert.Equal(t, ErrNoInfo, err)

	_, err = New(bytes.NewReader([]byte("not bencode")))
	assert.Error(t, err)
}
