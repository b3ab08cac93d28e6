package filestorage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	f, exists, err := s.Open(filepath.Join("a", "b", "c.bin"), 100)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = f.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, exists, err = s.Open(filepath.Join("a", "b", "c.bin"), 100)
	require.NoError(t, err)
	assert.True(t, exists)
	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	fi, err := os.Stat(filepath.Join(dir, "a", "b", "c.bin"))
	require.NoError(t, err)
	assert.EqualValues(t, 100, fi.Size())
	require.NoError(t, f.Close())

	require.NoError(t, s.Remove(filepath.Join("a", "b", "c.bin")))
	_, err = os.Stat(filepath.Join(dir, "a"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestOutsideDest(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, _, err = s.Open("../escape", 1)
	assert.Equal(t, errOutsideDest, err)
}
