package torrent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func TestWatchDir(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.WatchDir = filepath.Join(t.TempDir(), "watch")
	require.NoError(t, os.MkdirAll(cfg.WatchDir, 0750))

	// Files present before the session starts are added too.
	existing, _ := newTestDescriptor(t, "existing.bin", testPieceLength)
	existingPath := filepath.Join(cfg.WatchDir, "existing.torrent")
	require.NoError(t, os.WriteFile(existingPath, existing, 0640))

	s := newTestSessionConfig(t, cfg)

	require.Eventually(t, func() bool { return fileExists(existingPath + addedSuffix) }, testTimeout, testTick)
	require.Len(t, s.ListTorrents(), 1)

	dropped, _ := newTestDescriptor(t, "dropped.bin", 2*testPieceLength)
	droppedPath := filepath.Join(cfg.WatchDir, "dropped.torrent")
	require.NoError(t, os.WriteFile(droppedPath, dropped, 0640))
	invalidPath := filepath.Join(cfg.WatchDir, "invalid.torrent")
	require.NoError(t, os.WriteFile(invalidPath, []byte("not bencode"), 0640))
	otherPath := filepath.Join(cfg.WatchDir, "notes.txt")
	require.NoError(t, os.WriteFile(otherPath, []byte("ignored"), 0640))

	require.Eventually(t, func() bool {
		return fileExists(droppedPath+addedSuffix) && fileExists(invalidPath+invalidSuffix)
	}, testTimeout, testTick)
	assert.Len(t, s.ListTorrents(), 2)
	assert.False(t, fileExists(droppedPath))
	assert.True(t, fileExists(otherPath))

	var names []string
	for _, tor := range s.ListTorrents() {
		names = append(names, tor.Name())
	}
	assert.ElementsMatch(t, []string{"existing.bin", "dropped.bin"}, names)
}
