package torrent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, *c)
}

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	data := `
port: 6881
max-active-downloads: 5
queue-order: recent
speed-limit-download: 1048576
request-timeout: 45s
watch-dir: /tmp/watch
`
	require.NoError(t, os.WriteFile(p, []byte(data), 0640))

	c, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 6881, c.Port)
	assert.Equal(t, 5, c.MaxActiveDownloads)
	assert.Equal(t, QueueOrderRecent, c.QueueOrder)
	assert.EqualValues(t, 1<<20, c.SpeedLimitDownload)
	assert.Equal(t, 45*time.Second, c.RequestTimeout)
	assert.Equal(t, "/tmp/watch", c.WatchDir)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultConfig.MaxPeers, c.MaxPeers)
	assert.Equal(t, DefaultConfig.RPCPort, c.RPCPort)
}

func TestLoadConfigInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("port: [1, 2"), 0640))
	_, err := LoadConfig(p)
	assert.Error(t, err)
}
