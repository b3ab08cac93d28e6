package magnet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hash = "f60cc95e3566af84c1ab223fd4ce80fa88e6438a"

func TestParseHex(t *testing.T) {
	u := "magnet:?xt=urn:btih:" + hash + "&dn=sample_torrent&tr=http%3A%2F%2Ftracker.example%3A2710%2Fannounce"
	m, err := New(u)
	require.NoError(t, err)
	assert.Equal(t, hash, hex.EncodeToString(m.InfoHash[:]))
	assert.Equal(t, "sample_torrent", m.Name)
	assert.Equal(t, [][]string{{"http://tracker.example:2710/announce"}}, m.Trackers)
	assert.True(t, strings.EqualFold(u, m.String()))
}

func TestParseBase32(t *testing.T) {
	m, err := New("magnet:?xt=urn:btih:6YGMSXRVM2XYJQNLEI75JTUA7KEOMQ4K")
	require.NoError(t, err)
	assert.Equal(t, hash, hex.EncodeToString(m.InfoHash[:]))
}

func TestParseMultihash(t *testing.T) {
	// 0x11 = sha1, 0x14 = 20 bytes
	m, err := New("magnet:?xt=urn:btmh:1114" + hash)
	require.NoError(t, err)
	assert.Equal(t, hash, hex.EncodeToString(m.InfoHash[:]))
}

func TestTrackerTiers(t *testing.T) {
	m, err := New("magnet:?xt=urn:btih:" + hash + "&tr.1=http://b&tr.0=http://a&tr=http://c&x.pe=1.2.3.4:5")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"http://c"}, {"http://a"}, {"http://b"}}, m.Trackers)
	assert.Equal(t, []string{"1.2.3.4:5"}, m.Peers)
}

func TestInvalid(t *testing.T) {
	for _, s := range []string{
		"http://example.com",
		"magnet:?dn=foo",
		"magnet:?xt=urn:btih:abc",
		"magnet:?xt=urn:sha1:" + hash,
	} {
		_, err := New(s)
		assert.Error(t, err, s)
	}
}
