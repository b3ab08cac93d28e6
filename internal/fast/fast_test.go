package fast

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func infoHash(t *testing.T, s string) (ih [20]byte) {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	copy(ih[:], b)
	return
}

func TestAllowedSetReferenceValues(t *testing.T) {
	ih := infoHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	ip := net.IPv4(80, 4, 4, 200)
	assert.Equal(t, []uint32{1059, 431, 808, 1217, 287, 376, 1188}, AllowedSet(7, 1313, ih, ip))
	assert.Equal(t, []uint32{1059, 431, 808, 1217, 287, 376, 1188, 353, 508}, AllowedSet(9, 1313, ih, ip))
}

func TestAllowedSetSameNetwork(t *testing.T) {
	ih := infoHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	a := AllowedSet(10, 500, ih, net.IPv4(10, 0, 0, 1))
	b := AllowedSet(10, 500, ih, net.IPv4(10, 0, 0, 254))
	assert.Equal(t, a, b)
}

func TestAllowedSetSmallTorrent(t *testing.T) {
	ih := infoHash(t, "0102030405060708090a0b0c0d0e0f1011121314")
	set := AllowedSet(10, 3, ih, net.IPv4(1, 2, 3, 4))
	assert.ElementsMatch(t, []uint32{0, 1, 2}, set)
}

func TestAllowedSetIPv6(t *testing.T) {
	ih := infoHash(t, "0102030405060708090a0b0c0d0e0f1011121314")
	assert.Empty(t, AllowedSet(10, 100, ih, net.ParseIP("2001:db8::1")))
}
