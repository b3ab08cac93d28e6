// Package fast computes the allowed fast set of BEP 6.
// Peers may request pieces in the set even while they are choked.
package fast

import (
	"crypto/sha1" // nolint: gosec
	"encoding/binary"
	"net"
)

// AllowedSet returns up to k piece indexes a peer at ip may download while choked.
// The result depends only on the /24 network of ip and the info hash, so every
// client computes the same set. IPv6 peers get an empty set.
func AllowedSet(k int, numPieces uint32, infoHash [20]byte, ip net.IP) []uint32 {
	ip4 := ip.To4()
	if ip4 == nil || numPieces == 0 || k <= 0 {
		return nil
	}
	if uint32(k) > numPieces {
		k = int(numPieces)
	}
	seed := make([]byte, 0, 24)
	seed = append(seed, ip4.Mask(net.CIDRMask(24, 32))...)
	seed = append(seed, infoHash[:]...)

	set := make([]uint32, 0, k)
	seen := make(map[uint32]struct{}, k)
	for len(set) < k {
		sum := sha1.Sum(seed) // nolint: gosec
		seed = sum[:]
		for off := 0; off+4 <= len(sum) && len(set) < k; off += 4 {
			index := binary.BigEndian.Uint32(sum[off:]) % numPieces
			if _, ok := seen[index]; ok {
				continue
			}
			seen[index] = struct{}{}
			set = append(set, index)
		}
	}
	return set
}
