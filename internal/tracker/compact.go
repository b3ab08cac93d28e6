package tracker

import (
	"encoding/binary"
	"errors"
	"net"
)

// Length of an IPv4 address and port in compact form.
const compactPeerLen = net.IPv4len + 2

// DecodePeersCompact parses a string of concatenated 6-byte IPv4 peer addresses.
func DecodePeersCompact(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%compactPeerLen != 0 {
		return nil, errors.New("invalid peer list length")
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/compactPeerLen)
	for ; len(b) > 0; b = b[compactPeerLen:] {
		ip := make(net.IP, net.IPv4len)
		copy(ip, b)
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(b[net.IPv4len:]))})
	}
	return addrs, nil
}

// EncodePeersCompact is the reverse of DecodePeersCompact. Addresses that are not IPv4 are skipped.
func EncodePeersCompact(addrs []*net.TCPAddr) []byte {
	b := make([]byte, 0, len(addrs)*compactPeerLen)
	for _, a := range addrs {
		ip := a.IP.To4()
		if ip == nil {
			continue
		}
		b = append(b, ip...)
		b = binary.BigEndian.AppendUint16(b, uint16(a.Port))
	}
	return b
}
