// Package btconn performs the BitTorrent handshake on outgoing and incoming connections.
package btconn

import (
	"encoding/binary"
	"io"
)

var pstr = [20]byte{19, 'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

// Reserved bits we set in the handshake.
var (
	// ExtensionBitExtensionProtocol is bit 20, the extension protocol (BEP 10).
	ExtensionBitExtensionProtocol = Extensions{5: 0x10}
	// ExtensionBitFast is bit 62, the fast extension (BEP 6).
	ExtensionBitFast = Extensions{7: 0x04}
)

// Extensions are the 8 reserved bytes of the handshake.
type Extensions [8]byte

// Union returns the bits set in e or o.
func (e Extensions) Union(o Extensions) Extensions {
	for i := range e {
		e[i] |= o[i]
	}
	return e
}

// Has reports whether every bit set in o is also set in e.
func (e Extensions) Has(o Extensions) bool {
	for i := range e {
		if e[i]&o[i] != o[i] {
			return false
		}
	}
	return true
}

func writeHandshake(w io.Writer, ih [20]byte, id [20]byte, ext Extensions) error {
	h := struct {
		Pstr       [20]byte
		Extensions Extensions
		InfoHash   [20]byte
		PeerID     [20]byte
	}{pstr, ext, ih, id}
	return binary.Write(w, binary.BigEndian, h)
}

// readHandshake1 reads until the info hash so the acceptor can look up the torrent before replying.
func readHandshake1(r io.Reader) (ext Extensions, ih [20]byte, err error) {
	var p [20]byte
	if _, err = io.ReadFull(r, p[:]); err != nil {
		return
	}
	if p != pstr {
		err = errInvalidProtocol
		return
	}
	if _, err = io.ReadFull(r, ext[:]); err != nil {
		return
	}
	_, err = io.ReadFull(r, ih[:])
	return
}

func readHandshake2(r io.Reader) (id [20]byte, err error) {
	_, err = io.ReadFull(r, id[:])
	return
}
