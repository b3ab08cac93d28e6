package btconn

import (
	"net"
	"time"
)

// Accept performs the incoming side of the handshake.
// hasInfoHash is consulted before we reply so unknown torrents are dropped early.
func Accept(conn net.Conn, timeout time.Duration, hasInfoHash func([20]byte) bool, ourExt Extensions, ourID [20]byte) (
	peerExt Extensions, peerID, infoHash [20]byte, err error) {
	if err = conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return
	}
	peerExt, infoHash, err = readHandshake1(conn)
	if err != nil {
		return
	}
	if !hasInfoHash(infoHash) {
		err = errInvalidInfoHash
		return
	}
	if err = writeHandshake(conn, infoHash, ourID, ourExt); err != nil {
		return
	}
	peerID, err = readHandshake2(conn)
	if err != nil {
		return
	}
	if peerID == ourID {
		err = errOwnConnection
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}
