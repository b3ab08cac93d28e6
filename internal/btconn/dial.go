package btconn

import (
	"context"
	"net"
	"time"
)

// Dial connects to addr and performs the handshake for infoHash.
// connected, if not nil, is called when the TCP connection is up and the handshake begins.
// The returned connection has no deadline set.
func Dial(ctx context.Context, addr string, dialTimeout, handshakeTimeout time.Duration, ourExt Extensions, infoHash, ourID [20]byte,
	connected func()) (conn net.Conn, peerExt Extensions, peerID [20]byte, err error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err = dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return
	}
	if connected != nil {
		connected()
	}
	defer func() {
		if err != nil {
			conn.Close()
			conn = nil
		}
	}()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peerExt, peerID, err = Handshake(conn, handshakeTimeout, ourExt, infoHash, ourID)
	return
}

// Handshake performs the outgoing side of the handshake on an established connection.
func Handshake(conn net.Conn, timeout time.Duration, ourExt Extensions, infoHash, ourID [20]byte) (
	peerExt Extensions, peerID [20]byte, err error) {
	if err = conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return
	}
	if err = writeHandshake(conn, infoHash, ourID, ourExt); err != nil {
		return
	}
	var ih [20]byte
	peerExt, ih, err = readHandshake1(conn)
	if err != nil {
		return
	}
	if ih != infoHash {
		err = errInvalidInfoHash
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
