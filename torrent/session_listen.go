package torrent

import (
	"net"
	"sync"
	"time"

	"github.com/drizzle-bt/drizzle/internal/btconn"
)

// Max number of incoming connections doing the handshake at the same time.
const maxPendingHandshakes = 64

// acceptor accepts incoming peers on the session's listener. After the handshake the
// connection is handed to the torrent with the info hash the peer asked for.
func (s *Session) acceptor() {
	defer s.wg.Done()
	var wg sync.WaitGroup
	defer wg.Wait()
	limiter := make(chan struct{}, maxPendingHandshakes)
	var tempDelay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeC:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.log.Warningf("accept error: %s; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.log.Errorln("cannot accept connection:", err)
			return
		}
		tempDelay = 0
		select {
		case limiter <- struct{}{}:
		default:
			s.log.Debugln("too many pending handshakes, dropping", conn.RemoteAddr())
			conn.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer func() {
				<-limiter
				wg.Done()
			}()
			s.handleConn(conn)
		}()
	}
}

func (s *Session) handleConn(conn net.Conn) {
	hasInfoHash := func(ih [20]byte) bool {
		return s.getTorrentByInfoHash(ih) != nil
	}
	ext, id, ih, err := btconn.Accept(conn, s.config.PeerHandshakeTimeout, hasInfoHash, ourExtensions, s.peerID)
	if err != nil {
		s.log.Debugf("handshake failed with %s: %s", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	t := s.getTorrentByInfoHash(ih)
	if t == nil {
		conn.Close()
		return
	}
	select {
	case t.torrent.incomingConnC <- &incomingConn{Conn: conn, Ext: ext, ID: id}:
	case <-t.torrent.closeC:
		conn.Close()
	case <-s.closeC:
		conn.Close()
	}
}
