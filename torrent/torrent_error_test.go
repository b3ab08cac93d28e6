package torrent

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drizzle-bt/drizzle/internal/btconn"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corruptFile(t *testing.T, s *Session, tor *Torrent, name string, off int64) {
	p := filepath.Join(s.config.DataDir, tor.ID(), name)
	f, err := os.OpenFile(p, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("corrupt"), off)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestRecheckCorruptionThreshold(t *testing.T) {
	desc, files := newTestDescriptor(t, "threshold.bin", 4*testPieceLength)
	cfg := newTestConfig(t)
	cfg.CorruptionThreshold = 0
	s := newTestSessionConfig(t, cfg)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	writeTestFiles(t, s, tor, files)
	require.NoError(t, tor.Start())
	waitStatus(t, tor, Seeding)

	corruptFile(t, s, tor, "threshold.bin", testPieceLength+10)
	tor.Recheck()
	waitStatus(t, tor, Error)

	stats := tor.Stats()
	var cerr *CorruptionError
	require.True(t, errors.As(stats.Error, &cerr), "error is %v", stats.Error)
	assert.Equal(t, 1, cerr.Corruptions)
	assert.Equal(t, 0, cerr.Threshold)
	assert.EqualValues(t, 3, stats.Pieces.Verified)
	assert.Equal(t, 0, stats.Peers.Total)

	// Start clears the error and the corruption count, then downloads the missing piece.
	require.NoError(t, tor.Start())
	waitStatus(t, tor, Downloading)
	stats = tor.Stats()
	assert.NoError(t, stats.Error)
	assert.Equal(t, 0, stats.Corruptions)
}

func TestCorruptPeerNotMarkedBeforeLimit(t *testing.T) {
	desc, files := newTestDescriptor(t, "limit.bin", 2*testPieceLength)
	seeder, seederTor := newSeeder(t, desc, files)
	corruptFile(t, seeder, seederTor, "limit.bin", 10)

	cfg := newTestConfig(t)
	cfg.MaxPieceHashFailures = 1000
	s := newTestSessionConfig(t, cfg)
	tor, err := s.AddTorrent(bytes.NewReader(desc), nil)
	require.NoError(t, err)
	require.NoError(t, tor.AddPeer(peerAddr(seeder)))

	require.Eventually(t, func() bool { return tor.Stats().Corruptions >= 3 }, testTimeout, testTick)
	stats := tor.Stats()
	assert.Equal(t, Downloading, stats.Status)
	assert.Equal(t, 0, stats.Peers.Unreliable, "a lone sender is kept until the piece fails enough times")
	assert.Greater(t, stats.Bytes.Wasted, int64(0))
}

func TestCorruptPeerMarkedUnreliable(t *testing.T) {
	desc, files := newTestDescriptor(t, "unreliable.bin", 2*testPieceLength)
	seeder, seederTor := newSeeder(t, desc, files)
	corruptFile(t, seeder, seederTor, "unreliable.bin", 10)

	cfg := newTestConfig(t)
	cfg.MaxPieceHashFailures = 2
	s := newTestSessionConfig(t, cfg)
	tor, err := s.AddTorrent(bytes.NewReader(desc), nil)
	require.NoError(t, err)
	require.NoError(t, tor.AddPeer(peerAddr(seeder)))

	require.Eventually(t, func() bool { return tor.Stats().Peers.Unreliable == 1 }, testTimeout, testTick)
	stats := tor.Stats()
	assert.GreaterOrEqual(t, stats.Corruptions, 2)
	assert.Equal(t, Downloading, stats.Status)
	peers := tor.Peers()
	require.Len(t, peers, 1)
	assert.True(t, peers[0].Unreliable)
	// The valid piece is still accepted from the same peer.
	require.Eventually(t, func() bool { return tor.Stats().Pieces.Verified == 1 }, testTimeout, testTick)
}

func TestCorruptPeerErrorsTorrent(t *testing.T) {
	desc, files := newTestDescriptor(t, "corrupt.bin", 2*testPieceLength)
	seeder, seederTor := newSeeder(t, desc, files)
	corruptFile(t, seeder, seederTor, "corrupt.bin", testPieceLength+10)

	cfg := newTestConfig(t)
	cfg.CorruptionThreshold = 2
	s := newTestSessionConfig(t, cfg)
	errC := make(chan string, 1)
	unsubscribe := s.SubscribeEvents(func(e Event) {
		if e.Type == EventError {
			select {
			case errC <- e.Error:
			default:
			}
		}
	})
	defer unsubscribe()
	tor, err := s.AddTorrent(bytes.NewReader(desc), nil)
	require.NoError(t, err)
	require.NoError(t, tor.AddPeer(peerAddr(seeder)))

	waitStatus(t, tor, Error)
	stats := tor.Stats()
	var cerr *CorruptionError
	require.True(t, errors.As(stats.Error, &cerr), "error is %v", stats.Error)
	assert.Equal(t, 3, cerr.Corruptions)
	assert.Equal(t, 2, cerr.Threshold)
	assert.Equal(t, 0, stats.Peers.Total)
	assert.EqualValues(t, 3, s.Stats().PiecesFailed)
	select {
	case msg := <-errC:
		assert.Equal(t, cerr.Error(), msg)
	case <-time.After(testTimeout):
		t.Fatal("error event not published")
	}

	// Once the seeder has good data, Start resumes the download.
	writeTestFiles(t, seeder, seederTor, files)
	require.NoError(t, tor.Start())
	waitStatus(t, tor, Downloading)
	require.NoError(t, tor.AddPeer(peerAddr(seeder)))
	waitStatus(t, tor, Seeding)
	assertFiles(t, s, tor, files)
}

func TestDiskErrorRecoveredByStart(t *testing.T) {
	desc, files := newTestDescriptor(t, "disk.bin", 2*testPieceLength)
	s := newTestSession(t)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)

	// A directory where the data file belongs cannot be opened for writing.
	p := filepath.Join(s.config.DataDir, tor.ID(), "disk.bin")
	require.NoError(t, os.MkdirAll(p, 0750))
	require.NoError(t, tor.Start())
	waitStatus(t, tor, Error)

	var derr *DiskError
	require.True(t, errors.As(tor.Stats().Error, &derr), "error is %v", tor.Stats().Error)
	assert.Contains(t, derr.Op, "disk.bin")
	assert.True(t, tor.Started(), "error state keeps the torrent in the queue")

	require.NoError(t, os.Remove(p))
	writeTestFiles(t, s, tor, files)
	require.NoError(t, tor.Start())
	waitStatus(t, tor, Seeding)
	assert.NoError(t, tor.Stats().Error)
}

// silentPeer completes the handshake, offers every piece and never sends a block.
type silentPeer struct {
	l         net.Listener
	requested chan struct{}
}

func newSilentPeer(t *testing.T) *silentPeer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &silentPeer{l: l, requested: make(chan struct{}, 1)}
	t.Cleanup(func() { l.Close() })
	go p.serve()
	return p
}

func (p *silentPeer) Addr() string { return p.l.Addr().String() }

func (p *silentPeer) serve() {
	for {
		conn, err := p.l.Accept()
		if err != nil {
			return
		}
		go p.handle(conn)
	}
}

func (p *silentPeer) handle(conn net.Conn) {
	defer conn.Close()
	id := [20]byte{'-', 'S', 'I', '0', '0', '0', '1', '-'}
	hasInfoHash := func([20]byte) bool { return true }
	if _, _, _, err := btconn.Accept(conn, testTimeout, hasInfoHash, btconn.ExtensionBitFast, id); err != nil {
		return
	}
	if peerprotocol.WriteMessage(conn, peerprotocol.HaveAllMessage{}) != nil {
		return
	}
	if peerprotocol.WriteMessage(conn, peerprotocol.UnchokeMessage{}) != nil {
		return
	}
	var length [4]byte
	for {
		if _, err := io.ReadFull(conn, length[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(length[:])
		if n == 0 {
			continue
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		if peerprotocol.MessageID(buf[0]) == peerprotocol.Request {
			select {
			case p.requested <- struct{}{}:
			default:
			}
		}
	}
}

func TestRequestReassignedAfterTimeout(t *testing.T) {
	desc, files := newTestDescriptor(t, "timeout.bin", 3*testPieceLength)
	seeder, _ := newSeeder(t, desc, files)
	silent := newSilentPeer(t)

	cfg := newTestConfig(t)
	cfg.RequestTimeout = 500 * time.Millisecond
	cfg.MaxRequestRetries = 1
	s := newTestSessionConfig(t, cfg)
	tor, err := s.AddTorrent(bytes.NewReader(desc), nil)
	require.NoError(t, err)
	require.NoError(t, tor.AddPeer(silent.Addr()))

	select {
	case <-silent.requested:
	case <-time.After(testTimeout):
		t.Fatal("no block requested from silent peer")
	}
	require.Eventually(t, func() bool {
		for _, p := range tor.Peers() {
			if p.Addr == silent.Addr() && p.Snubbed {
				return true
			}
		}
		return false
	}, testTimeout, testTick)

	// Blocks taken back from the silent peer are downloaded from the seeder.
	require.NoError(t, tor.AddPeer(peerAddr(seeder)))
	waitStatus(t, tor, Seeding)
	assertFiles(t, s, tor, files)
	assert.Greater(t, tor.Stats().Timeouts, 0)
}

func TestProtocolMismatchNotRedialed(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	var accepts int32
	closedC := make(chan struct{}, 1)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&accepts, 1)
			_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n"))
			_, _ = io.Copy(io.Discard, conn)
			conn.Close()
			closedC <- struct{}{}
		}
	}()

	desc, _ := newTestDescriptor(t, "mismatch.bin", testPieceLength)
	s := newTestSession(t)
	tor, err := s.AddTorrent(bytes.NewReader(desc), nil)
	require.NoError(t, err)
	waitStatus(t, tor, Downloading)

	require.NoError(t, tor.AddPeer(l.Addr().String()))
	select {
	case <-closedC:
	case <-time.After(testTimeout):
		t.Fatal("peer was not dialed")
	}
	require.NoError(t, tor.AddPeer(l.Addr().String()))
	require.NoError(t, tor.AddPeer(l.Addr().String()))
	assert.Never(t, func() bool { return atomic.LoadInt32(&accepts) > 1 }, time.Second, testTick)
	assert.Equal(t, 0, tor.Stats().Peers.Total)
}

func TestHandshakingPeerCounted(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Never answer the handshake.
		_, _ = io.Copy(io.Discard, conn)
	}()

	desc, _ := newTestDescriptor(t, "stalled.bin", testPieceLength)
	s := newTestSession(t)
	tor, err := s.AddTorrent(bytes.NewReader(desc), nil)
	require.NoError(t, err)
	waitStatus(t, tor, Downloading)
	require.NoError(t, tor.AddPeer(l.Addr().String()))

	require.Eventually(t, func() bool { return tor.Stats().Peers.Handshaking == 1 }, testTimeout, testTick)
	stats := tor.Stats()
	assert.Equal(t, 0, stats.Peers.Connecting)
	assert.Equal(t, 0, stats.Peers.Total)
}
