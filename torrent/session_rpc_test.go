package torrent

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/drizzle-bt/drizzle/internal/rpctypes"
	"github.com/drizzle-bt/drizzle/rpcclient"
	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRPC(t *testing.T) (*Session, *httptest.Server, *rpcclient.Client) {
	s := newTestSession(t)
	srv := httptest.NewServer(newRPCServer(s).httpServer.Handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	clt := rpcclient.New(host, p)
	t.Cleanup(func() { _ = clt.Close() })
	return s, srv, clt
}

func errorCode(t *testing.T, err error) int {
	require.Error(t, err)
	return jsonrpc2.ServerError(err).Code
}

func TestRPCAddAndList(t *testing.T) {
	_, _, clt := newTestRPC(t)
	desc, _ := newTestDescriptor(t, "rpc.bin", 2*testPieceLength)

	v, err := clt.ServerVersion()
	require.NoError(t, err)
	assert.Equal(t, Version, v)

	added, err := clt.AddTorrent(bytes.NewReader(desc), rpctypes.AddTorrentOptions{Stopped: true, QueuePriority: 4})
	require.NoError(t, err)
	assert.Equal(t, "rpc.bin", added.Name)
	assert.Equal(t, "paused", added.Status)
	assert.Equal(t, 4, added.QueuePriority)
	assert.False(t, added.Started)

	torrents, err := clt.ListTorrents()
	require.NoError(t, err)
	require.Len(t, torrents, 1)
	assert.Equal(t, added.ID, torrents[0].ID)
	assert.Equal(t, added.InfoHash, torrents[0].InfoHash)
	assert.WithinDuration(t, time.Now(), torrents[0].AddedAt.Time, time.Minute)

	_, err = clt.AddTorrent(bytes.NewReader(desc), rpctypes.AddTorrentOptions{})
	assert.Equal(t, 2, errorCode(t, err))
	_, err = clt.AddTorrent(bytes.NewReader([]byte("garbage")), rpctypes.AddTorrentOptions{})
	assert.Equal(t, 2, errorCode(t, err))

	stats, err := clt.GetTorrentStats(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "rpc.bin", stats.Name)
	assert.EqualValues(t, 2, stats.Pieces.Total)
	assert.Equal(t, -1, stats.ETA)
	require.Len(t, stats.Files, 1)
	assert.Equal(t, "normal", stats.Files[0].Priority)

	require.NoError(t, clt.RemoveTorrent(added.ID, true))
	torrents, err = clt.ListTorrents()
	require.NoError(t, err)
	assert.Empty(t, torrents)
}

func TestRPCErrors(t *testing.T) {
	s, _, clt := newTestRPC(t)
	desc, _ := newTestDescriptor(t, "errors", testPieceLength, testPieceLength)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)

	_, err = clt.GetTorrentStats("missing")
	assert.Equal(t, 1, errorCode(t, err))
	assert.Equal(t, 1, errorCode(t, clt.StartTorrent("missing")))
	assert.Equal(t, 1, errorCode(t, clt.RemoveTorrent("missing", false)))

	assert.Equal(t, 2, errorCode(t, clt.SetFilePriority(tor.ID(), 0, "urgent")))
	assert.Equal(t, 2, errorCode(t, clt.SetFilePriority(tor.ID(), 5, "high")))
	assert.Equal(t, 2, errorCode(t, clt.SetGlobalRateLimit(-1, 0)))
	assert.Equal(t, 2, errorCode(t, clt.AddPeer(tor.ID(), "not an address")))
}

func TestRPCCommands(t *testing.T) {
	s, _, clt := newTestRPC(t)
	desc, _ := newTestDescriptor(t, "commands", testPieceLength, testPieceLength)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)

	require.NoError(t, clt.SetFilePriority(tor.ID(), 1, "skip"))
	assert.Equal(t, PrioritySkip, tor.Stats().Files[1].Priority)

	require.NoError(t, clt.SetQueuePriority(tor.ID(), 7))
	assert.Equal(t, 7, tor.QueuePriority())

	require.NoError(t, clt.SetTorrentSpeedLimits(tor.ID(), 100, 200))
	d, u := tor.SpeedLimits()
	assert.EqualValues(t, 100, d)
	assert.EqualValues(t, 200, u)

	require.NoError(t, clt.SetGlobalRateLimit(1<<20, 0))
	ss, err := clt.GetSessionStats()
	require.NoError(t, err)
	assert.EqualValues(t, 1<<20, ss.LimitDownload)
	assert.Equal(t, 1, ss.Torrents)
	assert.Equal(t, s.Port(), ss.Port)

	require.NoError(t, clt.AddPeer(tor.ID(), "127.0.0.1:6881"))

	require.NoError(t, clt.StartTorrent(tor.ID()))
	assert.True(t, tor.Started())
	require.NoError(t, clt.PauseTorrent(tor.ID()))
	assert.False(t, tor.Started())
	assert.Equal(t, Paused, tor.Status())

	trackers, err := clt.GetTorrentTrackers(tor.ID())
	require.NoError(t, err)
	assert.Empty(t, trackers)
	peers, err := clt.GetTorrentPeers(tor.ID())
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestRPCEvents(t *testing.T) {
	s, _, clt := newTestRPC(t)

	done := make(chan struct{})
	defer close(done)
	eventC, _, err := clt.Events(done)
	require.NoError(t, err)

	// The subscription is registered after the websocket handshake completes on the server.
	var tor *Torrent
	require.Eventually(t, func() bool {
		s.events.m.Lock()
		defer s.events.m.Unlock()
		return len(s.events.subscribers) == 1
	}, testTimeout, testTick)

	tor, err = s.AddURI(testMagnet(7), nil)
	require.NoError(t, err)

	timeout := time.After(testTimeout)
	for {
		select {
		case e := <-eventC:
			if e.TorrentID == tor.ID() && e.Type == EventStatusChanged.String() && e.Status == Metadata.String() {
				return
			}
		case <-timeout:
			t.Fatal("status change event is not received")
		}
	}
}

func TestRPCMetrics(t *testing.T) {
	s, srv, _ := newTestRPC(t)
	_, err := s.AddURI(testMagnet(8), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "drizzle_session_torrents 1")
	assert.Contains(t, string(b), "drizzle_session_speed_download_per_second")
}
