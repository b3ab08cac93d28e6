package announcer

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/tracker"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracker struct {
	m      sync.Mutex
	events []tracker.Event
	err    error
	peers  []*net.TCPAddr
}

func (t *recordingTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	t.m.Lock()
	defer t.m.Unlock()
	t.events = append(t.events, req.Event)
	if t.err != nil {
		return nil, t.err
	}
	return &tracker.AnnounceResponse{Interval: time.Hour, Seeders: 2, Leechers: 7, Peers: t.peers}, nil
}

func (t *recordingTracker) URL() string { return "http://tracker.test/announce" }

func (t *recordingTracker) Events() []tracker.Event {
	t.m.Lock()
	defer t.m.Unlock()
	return append([]tracker.Event(nil), t.events...)
}

func TestPeriodicalAnnouncer(t *testing.T) {
	defer leaktest.Check(t)()
	trk := &recordingTracker{peers: []*net.TCPAddr{{IP: net.IPv4(1, 2, 3, 4), Port: 5}}}
	completedC := make(chan struct{})
	newPeers := make(chan []*net.TCPAddr)
	getTorrent := func() tracker.Transfer { return tracker.Transfer{Port: 6881} }
	a := NewPeriodicalAnnouncer(trk, 50, time.Minute, getTorrent, completedC, newPeers, logger.New("test"))
	go a.Run()

	select {
	case peers := <-newPeers:
		require.Len(t, peers, 1)
		assert.Equal(t, "1.2.3.4:5", peers[0].String())
	case <-time.After(5 * time.Second):
		t.Fatal("no peers")
	}
	stats := a.Stats()
	assert.Equal(t, Working, stats.Status)
	assert.Equal(t, 2, stats.Seeders)
	assert.Equal(t, 7, stats.Leechers)

	close(completedC)
	assert.Eventually(t, func() bool { return len(trk.Events()) == 2 }, 5*time.Second, 10*time.Millisecond)
	<-newPeers
	a.Close()
	assert.Equal(t, []tracker.Event{tracker.EventStarted, tracker.EventCompleted}, trk.Events())
}

func TestAnnounceErrorIsReported(t *testing.T) {
	defer leaktest.Check(t)()
	trk := &recordingTracker{err: &tracker.Error{FailureReason: "torrent not registered"}}
	a := NewPeriodicalAnnouncer(trk, 50, time.Minute, func() tracker.Transfer { return tracker.Transfer{} }, make(chan struct{}), make(chan []*net.TCPAddr), logger.New("test"))
	go a.Run()
	defer a.Close()
	assert.Eventually(t, func() bool { return a.Stats().Status == NotWorking }, 5*time.Second, 10*time.Millisecond)
	stats := a.Stats()
	require.NotNil(t, stats.Error)
	assert.Equal(t, "announce error: torrent not registered", stats.Error.Message)
	assert.False(t, stats.Error.Unknown)
}

func TestStopAnnouncer(t *testing.T) {
	defer leaktest.Check(t)()
	t1, t2 := &recordingTracker{}, &recordingTracker{err: errors.New("boom")}
	resultC := make(chan struct{})
	a := NewStopAnnouncer([]tracker.Tracker{t1, t2}, tracker.Transfer{}, time.Second, resultC, logger.New("test"))
	go a.Run()
	<-resultC
	a.Close()
	assert.Equal(t, []tracker.Event{tracker.EventStopped}, t1.Events())
	assert.Equal(t, []tracker.Event{tracker.EventStopped}, t2.Events())
}
