package torrent

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortQueue(t *testing.T) {
	now := time.Now()
	entries := []queueEntry{
		{torrent: &Torrent{torrent: &torrent{id: "a"}}, queuePriority: 0, addedAt: now.Add(-2 * time.Hour)},
		{torrent: &Torrent{torrent: &torrent{id: "b"}}, queuePriority: 5, addedAt: now.Add(-3 * time.Hour)},
		{torrent: &Torrent{torrent: &torrent{id: "c"}}, queuePriority: 0, addedAt: now},
		{torrent: &Torrent{torrent: &torrent{id: "d"}}, queuePriority: 0, addedAt: now},
	}
	ids := func() []string {
		var ret []string
		for _, e := range entries {
			ret = append(ret, e.torrent.ID())
		}
		return ret
	}

	sortQueue(entries, QueueOrderPriority)
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids())

	sortQueue(entries, QueueOrderRecent)
	assert.Equal(t, []string{"c", "d", "a", "b"}, ids())
}

func TestNextAddedAtIsDistinct(t *testing.T) {
	s := newTestSession(t)
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	a := s.nextAddedAt(now)
	b := s.nextAddedAt(now)
	c := s.nextAddedAt(now.Add(-time.Hour))
	assert.True(t, a.Equal(now))
	assert.True(t, b.After(a))
	assert.True(t, c.After(b), "clock going back does not reorder the queue")
}

func TestQueueOrderRecentSameSecond(t *testing.T) {
	cfg := newTestConfig(t)
	s, err := NewSession(cfg)
	require.NoError(t, err)
	var added []*Torrent
	for i := 10; i < 15; i++ {
		tor, err := s.AddURI(testMagnet(i), &AddTorrentOptions{Stopped: true})
		require.NoError(t, err)
		added = append(added, tor)
	}
	entries := make([]queueEntry, len(added))
	for i, tor := range added {
		entries[i] = queueEntry{torrent: tor, addedAt: tor.AddedAt()}
	}
	sortQueue(entries, QueueOrderRecent)
	for i, e := range entries {
		assert.Equal(t, added[len(added)-1-i].ID(), e.torrent.ID(), "newest torrent comes first")
	}

	// Order survives a restart.
	require.NoError(t, s.Close())
	s = newTestSessionConfig(t, cfg)
	for _, tor := range added {
		loaded := s.GetTorrent(tor.ID())
		require.NotNil(t, loaded)
		assert.True(t, tor.AddedAt().Equal(loaded.AddedAt()))
	}
	next, err := s.AddURI(testMagnet(20), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	assert.True(t, next.AddedAt().After(added[len(added)-1].AddedAt()))
}

func TestQueueEntryActive(t *testing.T) {
	assert.True(t, queueEntry{status: Checking}.active())
	assert.True(t, queueEntry{status: Metadata}.active())
	assert.True(t, queueEntry{status: Downloading}.active())
	assert.False(t, queueEntry{status: Seeding, completed: true}.active())
	assert.False(t, queueEntry{status: Checking, completed: true}.active())
	assert.False(t, queueEntry{status: Queued}.active())
	assert.False(t, queueEntry{status: Error}.active())
}

func testMagnet(i int) string {
	return fmt.Sprintf("magnet:?xt=urn:btih:%040x&dn=queued-%d", i+1, i)
}

func TestQueueMaxActiveDownloads(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxActiveDownloads = 1
	s := newTestSessionConfig(t, cfg)

	// Magnet links without peers stay in Metadata status and hold their slot.
	high, err := s.AddURI(testMagnet(0), &AddTorrentOptions{QueuePriority: 2})
	require.NoError(t, err)
	low, err := s.AddURI(testMagnet(1), &AddTorrentOptions{QueuePriority: 1})
	require.NoError(t, err)
	paused, err := s.AddURI(testMagnet(2), &AddTorrentOptions{Stopped: true, QueuePriority: 10})
	require.NoError(t, err)

	waitStatus(t, high, Metadata)
	waitStatus(t, low, Queued)
	assert.Equal(t, Paused, paused.Status())
	assert.Equal(t, 1, s.Stats().ActiveDownloads)

	// Raising the priority of a queued torrent does not preempt the running one.
	require.NoError(t, low.SetQueuePriority(5))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Metadata, high.Status())
	assert.Equal(t, Queued, low.Status())

	require.NoError(t, high.Pause())
	waitStatus(t, low, Metadata)
	assert.Equal(t, Paused, high.Status())

	// A started torrent with higher priority takes the next free slot.
	require.NoError(t, paused.Start())
	waitStatus(t, paused, Queued)
	require.NoError(t, s.RemoveTorrent(low.ID(), false))
	waitStatus(t, paused, Metadata)
}

func TestSeedingDoesNotTakeSlot(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxActiveDownloads = 1
	s := newTestSessionConfig(t, cfg)

	desc, files := newTestDescriptor(t, "slot.bin", 2*testPieceLength)
	seed, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	writeTestFiles(t, s, seed, files)
	require.NoError(t, seed.Start())
	waitStatus(t, seed, Seeding)

	m, err := s.AddURI(testMagnet(3), nil)
	require.NoError(t, err)
	waitStatus(t, m, Metadata)
	assert.Equal(t, Seeding, seed.Status())
}
