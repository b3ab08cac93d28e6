package torrent

import (
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/drizzle-bt/drizzle/internal/piecepicker"
)

// Priority of a file. Pieces get the highest priority of the files they overlap.
type Priority = piecepicker.Priority

// File priorities.
const (
	// PrioritySkip files are not downloaded.
	PrioritySkip = piecepicker.Skip
	// PriorityLow files are downloaded after everything else.
	PriorityLow = piecepicker.Low
	// PriorityNormal is the default priority.
	PriorityNormal = piecepicker.Normal
	// PriorityHigh files are downloaded first.
	PriorityHigh = piecepicker.High
)

// ParsePriority parses the name of a priority: skip, low, normal or high.
func ParsePriority(s string) (Priority, error) { return piecepicker.ParsePriority(s) }

// Torrent is a handle to a torrent in a Session. Its methods are safe for concurrent use.
type Torrent struct {
	session *Session
	torrent *torrent

	m             sync.Mutex
	started       bool
	queuePriority int
	downloadLimit int64
	uploadLimit   int64
}

// InfoHash is the SHA-1 of a torrent's info dictionary.
type InfoHash [20]byte

// String encodes info hash in hex as 40 characters.
func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

// ID is unique in the session. It does not change across restarts.
func (t *Torrent) ID() string {
	return t.torrent.id
}

// Name of the torrent. For magnet links it is replaced by the name in the info dictionary once downloaded.
func (t *Torrent) Name() string {
	return t.torrent.Name()
}

// InfoHash returns the info hash of the torrent.
func (t *Torrent) InfoHash() InfoHash {
	return InfoHash(t.torrent.infoHash)
}

// AddedAt returns the time the torrent was added to the session.
func (t *Torrent) AddedAt() time.Time {
	return t.torrent.addedAt
}

// Status returns the current status without waiting for the torrent's run loop.
func (t *Torrent) Status() Status {
	return t.torrent.Status()
}

// Stats returns a snapshot of the torrent.
func (t *Torrent) Stats() Stats {
	return t.torrent.Stats()
}

// Trackers returns the announce state of the torrent's trackers.
func (t *Torrent) Trackers() []Tracker {
	return t.torrent.Trackers()
}

// Peers returns the connected peers.
func (t *Torrent) Peers() []Peer {
	return t.torrent.Peers()
}

// AddPeer adds a peer address ("host:port") to the torrent's dial queue.
func (t *Torrent) AddPeer(addr string) error {
	a, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	t.torrent.AddPeers([]*net.TCPAddr{a})
	return nil
}

// Started reports whether the user wants the torrent running. A started torrent may still be waiting in the queue.
func (t *Torrent) Started() bool {
	t.m.Lock()
	defer t.m.Unlock()
	return t.started
}

// Start puts the torrent in the download queue. It starts when a download slot is free.
// A torrent in error state is reset before it is queued.
func (t *Torrent) Start() error {
	t.session.mSchedule.Lock()
	defer t.session.mSchedule.Unlock()
	if err := t.setStarted(true); err != nil {
		return err
	}
	if t.torrent.Status() == Error {
		t.torrent.Pause()
	}
	t.session.schedule()
	return nil
}

// Pause stops the torrent and takes it out of the queue.
func (t *Torrent) Pause() error {
	t.session.mSchedule.Lock()
	defer t.session.mSchedule.Unlock()
	if err := t.setStarted(false); err != nil {
		return err
	}
	t.torrent.Pause()
	return nil
}

func (t *Torrent) setStarted(value bool) error {
	t.m.Lock()
	defer t.m.Unlock()
	if t.started == value {
		return nil
	}
	if err := t.session.resumer.WriteStarted(t.torrent.id, value); err != nil {
		return err
	}
	t.started = value
	return nil
}

// Recheck hashes the data on disk again. A running torrent continues after the check.
func (t *Torrent) Recheck() {
	t.torrent.Recheck()
}

// SetFilePriority changes the priority of the file at index in the torrent's file list.
func (t *Torrent) SetFilePriority(file int, p Priority) error {
	return t.torrent.SetFilePriority(file, p)
}

// QueuePriority returns the position of the torrent in the download queue.
func (t *Torrent) QueuePriority() int {
	t.m.Lock()
	defer t.m.Unlock()
	return t.queuePriority
}

// SetQueuePriority changes the position of the torrent in the download queue.
// Running torrents are not stopped. The new order applies when the next slot is free.
func (t *Torrent) SetQueuePriority(p int) error {
	t.m.Lock()
	err := t.session.resumer.WriteQueuePriority(t.torrent.id, p)
	if err == nil {
		t.queuePriority = p
	}
	t.m.Unlock()
	if err != nil {
		return err
	}
	t.session.schedule()
	return nil
}

// SpeedLimits returns the per-torrent limits in bytes per second. Zero means no limit.
func (t *Torrent) SpeedLimits() (download, upload int64) {
	t.m.Lock()
	defer t.m.Unlock()
	return t.downloadLimit, t.uploadLimit
}

// SetSpeedLimits sets the per-torrent limits in bytes per second. Zero means no limit.
// The torrent never exceeds its share of the global limit either.
func (t *Torrent) SetSpeedLimits(download, upload int64) error {
	t.m.Lock()
	defer t.m.Unlock()
	if err := t.session.resumer.WriteLimits(t.torrent.id, download, upload); err != nil {
		return err
	}
	t.downloadLimit, t.uploadLimit = download, upload
	t.torrent.SetLimits(download, upload)
	return nil
}

// queueKey is read by the scheduler.
func (t *Torrent) queueKey() (started bool, priority int) {
	t.m.Lock()
	defer t.m.Unlock()
	return t.started, t.queuePriority
}
