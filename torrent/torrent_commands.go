package torrent

import (
	"errors"
	"net"

	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/drizzle-bt/drizzle/internal/tracker"
)

var errTorrentClosed = errors.New("torrent is closed")

// Start asks the run loop to start downloading or seeding.
func (t *torrent) Start() { t.command(t.startCommandC) }

// Queue stops peer activity and marks the torrent as waiting for a download slot.
func (t *torrent) Queue() { t.command(t.queueCommandC) }

// Pause closes all peer connections. Partially downloaded pieces are kept.
func (t *torrent) Pause() { t.command(t.pauseCommandC) }

// Recheck hashes all data on disk again.
func (t *torrent) Recheck() { t.command(t.recheckCommandC) }

// command returns after the run loop has handled c.
func (t *torrent) command(c chan chan struct{}) {
	done := make(chan struct{})
	select {
	case c <- done:
	case <-t.closeC:
		return
	}
	select {
	case <-done:
	case <-t.closeC:
	}
}

// Name is readable from any goroutine. It changes once when the metadata of a magnet link arrives.
func (t *torrent) Name() string { return t.atomicName.Load().(string) }

// Status is readable from any goroutine.
func (t *torrent) Status() Status { return Status(t.atomicStatus.Load()) }

// Completed reports whether every wanted piece is verified.
func (t *torrent) Completed() bool { return t.atomicCompleted.Load() }

// AddPeers adds addresses to the dial queue.
func (t *torrent) AddPeers(addrs []*net.TCPAddr) {
	select {
	case t.addPeersCommandC <- addrs:
	case <-t.closeC:
	}
}

type priorityRequest struct {
	File     int
	Priority piecepicker.Priority
	Response chan error
}

// SetFilePriority changes the priority of file at index in the file list.
func (t *torrent) SetFilePriority(file int, p piecepicker.Priority) error {
	req := priorityRequest{File: file, Priority: p, Response: make(chan error, 1)}
	select {
	case t.priorityCommandC <- req:
	case <-t.closeC:
		return errTorrentClosed
	}
	select {
	case err := <-req.Response:
		return err
	case <-t.closeC:
		return errTorrentClosed
	}
}

type limitsRequest struct {
	Download, Upload int64
}

// SetLimits sets the per-torrent speed limits in bytes per second. Zero means no limit.
func (t *torrent) SetLimits(download, upload int64) {
	select {
	case t.limitsCommandC <- limitsRequest{Download: download, Upload: upload}:
	case <-t.closeC:
	}
}

type statsRequest struct {
	Response chan Stats
}

// Stats returns a snapshot of the torrent.
func (t *torrent) Stats() Stats {
	var stats Stats
	req := statsRequest{Response: make(chan Stats, 1)}
	select {
	case t.statsCommandC <- req:
	case <-t.closeC:
		return stats
	}
	select {
	case stats = <-req.Response:
	case <-t.closeC:
	}
	return stats
}

type peersRequest struct {
	Response chan []Peer
}

// Peers returns the connected peers.
func (t *torrent) Peers() []Peer {
	var peers []Peer
	req := peersRequest{Response: make(chan []Peer, 1)}
	select {
	case t.peersCommandC <- req:
	case <-t.closeC:
		return nil
	}
	select {
	case peers = <-req.Response:
	case <-t.closeC:
	}
	return peers
}

type trackersRequest struct {
	Response chan []Tracker
}

// Trackers returns the announce state of every tracker tier.
func (t *torrent) Trackers() []Tracker {
	var trackers []Tracker
	req := trackersRequest{Response: make(chan []Tracker, 1)}
	select {
	case t.trackersCommandC <- req:
	case <-t.closeC:
		return nil
	}
	select {
	case trackers = <-req.Response:
	case <-t.closeC:
	}
	return trackers
}

type removeDataRequest struct {
	Response chan error
}

// RemoveData stops the torrent and deletes its files from storage.
func (t *torrent) RemoveData() error {
	req := removeDataRequest{Response: make(chan error, 1)}
	select {
	case t.removeDataC <- req:
	case <-t.closeC:
		return errTorrentClosed
	}
	select {
	case err := <-req.Response:
		return err
	case <-t.closeC:
		return errTorrentClosed
	}
}

type announcerRequest struct {
	Response chan tracker.Transfer
}

// announcerFields is called by announcer goroutines to get the transfer counters.
func (t *torrent) announcerFields() tracker.Transfer {
	req := announcerRequest{Response: make(chan tracker.Transfer, 1)}
	select {
	case t.announcerRequestC <- req:
	case <-t.closeC:
		return tracker.Transfer{InfoHash: t.infoHash, PeerID: t.session.peerID}
	}
	select {
	case tr := <-req.Response:
		return tr
	case <-t.closeC:
		return tracker.Transfer{InfoHash: t.infoHash, PeerID: t.session.peerID}
	}
}

// Close stops the torrent and waits for its goroutines.
func (t *torrent) Close() {
	close(t.closeC)
	<-t.doneC
}
