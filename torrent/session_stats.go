package torrent

import (
	"time"

	"github.com/drizzle-bt/drizzle/internal/bandwidth"
)

// SessionStats contains statistics about a Session.
type SessionStats struct {
	Uptime time.Duration
	// Number of torrents in the session.
	Torrents int
	// Number of torrents holding a download slot.
	ActiveDownloads int
	// Number of connected peers of all torrents.
	Peers int
	// Pieces that passed and failed the hash check since the session is started.
	PiecesVerified int64
	PiecesFailed   int64
	// Bytes per second.
	SpeedDownload int
	SpeedUpload   int
	SpeedWrite    int
	// Global limits in bytes per second. Zero means no limit.
	LimitDownload int64
	LimitUpload   int64
	// Disk writes and piece verifications running and waiting for a slot.
	WritesActive    int
	WritesPending   int
	VerifiesActive  int
	VerifiesPending int
	// Events not delivered because subscribers were too slow.
	EventsDropped      int64
	MaxActiveDownloads int
	QueueOrder         string
	Port               int
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.m.RLock()
	torrents := len(s.torrents)
	s.m.RUnlock()

	return SessionStats{
		Uptime:             time.Since(s.createdAt),
		Torrents:           torrents,
		ActiveDownloads:    s.activeDownloads(),
		Peers:              int(s.metrics.Peers.Count()),
		PiecesVerified:     s.metrics.PiecesVerified.Count(),
		PiecesFailed:       s.metrics.PiecesFailed.Count(),
		SpeedDownload:      int(s.metrics.SpeedDownload.Rate1()),
		SpeedUpload:        int(s.metrics.SpeedUpload.Rate1()),
		SpeedWrite:         int(s.metrics.SpeedWrite.Rate1()),
		LimitDownload:      s.bandwidth.Limit(bandwidth.Download),
		LimitUpload:        s.bandwidth.Limit(bandwidth.Upload),
		WritesActive:       s.semWrite.Len(),
		WritesPending:      s.semWrite.Waiting(),
		VerifiesActive:     s.semVerify.Len(),
		VerifiesPending:    s.semVerify.Waiting(),
		EventsDropped:      s.events.Dropped(),
		MaxActiveDownloads: s.config.MaxActiveDownloads,
		QueueOrder:         s.config.QueueOrder,
		Port:               s.port(),
	}
}

func (s *Session) activeDownloads() int {
	var n int
	for _, t := range s.ListTorrents() {
		e := queueEntry{status: t.torrent.Status(), completed: t.torrent.Completed()}
		if e.active() {
			n++
		}
	}
	return n
}
