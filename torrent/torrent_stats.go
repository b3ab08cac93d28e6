package torrent

import (
	"time"

	"github.com/drizzle-bt/drizzle/internal/announcer"
	"github.com/drizzle-bt/drizzle/internal/peerconn"
	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/drizzle-bt/drizzle/internal/piecestore"
	"github.com/drizzle-bt/drizzle/internal/resumer"
)

// Stats contains statistics about a Torrent.
type Stats struct {
	// Info hash of torrent.
	InfoHash string
	// Listed in the torrent file or given by the magnet link.
	Name string
	// Status of the torrent.
	Status Status
	// Contains the error message if torrent is stopped unexpectedly.
	Error error
	Pieces struct {
		// Number of pieces that are checked when torrent is in "Checking" state.
		Checked uint32
		// Number of pieces that we are downloading.
		Requested uint32
		// Number of pieces that are downloaded and checked.
		Verified uint32
		// Number of pieces that no block is requested yet.
		Missing uint32
		// Number of pieces that at least one connected peer has.
		Available uint32
		// Number of total pieces in the torrent.
		Total uint32
	}
	Bytes struct {
		// Bytes that are downloaded and passed hash check.
		Completed int64
		// The number of bytes that are needed to complete all missing pieces.
		Incomplete int64
		// The number of total bytes of files in torrent.  Total = Completed + Incomplete
		Total int64
		// Downloaded is the number of bytes downloaded from swarm.
		// Because some pieces may be downloaded more than once, this number may be greater than completed bytes.
		Downloaded int64
		// BytesUploaded is the number of bytes uploaded to the swarm.
		Uploaded int64
		// Bytes downloaded due to duplicate/non-requested pieces and pieces that failed verification.
		Wasted int64
	}
	Peers struct {
		// Number of peers that are connected, handshaked and ready to send and receive messages.
		Total int
		// Number of peers that have connected to us.
		Incoming int
		// Number of peers that we have connected to.
		Outgoing int
		// Number of addresses waiting to be dialed.
		Waiting int
		// Number of outgoing connections waiting for TCP connect.
		Connecting int
		// Number of outgoing connections exchanging the handshake.
		Handshaking int
		// Number of peers marked unreliable after sending corrupt data.
		Unreliable int
	}
	Speed struct {
		// Downloaded bytes per second.
		Download int
		// Uploaded bytes per second.
		Upload int
	}
	// Time remaining to complete download. Nil when the download speed is zero.
	ETA *time.Duration
	// Uploaded bytes divided by completed bytes.
	Ratio float64
	// Number of pieces failed the hash check since the torrent was loaded.
	Corruptions int
	// Number of block requests that missed their deadline.
	Timeouts int
	// Time passed since the download completed, while seeding.
	SeededFor time.Duration
	// Piece length in bytes.
	PieceLength uint32
	// Per-file progress. Empty until the info dictionary is known.
	Files []FileStats
}

// FileStats is the progress of one file in a torrent.
type FileStats struct {
	Path      string
	Length    int64
	Completed int64
	Priority  piecepicker.Priority
}

// Peer is a connected peer of a torrent.
type Peer struct {
	Addr               string
	ID                 [20]byte
	Client             string
	Source             string
	ConnectedAt        time.Time
	Downloading        bool
	ClientInterested   bool
	ClientChoking      bool
	PeerInterested     bool
	PeerChoking        bool
	OptimisticUnchoked bool
	Snubbed            bool
	Unreliable         bool
	FastExtension      bool
	ExtensionProtocol  bool
	DownloadSpeed      int
	UploadSpeed        int
	BytesDownloaded    int64
	BytesUploaded      int64
}

// Tracker is the announce state of a tracker tier.
type Tracker struct {
	URL      string
	Status   string
	Seeders  int
	Leechers int
	Error    *AnnounceError
}

func (t *torrent) stats() Stats {
	var s Stats
	s.InfoHash = hexInfoHash(t.infoHash)
	s.Name = t.name
	s.Status = t.status
	s.Error = t.lastError
	s.Pieces.Checked = t.checkedPieces
	s.Bytes.Downloaded = t.bytesDownloaded
	s.Bytes.Uploaded = t.bytesUploaded
	s.Bytes.Wasted = t.bytesWasted
	s.Peers.Total = t.numPeers
	s.Peers.Incoming = t.numIncoming
	s.Peers.Outgoing = t.numPeers - t.numIncoming
	s.Peers.Waiting = t.addrList.Len()
	for _, st := range t.dialing {
		switch st.Load() {
		case peerconn.Connecting:
			s.Peers.Connecting++
		case peerconn.Handshaking:
			s.Peers.Handshaking++
		}
	}
	for _, pe := range t.peers {
		if pe != nil && pe.Unreliable() {
			s.Peers.Unreliable++
		}
	}
	s.Speed.Download = int(t.downloadSpeed.Rate1())
	s.Speed.Upload = int(t.uploadSpeed.Rate1())
	s.Timeouts = t.timeouts
	s.SeededFor = t.seededFor

	if t.info != nil {
		s.PieceLength = t.info.PieceLength
		s.Pieces.Total = t.info.NumPieces
		s.Bytes.Total = t.info.TotalLength
		s.Bytes.Completed = t.bytesCompleted()
		s.Bytes.Incomplete = s.Bytes.Total - s.Bytes.Completed
		s.Files = t.fileStats()
	}
	if t.store != nil {
		s.Pieces.Verified = t.store.Count(piecestore.Verified)
		s.Pieces.Requested = t.store.Count(piecestore.Requested)
		s.Pieces.Missing = t.store.Count(piecestore.Missing)
		s.Corruptions = t.store.Corruptions()
	}
	if t.picker != nil {
		s.Pieces.Available = t.picker.Available()
	}
	if s.Bytes.Completed > 0 {
		s.Ratio = float64(s.Bytes.Uploaded) / float64(s.Bytes.Completed)
	}
	if s.Speed.Download > 0 && s.Bytes.Incomplete > 0 {
		eta := time.Duration(s.Bytes.Incomplete/int64(s.Speed.Download)) * time.Second
		s.ETA = &eta
	}
	return s
}

func (t *torrent) fileStats() []FileStats {
	files := t.info.GetFiles()
	ret := make([]FileStats, len(files))
	for i, f := range files {
		ret[i] = FileStats{Path: f.Path, Length: f.Length, Priority: t.filePriorities[i]}
	}
	if t.store == nil {
		return ret
	}
	for _, i := range t.store.Verified().Indices() {
		pi := &t.pieces[i]
		for k, sec := range pi.Data {
			ret[pi.Files[k]].Completed += sec.Length
		}
	}
	return ret
}

func (t *torrent) getPeers() []Peer {
	var peers []Peer
	for _, pe := range t.peers {
		if pe == nil {
			continue
		}
		peers = append(peers, Peer{
			Addr:               pe.Addr().String(),
			ID:                 pe.ID,
			Client:             pe.Client(),
			Source:             pe.Source.String(),
			ConnectedAt:        pe.ConnectedAt,
			Downloading:        t.requests != nil && t.requests.PeerLen(pe.Index) > 0,
			ClientInterested:   pe.AmInterested,
			ClientChoking:      pe.AmChoking,
			PeerInterested:     pe.PeerInterested,
			PeerChoking:        pe.PeerChoking,
			OptimisticUnchoked: pe.Optimistic(),
			Snubbed:            pe.Snubbed,
			Unreliable:         pe.Unreliable(),
			FastExtension:      pe.FastEnabled,
			ExtensionProtocol:  pe.ExtensionsEnabled,
			DownloadSpeed:      pe.DownloadSpeed(),
			UploadSpeed:        pe.UploadSpeed(),
			BytesDownloaded:    pe.BytesDownloaded,
			BytesUploaded:      pe.BytesUploaded,
		})
	}
	return peers
}

// getTrackers asks every announcer for its state on a separate goroutine.
// An announcer may be blocked sending peers to the run loop, so it cannot be waited for here.
func (t *torrent) getTrackers(resp chan []Tracker) {
	announcers := append([]*announcer.PeriodicalAnnouncer(nil), t.announcers...)
	go func() {
		trackers := make([]Tracker, 0, len(announcers))
		for _, an := range announcers {
			st := an.Stats()
			tr := Tracker{
				URL:      an.Tracker.URL(),
				Status:   st.Status.String(),
				Seeders:  st.Seeders,
				Leechers: st.Leechers,
			}
			if st.Error != nil {
				tr.Error = &AnnounceError{err: st.Error}
			}
			trackers = append(trackers, tr)
		}
		resp <- trackers
	}()
}

// writeResume saves the progress of the torrent so it can continue after a restart.
func (t *torrent) writeResume() {
	if t.resume == nil {
		return
	}
	err := t.resume.WriteStats(resumer.Stats{
		BytesDownloaded: t.bytesDownloaded,
		BytesUploaded:   t.bytesUploaded,
		BytesWasted:     t.bytesWasted,
		SeededFor:       int64(t.seededFor / time.Second),
	})
	if err != nil {
		t.log.Errorln("cannot write stats to resume db:", err)
	}
	if t.store == nil {
		return
	}
	partial := make(map[uint32][]byte)
	for _, i := range t.store.Requested().Indices() {
		if t.pendingWrites[i] > 0 {
			// Blocks being written may not be on disk yet.
			continue
		}
		if bf := t.picker.ReceivedBlocks(i); bf.Count() > 0 {
			partial[i] = bf.Bytes()
		}
	}
	if err = t.resume.WriteBitfield(t.store.Verified().Bytes(), partial); err != nil {
		t.log.Errorln("cannot write bitfield to resume db:", err)
	}
}

func (t *torrent) writePriorities() {
	if t.resume == nil {
		return
	}
	pri := make([]int8, len(t.filePriorities))
	for i, p := range t.filePriorities {
		pri[i] = int8(p)
	}
	if err := t.resume.WritePriorities(pri); err != nil {
		t.log.Errorln("cannot write priorities to resume db:", err)
	}
}
