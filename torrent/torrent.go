package torrent

import (
	"context"
	"encoding/hex"
	"net"
	"sync/atomic"
	"time"

	"github.com/drizzle-bt/drizzle/internal/addrlist"
	"github.com/drizzle-bt/drizzle/internal/announcer"
	"github.com/drizzle-bt/drizzle/internal/bandwidth"
	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/infodownloader"
	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/metainfo"
	"github.com/drizzle-bt/drizzle/internal/peer"
	"github.com/drizzle-bt/drizzle/internal/peerconn"
	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/drizzle-bt/drizzle/internal/piecestore"
	"github.com/drizzle-bt/drizzle/internal/pieceverifier"
	"github.com/drizzle-bt/drizzle/internal/piecewriter"
	"github.com/drizzle-bt/drizzle/internal/requesttable"
	"github.com/drizzle-bt/drizzle/internal/resumer"
	"github.com/drizzle-bt/drizzle/internal/storage"
	"github.com/drizzle-bt/drizzle/internal/tracker"
	"github.com/drizzle-bt/drizzle/internal/unchoker"
	"github.com/drizzle-bt/drizzle/internal/verifier"
	"github.com/rcrowley/go-metrics"
)

// torrent is the state of one torrent. Every field is owned by the goroutine running
// the run method. Other goroutines talk to it over channels.
type torrent struct {
	session *Session
	config  *Config
	id      string
	addedAt time.Time
	log     logger.Logger

	infoHash [20]byte
	name     string

	// Nil until the info dictionary is known (magnet links).
	info *metainfo.Info

	storage storage.Storage
	files   []storage.File
	pieces  []piece.Piece
	// Indexes of files that were on disk before the torrent opened them.
	existingFiles map[int]bool

	// Piece state machine, picker and in-flight requests. Created after the first check.
	store    *piecestore.Store
	picker   *piecepicker.Picker
	requests *requesttable.Table

	filePriorities []piecepicker.Priority

	// Loaded from resume data and consumed when pieces are first prepared.
	resumeBitfield *bitfield.Bitfield
	resumePartial  map[uint32][]byte

	resume resumer.Resumer

	trackers       [][]string
	fixedPeers     []*net.TCPAddr
	announcers     []*announcer.PeriodicalAnnouncer
	needMorePeers  bool
	stopAnnouncers []*announcer.StopAnnouncer
	// Number of stop announcers that have not reported yet.
	pendingStop int
	// Closed once when the download completes, so announcers send the "completed" event.
	completedC        chan struct{}
	completedClosed   bool
	addrsFromTrackers chan []*net.TCPAddr

	addrList *addrlist.AddrList

	// Peer table. The index of a peer is its id in the piece picker and request table.
	peers        []*peer.Peer
	freeIndexes  []uint32
	numPeers     int
	numIncoming  int
	peersByAddr  map[string]*peer.Peer
	dialing      map[string]*peerconn.Phase
	mismatched   map[string]struct{}
	dialCtx      context.Context
	dialCancel   context.CancelFunc
	unreliableIP map[string]struct{}

	unchoker *unchoker.Unchoker
	limiter  *bandwidth.Limiter

	status    Status
	lastError error
	completed bool

	// Metadata downloads, keyed by peer index.
	infoDownloaders map[uint32]*infodownloader.InfoDownloader

	// Number of block writes in flight per piece.
	pendingWrites map[uint32]int
	// Pieces being hashed after all blocks are written.
	verifying map[uint32]struct{}
	// IPs of peers that sent blocks of a piece being downloaded.
	contributors map[uint32]map[string]struct{}

	verifier      *verifier.Verifier
	checkedPieces uint32
	// Start downloading when the running check finishes, otherwise go back to Paused.
	checkThenRun bool

	bytesDownloaded int64
	bytesUploaded   int64
	bytesWasted     int64
	seededFor       time.Duration
	timeouts        int
	downloadSpeed   metrics.Meter
	uploadSpeed     metrics.Meter
	lastProgress    time.Time

	// Mirrors of run loop state, read by Session without going through the loop.
	atomicStatus    atomic.Int32
	atomicCompleted atomic.Bool
	atomicName      atomic.Value

	messages             chan peer.Message
	peerDisconnectedC    chan *peer.Peer
	dialResultC          chan *dialResult
	incomingConnC        chan *incomingConn
	pieceWriterResultC   chan *piecewriter.PieceWriter
	pieceVerifierResultC chan *pieceverifier.PieceVerifier
	verifierProgressC    chan verifier.Progress
	verifierResultC      chan *verifier.Verifier
	announcersStoppedC   chan struct{}

	// Commands that carry a done channel are answered after the state change is applied.
	startCommandC    chan chan struct{}
	queueCommandC    chan chan struct{}
	pauseCommandC    chan chan struct{}
	recheckCommandC  chan chan struct{}
	priorityCommandC chan priorityRequest
	addPeersCommandC chan []*net.TCPAddr
	statsCommandC    chan statsRequest
	peersCommandC    chan peersRequest
	trackersCommandC chan trackersRequest
	removeDataC      chan removeDataRequest
	limitsCommandC   chan limitsRequest

	announcerRequestC chan announcerRequest

	// Tickers run only while peers are active. A nil channel blocks forever in select.
	unchokeTicker  *time.Ticker
	requestTicker  *time.Ticker
	unchokeTickerC <-chan time.Time
	requestTickerC <-chan time.Time

	closeC chan struct{}
	doneC  chan struct{}
}

// options for creating a torrent.
type options struct {
	ID       string
	AddedAt  time.Time
	Name     string
	InfoHash [20]byte
	Info     *metainfo.Info
	Trackers [][]string
	Peers    []*net.TCPAddr
	Storage  storage.Storage
	Resumer  resumer.Resumer
	Stats    resumer.Stats

	Bitfield   *bitfield.Bitfield
	Partial    map[uint32][]byte
	Priorities []piecepicker.Priority

	DownloadLimit int64
	UploadLimit   int64
}

func newTorrent(s *Session, opt options) *torrent {
	t := &torrent{
		session:              s,
		config:               &s.config,
		id:                   opt.ID,
		addedAt:              opt.AddedAt,
		log:                  logger.New("torrent " + shortID(opt.ID)),
		infoHash:             opt.InfoHash,
		name:                 opt.Name,
		storage:              opt.Storage,
		resume:               opt.Resumer,
		resumeBitfield:       opt.Bitfield,
		resumePartial:        opt.Partial,
		filePriorities:       opt.Priorities,
		trackers:             opt.Trackers,
		fixedPeers:           opt.Peers,
		completedC:           make(chan struct{}),
		addrsFromTrackers:    make(chan []*net.TCPAddr),
		addrList:             addrlist.New(s.config.MaxPeerAddresses, s.port(), nil),
		peersByAddr:          make(map[string]*peer.Peer),
		dialing:              make(map[string]*peerconn.Phase),
		mismatched:           make(map[string]struct{}),
		unreliableIP:         make(map[string]struct{}),
		unchoker:             unchoker.New(s.config.UnchokedPeers, s.config.OptimisticUnchokedPeers, s.config.OptimisticUnchokeRounds, nil),
		limiter:              s.bandwidth.NewLimiter(),
		status:               Paused,
		infoDownloaders:      make(map[uint32]*infodownloader.InfoDownloader),
		pendingWrites:        make(map[uint32]int),
		verifying:            make(map[uint32]struct{}),
		contributors:         make(map[uint32]map[string]struct{}),
		bytesDownloaded:      opt.Stats.BytesDownloaded,
		bytesUploaded:        opt.Stats.BytesUploaded,
		bytesWasted:          opt.Stats.BytesWasted,
		seededFor:            time.Duration(opt.Stats.SeededFor) * time.Second,
		downloadSpeed:        metrics.NewMeter(),
		uploadSpeed:          metrics.NewMeter(),
		messages:             make(chan peer.Message),
		peerDisconnectedC:    make(chan *peer.Peer),
		dialResultC:          make(chan *dialResult),
		incomingConnC:        make(chan *incomingConn),
		pieceWriterResultC:   make(chan *piecewriter.PieceWriter),
		pieceVerifierResultC: make(chan *pieceverifier.PieceVerifier),
		verifierProgressC:    make(chan verifier.Progress),
		verifierResultC:      make(chan *verifier.Verifier),
		announcersStoppedC:   make(chan struct{}),
		startCommandC:        make(chan chan struct{}),
		queueCommandC:        make(chan chan struct{}),
		pauseCommandC:        make(chan chan struct{}),
		recheckCommandC:      make(chan chan struct{}),
		priorityCommandC:     make(chan priorityRequest),
		addPeersCommandC:     make(chan []*net.TCPAddr),
		statsCommandC:        make(chan statsRequest),
		peersCommandC:        make(chan peersRequest),
		trackersCommandC:     make(chan trackersRequest),
		removeDataC:          make(chan removeDataRequest),
		limitsCommandC:       make(chan limitsRequest),
		announcerRequestC:    make(chan announcerRequest),
		closeC:               make(chan struct{}),
		doneC:                make(chan struct{}),
	}
	t.atomicStatus.Store(int32(Paused))
	t.atomicName.Store(opt.Name)
	t.limiter.SetLimit(bandwidth.Download, opt.DownloadLimit)
	t.limiter.SetLimit(bandwidth.Upload, opt.UploadLimit)
	if opt.Info != nil {
		t.setInfo(opt.Info)
	}
	return t
}

func hexInfoHash(ih [20]byte) string { return hex.EncodeToString(ih[:]) }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// setInfo is called once, when the torrent is added with a descriptor or when the
// metadata download of a magnet link finishes.
func (t *torrent) setInfo(info *metainfo.Info) {
	t.info = info
	t.name = info.Name
	t.atomicName.Store(info.Name)
	n := len(info.GetFiles())
	if len(t.filePriorities) != n {
		t.filePriorities = make([]piecepicker.Priority, n)
		for i := range t.filePriorities {
			t.filePriorities[i] = piecepicker.Normal
		}
	}
}

func (t *torrent) trackerTransfer() tracker.Transfer {
	var left int64
	if t.info != nil {
		left = t.info.TotalLength - t.bytesCompleted()
	}
	return tracker.Transfer{
		InfoHash:   t.infoHash,
		PeerID:     t.session.peerID,
		Port:       t.session.port(),
		Uploaded:   t.bytesUploaded,
		Downloaded: t.bytesDownloaded,
		Left:       left,
	}
}

func (t *torrent) setStatus(s Status) {
	if t.status == s {
		return
	}
	t.log.Infof("status: %s -> %s", t.status, s)
	t.status = s
	t.atomicStatus.Store(int32(s))
	t.publish(Event{Type: EventStatusChanged})
}

func (t *torrent) publish(e Event) {
	e.TorrentID = t.id
	e.Status = t.status
	if t.store != nil {
		e.VerifiedPieces = t.store.Count(piecestore.Verified)
		e.TotalPieces = t.store.Len()
	}
	if t.info != nil {
		e.BytesCompleted = t.bytesCompleted()
		e.BytesTotal = t.info.TotalLength
	}
	t.session.events.Publish(e)
}
