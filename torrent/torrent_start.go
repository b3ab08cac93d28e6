package torrent

import (
	"context"
	"time"

	"github.com/drizzle-bt/drizzle/internal/announcer"
	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/filesection"
	"github.com/drizzle-bt/drizzle/internal/peersource"
	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/drizzle-bt/drizzle/internal/piecestore"
	"github.com/drizzle-bt/drizzle/internal/requesttable"
	"github.com/drizzle-bt/drizzle/internal/storage"
	"github.com/drizzle-bt/drizzle/internal/tracker"
	"github.com/drizzle-bt/drizzle/internal/verifier"
)

func (t *torrent) start() {
	if t.status.running() {
		return
	}
	t.log.Info("starting torrent")
	t.lastError = nil

	if t.info == nil {
		t.setStatus(Metadata)
		t.startPeerActivity()
		return
	}
	if t.store == nil {
		if err := t.openFiles(); err != nil {
			t.setError(err)
			return
		}
		switch {
		case t.resumeBitfield != nil && t.resumeBitfield.Len() == t.info.NumPieces:
			t.initPieces(t.resumeBitfield, t.resumePartial)
			t.resumeBitfield, t.resumePartial = nil, nil
		case len(t.existingFiles) == 0:
			t.initPieces(nil, nil)
		default:
			t.startVerifier(t.skipNewFiles(), true)
			return
		}
	}
	t.startDownload()
}

// openFiles opens or creates every file of the torrent and records which files were
// already on disk.
func (t *torrent) openFiles() error {
	if t.pieces != nil {
		return nil
	}
	files := t.info.GetFiles()
	t.files = make([]storage.File, 0, len(files))
	t.existingFiles = make(map[int]bool)
	rws := make([]filesection.ReadWriterAt, len(files))
	for i, f := range files {
		sf, exists, err := t.storage.Open(f.Path, f.Length)
		if err != nil {
			t.closeFiles()
			return newDiskError("open "+f.Path, err)
		}
		if exists && f.Length > 0 {
			t.existingFiles[i] = true
		}
		t.files = append(t.files, sf)
		rws[i] = sf
	}
	t.pieces = piece.NewPieces(t.info, rws)
	return nil
}

// initPieces builds the piece store, picker and request table. verified and partial
// come from resume data or from a hash check and may be nil.
func (t *torrent) initPieces(verified *bitfield.Bitfield, partial map[uint32][]byte) {
	n := t.info.NumPieces
	requested := bitfield.New(n)
	for i := range partial {
		if i < n && (verified == nil || !verified.Test(i)) {
			requested.Set(i)
		}
	}
	t.store = piecestore.New(n, verified, requested)
	t.picker = piecepicker.New(t.pieces, t.store.Verified(), t.config.EndgameMaxDuplicates)
	for i, b := range partial {
		if !requested.Test(i) {
			continue
		}
		bf, err := bitfield.FromWire(b, t.pieces[i].NumBlocks())
		if err != nil {
			t.log.Warningf("ignoring partial blocks of piece #%d: %s", i, err)
			continue
		}
		t.picker.RestoreBlocks(i, bf)
	}
	t.requests = requesttable.New(t.config.RequestTimeout)
	t.applyFilePriorities()
	t.completed = t.isComplete()
	t.atomicCompleted.Store(t.completed)
}

// skipNewFiles returns a function reporting whether a piece lies only in files
// created by openFiles. Such pieces cannot be valid so they are not hashed.
// The function runs on the verifier goroutine and must not touch torrent fields.
func (t *torrent) skipNewFiles() func(uint32) bool {
	pieces, existing := t.pieces, t.existingFiles
	return func(i uint32) bool {
		for _, f := range pieces[i].Files {
			if existing[f] {
				return false
			}
		}
		return true
	}
}

// startVerifier hashes pieces on disk. When run is set, the torrent starts downloading
// after the check, otherwise it returns to Paused.
func (t *torrent) startVerifier(skip func(uint32) bool, run bool) {
	t.checkedPieces = 0
	t.checkThenRun = run
	t.verifier = verifier.New()
	t.setStatus(Checking)
	go t.verifier.Run(t.pieces, skip, t.verifierProgressC, t.verifierResultC)
}

func (t *torrent) startDownload() {
	if t.completed {
		t.setStatus(Seeding)
	} else {
		t.setStatus(Downloading)
	}
	t.startPeerActivity()
	t.verifyCompletedPieces()
}

// startPeerActivity starts announcing, dialing, accepting and choking.
func (t *torrent) startPeerActivity() {
	if t.dialCtx != nil {
		return
	}
	t.limiter.SetActive(true)
	t.dialCtx, t.dialCancel = context.WithCancel(context.Background())
	t.startAnnouncers()
	t.addrList.Push(t.fixedPeers, peersource.Manual)

	t.unchokeTicker = time.NewTicker(t.config.UnchokeInterval)
	t.unchokeTickerC = t.unchokeTicker.C
	t.requestTicker = time.NewTicker(requestCheckInterval(t.config.RequestTimeout))
	t.requestTickerC = t.requestTicker.C

	t.dialAddresses()
}

func requestCheckInterval(timeout time.Duration) time.Duration {
	d := timeout / 4
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func (t *torrent) startAnnouncers() {
	for _, tier := range t.trackers {
		var trks []tracker.Tracker
		for _, u := range tier {
			trk, err := t.session.newTracker(u)
			if err != nil {
				t.log.Warningln("cannot parse tracker url:", err)
				continue
			}
			trks = append(trks, trk)
		}
		var trk tracker.Tracker
		switch len(trks) {
		case 0:
			continue
		case 1:
			trk = trks[0]
		default:
			trk = tracker.NewTier(trks)
		}
		an := announcer.NewPeriodicalAnnouncer(
			trk,
			t.config.TrackerNumWant,
			t.config.TrackerMinAnnounceInterval,
			t.announcerFields,
			t.completedC,
			t.addrsFromTrackers,
			t.log,
		)
		t.announcers = append(t.announcers, an)
		go an.Run()
	}
	t.needMorePeers = false
}
