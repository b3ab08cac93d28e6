package torrent

import (
	"errors"

	"github.com/drizzle-bt/drizzle/internal/announcer"
	"github.com/drizzle-bt/drizzle/internal/tracker"
)

// stop closes peer activity and moves the torrent to s, which is Paused or Queued.
// Pieces stay in their current state so the download continues where it was left.
func (t *torrent) stop(s Status) {
	if t.status == s {
		return
	}
	if t.verifier != nil {
		t.verifier.Close()
		t.verifier = nil
		t.checkedPieces = 0
	}
	t.stopPeerActivity()
	if t.status == Error {
		// Leaving error state is an explicit retry, so the corruption count starts over.
		var cerr *CorruptionError
		if errors.As(t.lastError, &cerr) && t.store != nil {
			t.store.ResetCorruptions()
		}
		t.lastError = nil
	}
	t.setStatus(s)
	t.writeResume()
	t.session.schedule()
}

// setError puts the torrent into Error state. Start must be called to leave it.
func (t *torrent) setError(err error) {
	t.log.Errorln("torrent error:", err)
	if t.verifier != nil {
		t.verifier.Close()
		t.verifier = nil
	}
	t.stopPeerActivity()
	t.lastError = err
	t.setStatus(Error)
	t.publish(Event{Type: EventError, Error: err.Error()})
	t.writeResume()
	t.session.schedule()
}

// stopPeerActivity closes every peer connection, stops announcing and sends the
// "stopped" event to trackers in the background.
func (t *torrent) stopPeerActivity() {
	if t.dialCtx == nil {
		return
	}
	t.dialCancel()
	t.dialCtx, t.dialCancel = nil, nil

	var trackers []tracker.Tracker
	for _, an := range t.announcers {
		an.Close()
		trackers = append(trackers, an.Tracker)
	}
	t.announcers = nil
	if len(trackers) > 0 {
		sa := announcer.NewStopAnnouncer(trackers, t.trackerTransfer(), t.config.TrackerStopTimeout, t.announcersStoppedC, t.log)
		t.stopAnnouncers = append(t.stopAnnouncers, sa)
		t.pendingStop++
		go sa.Run()
	}

	for _, pe := range t.peers {
		if pe != nil {
			t.closePeer(pe)
		}
	}
	t.addrList.Reset()
	clear(t.dialing)

	t.unchokeTicker.Stop()
	t.requestTicker.Stop()
	t.unchokeTickerC, t.requestTickerC = nil, nil

	t.limiter.SetActive(false)
}

func (t *torrent) handleStopAnnounced() {
	t.pendingStop--
	if t.pendingStop == 0 {
		for _, sa := range t.stopAnnouncers {
			sa.Close()
		}
		t.stopAnnouncers = nil
	}
}

// close is called once from the run loop when the torrent is closed.
func (t *torrent) close() {
	if t.verifier != nil {
		t.verifier.Close()
		t.verifier = nil
	}
	t.stopPeerActivity()
	t.writeResume()
	// Give trackers a chance to receive the "stopped" event. Every stop announcer gives up after its timeout.
	for t.pendingStop > 0 {
		<-t.announcersStoppedC
		t.handleStopAnnounced()
	}
	t.closeFiles()
	t.downloadSpeed.Stop()
	t.uploadSpeed.Stop()
	t.limiter.SetActive(false)
}

func (t *torrent) closeFiles() {
	for _, f := range t.files {
		if err := f.Sync(); err != nil {
			t.log.Warningln("cannot sync file:", err)
		}
		if err := f.Close(); err != nil {
			t.log.Warningln("cannot close file:", err)
		}
	}
	t.files = nil
	t.pieces = nil
	t.store = nil
	t.picker = nil
	t.requests = nil
}
