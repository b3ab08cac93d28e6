package torrent

import (
	"time"

	"github.com/drizzle-bt/drizzle/internal/peersource"
)

// Torrent event loop
func (t *torrent) run() {
	defer close(t.doneC)

	resumeTicker := time.NewTicker(t.config.ResumeWriteInterval)
	defer resumeTicker.Stop()

	seedTicker := time.NewTicker(time.Second)
	defer seedTicker.Stop()

	for {
		select {
		case <-t.closeC:
			t.close()
			return
		case done := <-t.startCommandC:
			t.start()
			close(done)
		case done := <-t.queueCommandC:
			t.stop(Queued)
			close(done)
		case done := <-t.pauseCommandC:
			t.stop(Paused)
			close(done)
		case done := <-t.recheckCommandC:
			t.recheck()
			close(done)
		case req := <-t.priorityCommandC:
			req.Response <- t.setFilePriority(req.File, req.Priority)
		case req := <-t.limitsCommandC:
			t.setLimits(req.Download, req.Upload)
		case req := <-t.statsCommandC:
			req.Response <- t.stats()
		case req := <-t.peersCommandC:
			req.Response <- t.getPeers()
		case req := <-t.trackersCommandC:
			t.getTrackers(req.Response)
		case req := <-t.removeDataC:
			req.Response <- t.removeData()
		case req := <-t.announcerRequestC:
			req.Response <- t.trackerTransfer()
		case <-t.announcersStoppedC:
			t.handleStopAnnounced()
		case p := <-t.verifierProgressC:
			t.checkedPieces = p.Checked
		case v := <-t.verifierResultC:
			t.handleVerificationDone(v)
		case addrs := <-t.addrsFromTrackers:
			t.handleNewPeers(addrs, peersource.Tracker)
		case addrs := <-t.addPeersCommandC:
			t.handleNewPeers(addrs, peersource.Manual)
		case res := <-t.dialResultC:
			t.handleDialResult(res)
		case ic := <-t.incomingConnC:
			t.handleIncomingConn(ic)
		case pw := <-t.pieceWriterResultC:
			t.handlePieceWriteDone(pw)
		case pv := <-t.pieceVerifierResultC:
			t.handlePieceVerified(pv)
		case <-t.unchokeTickerC:
			t.tickUnchoke()
		case now := <-t.requestTickerC:
			t.expireRequests(now)
		case <-resumeTicker.C:
			t.writeResume()
		case <-seedTicker.C:
			if t.status == Seeding {
				t.seededFor += time.Second
			}
		case pe := <-t.peerDisconnectedC:
			t.closePeer(pe)
		case pm := <-t.messages:
			t.handlePeerMessage(pm)
		}
	}
}
