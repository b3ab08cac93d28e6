package torrent

import (
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
	"github.com/drizzle-bt/drizzle/internal/pieceverifier"
	"github.com/drizzle-bt/drizzle/internal/piecestore"
	"github.com/drizzle-bt/drizzle/internal/piecewriter"
)

func (t *torrent) handlePieceWriteDone(pw *piecewriter.PieceWriter) {
	i := pw.Piece.Index
	if t.pendingWrites[i]--; t.pendingWrites[i] <= 0 {
		delete(t.pendingWrites, i)
	}
	if pw.Error != nil {
		t.setError(newDiskError("write piece", pw.Error))
		return
	}
	if t.picker == nil || t.verifier != nil {
		return
	}
	if t.pendingWrites[i] == 0 && t.picker.Complete(i) && t.store.State(i) != piecestore.Verified {
		t.startPieceVerify(i)
	}
}

func (t *torrent) startPieceVerify(i uint32) {
	if _, ok := t.verifying[i]; ok {
		return
	}
	t.verifying[i] = struct{}{}
	pv := pieceverifier.New(&t.pieces[i])
	go pv.Run(t.pieceVerifierResultC, t.closeC, t.session.semVerify)
}

// verifyCompletedPieces starts hashing pieces whose blocks are all written but which
// are not verified yet, for example after a restart or when a check was interrupted.
func (t *torrent) verifyCompletedPieces() {
	if t.picker == nil {
		return
	}
	for i := uint32(0); i < t.store.Len(); i++ {
		if t.store.State(i) == piecestore.Verified || t.pendingWrites[i] > 0 {
			continue
		}
		if t.picker.Complete(i) {
			t.startPieceVerify(i)
		}
	}
}

func (t *torrent) handlePieceVerified(pv *pieceverifier.PieceVerifier) {
	i := pv.Piece.Index
	delete(t.verifying, i)
	if t.store == nil || t.store.State(i) == piecestore.Verified {
		return
	}
	if pv.Error != nil {
		t.setError(newDiskError("read piece", pv.Error))
		return
	}
	contributors := t.contributors[i]
	delete(t.contributors, i)
	if !pv.OK {
		t.handlePieceFailed(i, contributors)
		return
	}
	if err := t.store.MarkVerified(i); err != nil {
		t.log.Errorln(err)
		return
	}
	t.picker.SetVerified(i)
	t.session.metrics.PiecesVerified.Inc(1)
	for _, pe := range t.peers {
		if pe == nil {
			continue
		}
		pe.SendMessage(peerprotocol.HaveMessage{Index: i})
		t.updateInterested(pe)
	}
	t.publish(Event{Type: EventProgress})
	t.checkCompletion()
}

// handlePieceFailed discards a piece that did not match its hash and penalizes the peers that sent it.
func (t *torrent) handlePieceFailed(i uint32, contributors map[string]struct{}) {
	failures, err := t.store.MarkFailed(i)
	if err != nil {
		t.log.Errorln(err)
		return
	}
	t.log.Debugf("piece #%d failed hash check (%d times)", i, failures)
	t.bytesWasted += int64(t.pieces[i].Length)
	t.session.metrics.PiecesFailed.Inc(1)
	t.picker.Reset(i)
	for _, r := range t.requests.RemovePiece(i) {
		if pe := t.peers[r.Peer]; pe != nil {
			pe.SendMessage(cancelMessage(r.Piece, r.Block))
		}
	}
	for _, pe := range t.peers {
		if pe == nil {
			continue
		}
		if _, ok := contributors[pe.IP().String()]; ok {
			pe.HashFailures++
		}
	}
	// The piece is retried from the same senders until it fails MaxPieceHashFailures times.
	if int(failures) >= t.config.MaxPieceHashFailures {
		t.markUnreliable(contributors)
	}
	if c := t.store.Corruptions(); c > t.config.CorruptionThreshold {
		t.setError(&CorruptionError{Corruptions: c, Threshold: t.config.CorruptionThreshold})
		return
	}
	t.requestBlocksAll()
}

// markUnreliable deprioritizes peers at the given IPs, including ones that reconnect later.
func (t *torrent) markUnreliable(ips map[string]struct{}) {
	for ip := range ips {
		t.unreliableIP[ip] = struct{}{}
	}
	for _, pe := range t.peers {
		if pe == nil || pe.Unreliable() {
			continue
		}
		if _, ok := ips[pe.IP().String()]; ok {
			pe.Logger().Infoln("peer marked unreliable after sending corrupt data")
			pe.SetUnreliable()
		}
	}
}
