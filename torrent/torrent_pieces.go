package torrent

import (
	"time"

	"github.com/drizzle-bt/drizzle/internal/peer"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/drizzle-bt/drizzle/internal/piecestore"
)

// requestBlocks fills the request queue of a peer that unchoked us.
func (t *torrent) requestBlocks(pe *peer.Peer) {
	if t.picker == nil || t.status != Downloading || pe.PeerChoking || !pe.AmInterested {
		return
	}
	limit := t.config.RequestQueueLength
	if hs := pe.ExtensionHandshake; hs != nil && hs.RequestQueue > 0 && hs.RequestQueue < limit {
		limit = hs.RequestQueue
	}
	if pe.Unreliable() || pe.Snubbed {
		// Keep a single block in flight so the peer can prove itself without holding up pieces.
		limit = 1
	}
	n := limit - t.requests.PeerLen(pe.Index)
	if n <= 0 {
		return
	}
	now := time.Now()
	for _, r := range t.picker.PickBlocks(pe.Index, n) {
		t.requests.Add(pe.Index, r.Piece, r.Block, now)
		if err := t.store.MarkRequested(r.Piece); err != nil {
			t.log.Warningln(err)
		}
		pe.SendMessage(peerprotocol.RequestMessage{Index: r.Piece, Begin: r.Begin, Length: r.Length})
	}
}

// requestBlocksAll gives reliable peers the first chance to pick blocks.
func (t *torrent) requestBlocksAll() {
	if t.picker == nil || t.status != Downloading {
		return
	}
	for _, pe := range t.peers {
		if pe != nil && !pe.Unreliable() && !pe.Snubbed {
			t.requestBlocks(pe)
		}
	}
	for _, pe := range t.peers {
		if pe != nil && (pe.Unreliable() || pe.Snubbed) {
			t.requestBlocks(pe)
		}
	}
}

// releaseRequests forgets the outstanding requests of a peer so their blocks can be picked again.
func (t *torrent) releaseRequests(peerIndex uint32) {
	if t.requests == nil {
		return
	}
	for _, r := range t.requests.RemovePeer(peerIndex) {
		t.picker.CancelRequest(peerIndex, r.Piece, r.Block.Index)
	}
}

// updateInterested sends Interested when the peer has a piece we want and NotInterested when it has none.
func (t *torrent) updateInterested(pe *peer.Peer) {
	if t.picker == nil {
		return
	}
	interested := false
	if !t.completed && pe.Bitfield != nil {
		verified := t.store.Verified()
		for _, i := range pe.Bitfield.Indices() {
			if !verified.Test(i) && t.picker.Priority(i) != piecepicker.Skip {
				interested = true
				break
			}
		}
	}
	if interested == pe.AmInterested {
		return
	}
	pe.AmInterested = interested
	if interested {
		pe.SendMessage(peerprotocol.InterestedMessage{})
	} else {
		pe.SendMessage(peerprotocol.NotInterestedMessage{})
	}
}

// expireRequests handles requests that passed their deadline. A request is sent again
// to the same peer until it misses MaxRequestRetries deadlines, then the block is given to other peers.
func (t *torrent) expireRequests(now time.Time) {
	if t.requests == nil {
		return
	}
	retry, reassign := t.requests.Expire(now, t.config.MaxRequestRetries)
	for _, r := range retry {
		t.timeouts++
		if pe := t.peers[r.Peer]; pe != nil {
			pe.SendMessage(peerprotocol.RequestMessage{Index: r.Piece, Begin: r.Begin, Length: r.Length})
		}
	}
	for _, r := range reassign {
		t.timeouts++
		t.picker.CancelRequest(r.Peer, r.Piece, r.Block.Index)
		pe := t.peers[r.Peer]
		if pe == nil {
			continue
		}
		cm := cancelMessage(r.Piece, r.Block)
		pe.Logger().Debugln(&TimeoutError{Addr: pe.Addr(), Op: "request " + cm.String()})
		pe.SendMessage(cm)
		pe.Snubbed = true
	}
	if len(reassign) > 0 {
		t.requestBlocksAll()
	}
}

// applyFilePriorities sets the priority of every piece to the highest priority of the files it overlaps.
func (t *torrent) applyFilePriorities() {
	if t.picker == nil {
		return
	}
	for i := range t.pieces {
		pri := piecepicker.Skip
		for _, f := range t.pieces[i].Files {
			pri = max(pri, t.filePriorities[f])
		}
		t.picker.SetPriority(uint32(i), pri)
	}
}

// isComplete reports whether every piece that is not skipped is verified.
func (t *torrent) isComplete() bool {
	verified := t.store.Verified()
	for i := uint32(0); i < t.store.Len(); i++ {
		if !verified.Test(i) && t.picker.Priority(i) != piecepicker.Skip {
			return false
		}
	}
	return true
}

func (t *torrent) checkCompletion() {
	if t.completed || !t.isComplete() {
		return
	}
	t.completed = true
	t.atomicCompleted.Store(true)
	t.log.Info("download completed")
	if !t.completedClosed {
		close(t.completedC)
		t.completedClosed = true
	}
	for _, pe := range t.peers {
		if pe != nil {
			t.releaseRequests(pe.Index)
			t.updateInterested(pe)
		}
	}
	if t.status == Downloading {
		t.setStatus(Seeding)
	}
	t.publish(Event{Type: EventCompleted})
	t.writeResume()
	t.session.schedule()
}

// bytesCompleted is the total size of verified pieces.
func (t *torrent) bytesCompleted() int64 {
	if t.store == nil || t.info == nil {
		return 0
	}
	n := t.store.Count(piecestore.Verified)
	if n == 0 {
		return 0
	}
	total := int64(n) * int64(t.info.PieceLength)
	last := t.info.NumPieces - 1
	if t.store.Verified().Test(last) {
		total -= int64(t.info.PieceLength) - int64(t.info.PieceSize(last))
	}
	return total
}

func cancelMessage(pieceIndex uint32, b piece.Block) peerprotocol.CancelMessage {
	return peerprotocol.CancelMessage{RequestMessage: peerprotocol.RequestMessage{Index: pieceIndex, Begin: b.Begin, Length: b.Length}}
}
