package torrent

import (
	"time"

	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/peer"
	"github.com/drizzle-bt/drizzle/internal/peerconn/peerreader"
	"github.com/drizzle-bt/drizzle/internal/peerconn/peerwriter"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/drizzle-bt/drizzle/internal/piecewriter"
)

func (t *torrent) handlePeerMessage(pm peer.Message) {
	pe := pm.Peer
	if int(pe.Index) >= len(t.peers) || t.peers[pe.Index] != pe {
		// Message of a peer closed while the message was in flight.
		return
	}
	switch msg := pm.Message.(type) {
	case peerreader.Piece:
		t.handlePieceMessage(pe, msg.PieceMessage)
	case peerwriter.BlockUploaded:
		l := int64(msg.Length)
		pe.Uploaded(l)
		t.bytesUploaded += l
		t.uploadSpeed.Mark(l)
		t.session.metrics.SpeedUpload.Mark(l)
	case peerprotocol.HaveMessage:
		if t.picker == nil {
			pe.Messages = append(pe.Messages, msg)
			break
		}
		if msg.Index >= t.info.NumPieces {
			pe.Logger().Errorln("unexpected piece index:", msg.Index)
			t.closePeer(pe)
			break
		}
		t.peerBitfield(pe).Set(msg.Index)
		t.picker.HandleHave(pe.Index, msg.Index)
		t.updateInterested(pe)
		t.requestBlocks(pe)
	case peerprotocol.BitfieldMessage:
		if t.picker == nil {
			pe.Messages = append(pe.Messages, msg)
			break
		}
		bf, err := bitfield.FromWire(msg.Data, t.info.NumPieces)
		if err != nil {
			pe.Logger().Errorln("invalid bitfield:", err)
			t.closePeer(pe)
			break
		}
		pe.Bitfield = bf
		t.picker.HandleBitfield(pe.Index, bf)
		t.updateInterested(pe)
		t.requestBlocks(pe)
	case peerprotocol.HaveAllMessage:
		if !pe.FastEnabled {
			pe.Logger().Errorln("have all message received but fast extension is disabled")
			t.closePeer(pe)
			break
		}
		if t.picker == nil {
			pe.Messages = append(pe.Messages, msg)
			break
		}
		t.peerBitfield(pe).SetAll()
		t.picker.HandleHaveAll(pe.Index)
		t.updateInterested(pe)
		t.requestBlocks(pe)
	case peerprotocol.HaveNoneMessage:
		if !pe.FastEnabled {
			pe.Logger().Errorln("have none message received but fast extension is disabled")
			t.closePeer(pe)
		}
	case peerprotocol.AllowedFastMessage:
		// Blocks are requested only from peers that unchoked us, so the set is not used.
		pe.Logger().Debugln("peer allowed fast piece:", msg.Index)
	case peerprotocol.UnchokeMessage:
		pe.PeerChoking = false
		t.requestBlocks(pe)
	case peerprotocol.ChokeMessage:
		pe.PeerChoking = true
		if !pe.FastEnabled {
			// Without the fast extension a choke discards every pending request silently.
			t.releaseRequests(pe.Index)
			t.requestBlocksAll()
		}
	case peerprotocol.InterestedMessage:
		pe.PeerInterested = true
		t.unchoker.FastUnchoke(pe)
	case peerprotocol.NotInterestedMessage:
		pe.PeerInterested = false
	case peerprotocol.RequestMessage:
		t.handleRequest(pe, msg)
	case peerprotocol.CancelMessage:
		pe.CancelRequest(msg)
	case peerprotocol.RejectMessage:
		if !pe.FastEnabled {
			pe.Logger().Errorln("reject message received but fast extension is disabled")
			t.closePeer(pe)
			break
		}
		if t.requests == nil {
			break
		}
		if r, ok := t.requests.Remove(pe.Index, msg.Index, msg.Begin); ok {
			t.picker.CancelRequest(pe.Index, r.Piece, r.Block.Index)
			t.requestBlocksAll()
		}
	case peerprotocol.PortMessage:
	case peerprotocol.ExtensionMessage:
		t.handleExtensionMessage(pe, msg)
	default:
		pe.Logger().Debugf("unhandled message type: %T", msg)
	}
}

func (t *torrent) peerBitfield(pe *peer.Peer) *bitfield.Bitfield {
	if pe.Bitfield == nil {
		pe.Bitfield = bitfield.New(t.info.NumPieces)
	}
	return pe.Bitfield
}

func (t *torrent) handlePieceMessage(pe *peer.Peer, msg peerprotocol.PieceMessage) {
	l := int64(len(msg.Data))
	if t.picker == nil {
		pe.Logger().Errorln("piece received but we don't have info")
		t.bytesWasted += l
		t.closePeer(pe)
		return
	}
	if msg.Index >= t.info.NumPieces {
		pe.Logger().Errorln("invalid piece index:", msg.Index)
		t.bytesWasted += l
		t.closePeer(pe)
		return
	}
	pe.Downloaded(l)
	t.bytesDownloaded += l
	t.downloadSpeed.Mark(l)
	t.session.metrics.SpeedDownload.Mark(l)

	pi := &t.pieces[msg.Index]
	block, ok := pi.FindBlock(msg.Begin, uint32(len(msg.Data)))
	if !ok {
		pe.Logger().Errorln("invalid block:", msg.Index, "begin:", msg.Begin, "length:", len(msg.Data))
		t.bytesWasted += l
		t.closePeer(pe)
		return
	}
	if _, ok = t.requests.Remove(pe.Index, msg.Index, msg.Begin); ok {
		pe.Snubbed = false
	}
	res, others := t.picker.GotBlock(pe.Index, msg.Index, block)
	switch res {
	case piecepicker.Accepted:
		t.lastProgress = time.Now()
		for _, id := range others {
			t.cancelRequest(id, msg.Index, block)
		}
		if err := t.store.MarkRequested(msg.Index); err != nil {
			pe.Logger().Warningln(err)
		}
		t.pendingWrites[msg.Index]++
		ips := t.contributors[msg.Index]
		if ips == nil {
			ips = make(map[string]struct{})
			t.contributors[msg.Index] = ips
		}
		ips[pe.IP().String()] = struct{}{}
		pw := piecewriter.New(pi, block, pe.Index, msg.Data)
		go pw.Run(t.pieceWriterResultC, t.closeC, piecewriter.Options{
			Retries:       t.config.DiskWriteRetries,
			RetryInterval: t.config.DiskWriteRetryInterval,
			Semaphore:     t.session.semWrite,
			WriteSpeed:    t.session.metrics.SpeedWrite,
		})
	case piecepicker.Duplicate:
		pe.Logger().Debugln("received duplicate block:", msg.Index, block.Index)
		t.bytesWasted += l
	case piecepicker.Unwanted:
		pe.Logger().Debugln("received unwanted block:", msg.Index, block.Index)
		t.bytesWasted += l
	}
	t.requestBlocks(pe)
}

// cancelRequest withdraws a block request from a peer after another peer delivered it in endgame.
func (t *torrent) cancelRequest(peerIndex uint32, pieceIndex uint32, b piece.Block) {
	if _, ok := t.requests.Remove(peerIndex, pieceIndex, b.Begin); !ok {
		return
	}
	if pe := t.peers[peerIndex]; pe != nil {
		pe.SendMessage(cancelMessage(pieceIndex, b))
	}
}

func (t *torrent) handleRequest(pe *peer.Peer, msg peerprotocol.RequestMessage) {
	if t.store == nil || msg.Index >= t.info.NumPieces {
		pe.Logger().Errorln("invalid request:", msg)
		t.closePeer(pe)
		return
	}
	if msg.Length > peerprotocol.MaxBlockSize {
		pe.Logger().Errorln("request too large:", msg)
		t.closePeer(pe)
		return
	}
	pi := &t.pieces[msg.Index]
	if msg.Length == 0 || uint64(msg.Begin)+uint64(msg.Length) > uint64(pi.Length) {
		pe.Logger().Errorln("request out of piece bounds:", msg)
		t.closePeer(pe)
		return
	}
	if !t.store.Verified().Test(msg.Index) {
		t.rejectRequest(pe, msg)
		return
	}
	if pe.AmChoking {
		if _, ok := pe.AllowedFastPieces[msg.Index]; !ok {
			t.rejectRequest(pe, msg)
			return
		}
	}
	pe.SendPiece(msg, pi)
}

func (t *torrent) rejectRequest(pe *peer.Peer, msg peerprotocol.RequestMessage) {
	if pe.FastEnabled {
		pe.SendMessage(peerprotocol.RejectMessage{RequestMessage: msg})
	}
}

func (t *torrent) handleExtensionMessage(pe *peer.Peer, msg peerprotocol.ExtensionMessage) {
	switch em := msg.Payload.(type) {
	case peerprotocol.ExtensionHandshakeMessage:
		pe.ExtensionHandshake = &em
		if t.status == Metadata {
			t.startInfoDownloaders()
		}
	case peerprotocol.ExtensionMetadataMessage:
		if !pe.SupportsMetadata() {
			pe.Logger().Errorln("metadata message received before extension handshake")
			t.closePeer(pe)
			return
		}
		switch em.Type {
		case peerprotocol.ExtensionMetadataMessageTypeRequest:
			t.serveMetadataPiece(pe, em.Piece)
		case peerprotocol.ExtensionMetadataMessageTypeData:
			t.handleMetadataPiece(pe, em.Piece, em.Data)
		case peerprotocol.ExtensionMetadataMessageTypeReject:
			t.handleMetadataReject(pe, em.Piece)
		}
	}
}

// serveMetadataPiece answers a BEP 9 request. Private torrents never share metadata.
func (t *torrent) serveMetadataPiece(pe *peer.Peer, index uint32) {
	if t.info == nil || t.info.IsPrivate() {
		pe.SendMetadataPiece(index, 0, nil)
		return
	}
	b := t.info.Bytes
	begin := int64(index) * metadataPieceSize
	if begin >= int64(len(b)) {
		pe.SendMetadataPiece(index, 0, nil)
		return
	}
	end := min(begin+metadataPieceSize, int64(len(b)))
	pe.SendMetadataPiece(index, len(b), b[begin:end])
}
