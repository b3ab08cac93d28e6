package torrent

import (
	"github.com/drizzle-bt/drizzle/internal/infodownloader"
	"github.com/drizzle-bt/drizzle/internal/metainfo"
	"github.com/drizzle-bt/drizzle/internal/peer"
)

// Size of a metadata piece in the ut_metadata extension.
const metadataPieceSize = 16 * 1024

// Max number of peers the info dictionary is downloaded from at the same time.
const parallelInfoDownloads = 4

// startInfoDownloaders starts metadata downloads from peers that announced a valid metadata size.
func (t *torrent) startInfoDownloaders() {
	if t.info != nil {
		return
	}
	for _, pe := range t.peers {
		if len(t.infoDownloaders) >= parallelInfoDownloads {
			return
		}
		if pe == nil || !pe.SupportsMetadata() {
			continue
		}
		if _, ok := t.infoDownloaders[pe.Index]; ok {
			continue
		}
		if !infodownloader.ValidSize(int(pe.MetadataSize())) {
			pe.Logger().Debugln("invalid metadata size:", pe.MetadataSize())
			continue
		}
		id := infodownloader.New(pe)
		t.infoDownloaders[pe.Index] = id
		id.RequestBlocks(t.config.MetadataRequestQueueLength)
	}
}

func (t *torrent) handleMetadataPiece(pe *peer.Peer, index uint32, data []byte) {
	id, ok := t.infoDownloaders[pe.Index]
	if !ok {
		return
	}
	if err := id.GotBlock(index, data); err != nil {
		pe.Logger().Errorln(err)
		t.closePeer(pe)
		return
	}
	if !id.Done() {
		id.RequestBlocks(t.config.MetadataRequestQueueLength)
		return
	}
	delete(t.infoDownloaders, pe.Index)
	if !id.Verify(t.infoHash) {
		pe.Logger().Errorln("received info does not match with hash")
		t.closePeer(pe)
		return
	}
	info, err := metainfo.NewInfo(id.Bytes)
	if err != nil {
		pe.Logger().Errorln("cannot parse info bytes:", err)
		t.closePeer(pe)
		return
	}
	t.handleMetadataDone(info)
}

func (t *torrent) handleMetadataReject(pe *peer.Peer, index uint32) {
	id, ok := t.infoDownloaders[pe.Index]
	if !ok {
		return
	}
	pe.Logger().Debugln(id.Rejected(index))
	delete(t.infoDownloaders, pe.Index)
	t.startInfoDownloaders()
}

// handleMetadataDone switches a magnet torrent to normal operation after the info dictionary is downloaded.
func (t *torrent) handleMetadataDone(info *metainfo.Info) {
	t.log.Infoln("metadata downloaded:", info.Name)
	clear(t.infoDownloaders)
	t.setInfo(info)
	if t.resume != nil {
		if err := t.resume.WriteInfo(info.Bytes); err != nil {
			t.log.Errorln("cannot write info to resume db:", err)
		}
		t.writePriorities()
	}
	if err := t.openFiles(); err != nil {
		t.setError(err)
		return
	}
	if len(t.existingFiles) > 0 {
		t.stopPeerActivity()
		t.startVerifier(t.skipNewFiles(), true)
		return
	}
	t.initPieces(nil, nil)
	t.startDownload()
	t.replayPeerMessages()
}

// replayPeerMessages handles the piece announcements peers sent before the info dictionary was known.
func (t *torrent) replayPeerMessages() {
	for _, pe := range t.peers {
		if pe == nil {
			continue
		}
		if pe.FastEnabled {
			t.sendAllowedFast(pe)
		}
		msgs := pe.Messages
		pe.Messages = nil
		for _, msg := range msgs {
			t.handlePeerMessage(peer.Message{Peer: pe, Message: msg})
		}
	}
}
