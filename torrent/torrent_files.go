package torrent

import (
	"errors"
	"fmt"

	"github.com/drizzle-bt/drizzle/internal/bandwidth"
	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/hashicorp/go-multierror"
)

var errNoInfo = errors.New("torrent metadata is not downloaded yet")

func (t *torrent) setFilePriority(file int, p piecepicker.Priority) error {
	if t.info == nil {
		return errNoInfo
	}
	if file < 0 || file >= len(t.filePriorities) {
		return newInputError(fmt.Errorf("invalid file index: %d", file))
	}
	if p < piecepicker.Skip || p > piecepicker.High {
		return newInputError(fmt.Errorf("invalid priority: %d", p))
	}
	if t.filePriorities[file] == p {
		return nil
	}
	t.filePriorities[file] = p
	t.writePriorities()
	if t.picker == nil {
		return nil
	}
	t.applyFilePriorities()
	if p == piecepicker.Skip {
		t.cancelSkippedRequests()
	}
	for _, pe := range t.peers {
		if pe != nil {
			t.updateInterested(pe)
		}
	}
	wasCompleted := t.completed
	t.completed = t.isComplete()
	t.atomicCompleted.Store(t.completed)
	switch {
	case wasCompleted && !t.completed:
		t.log.Infoln("file un-skipped on a completed torrent, waiting for a download slot")
		if t.status == Seeding {
			t.stop(Queued)
		}
	case !wasCompleted && t.completed:
		t.checkCompletionAfterSkip()
	default:
		t.requestBlocksAll()
	}
	return nil
}

// cancelSkippedRequests withdraws outstanding requests for pieces that are skipped now.
func (t *torrent) cancelSkippedRequests() {
	for i := uint32(0); i < t.store.Len(); i++ {
		if t.picker.Priority(i) != piecepicker.Skip || !t.picker.Partial(i) {
			continue
		}
		for _, r := range t.requests.RemovePiece(i) {
			t.picker.CancelRequest(r.Peer, r.Piece, r.Block.Index)
			if pe := t.peers[r.Peer]; pe != nil {
				pe.SendMessage(cancelMessage(r.Piece, r.Block))
			}
		}
	}
}

// checkCompletionAfterSkip runs the completion handling when skipping files left nothing to download.
func (t *torrent) checkCompletionAfterSkip() {
	t.completed = false
	t.checkCompletion()
}

func (t *torrent) setLimits(download, upload int64) {
	t.limiter.SetLimit(bandwidth.Download, download)
	t.limiter.SetLimit(bandwidth.Upload, upload)
	t.log.Infof("speed limits set: download=%d upload=%d", download, upload)
}

// removeData closes the torrent's files and deletes them from storage.
func (t *torrent) removeData() error {
	if t.verifier != nil {
		t.verifier.Close()
		t.verifier = nil
	}
	t.stopPeerActivity()
	t.closeFiles()
	if t.info == nil {
		return nil
	}
	var result error
	for _, f := range t.info.GetFiles() {
		if err := t.storage.Remove(f.Path); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
