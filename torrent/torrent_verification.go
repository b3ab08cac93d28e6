package torrent

import (
	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/piecestore"
	"github.com/drizzle-bt/drizzle/internal/verifier"
)

// recheck hashes every piece on disk. A running torrent resumes after the check,
// a stopped one goes back to Paused.
func (t *torrent) recheck() {
	if t.info == nil || t.status == Checking {
		return
	}
	run := t.status.running()
	t.stopPeerActivity()
	if err := t.openFiles(); err != nil {
		t.setError(err)
		return
	}
	t.startVerifier(nil, run)
}

func (t *torrent) handleVerificationDone(v *verifier.Verifier) {
	if v != t.verifier {
		return
	}
	t.verifier = nil
	t.checkedPieces = 0
	if v.Error != nil {
		t.setError(newDiskError("verify", v.Error))
		return
	}
	t.log.Infof("check finished: %d of %d pieces are valid", v.Bitfield.Count(), v.Bitfield.Len())
	if t.store == nil {
		t.initPieces(v.Bitfield, nil)
	} else {
		t.reconcile(v.Bitfield)
		if c := t.store.Corruptions(); c > t.config.CorruptionThreshold {
			t.setError(&CorruptionError{Corruptions: c, Threshold: t.config.CorruptionThreshold})
			return
		}
	}
	t.writeResume()
	t.publish(Event{Type: EventProgress})
	if !t.checkThenRun {
		t.setStatus(Paused)
		t.session.schedule()
		return
	}
	if t.completed {
		t.setStatus(Seeding)
	} else {
		t.setStatus(Downloading)
	}
	t.startPeerActivity()
	t.verifyCompletedPieces()
	t.session.schedule()
}

// reconcile applies the result of a recheck to existing piece state.
func (t *torrent) reconcile(onDisk *bitfield.Bitfield) {
	for i := uint32(0); i < t.store.Len(); i++ {
		ok := onDisk.Test(i)
		switch t.store.State(i) {
		case piecestore.Verified:
			if ok {
				continue
			}
			t.log.Warningf("piece #%d is corrupt on disk", i)
			if err := t.store.MarkCorrupt(i); err != nil {
				t.log.Errorln(err)
				continue
			}
			t.picker.Reset(i)
			t.requests.RemovePiece(i)
		case piecestore.Requested:
			if !ok {
				continue
			}
			t.markVerifiedByCheck(i)
		case piecestore.Missing:
			if !ok {
				continue
			}
			if err := t.store.MarkRequested(i); err != nil {
				t.log.Errorln(err)
				continue
			}
			t.markVerifiedByCheck(i)
		}
	}
	wasCompleted := t.completed
	t.completed = t.isComplete()
	t.atomicCompleted.Store(t.completed)
	if t.completed && !wasCompleted {
		if !t.completedClosed {
			close(t.completedC)
			t.completedClosed = true
		}
		t.publish(Event{Type: EventCompleted})
	}
}

func (t *torrent) markVerifiedByCheck(i uint32) {
	if err := t.store.MarkVerified(i); err != nil {
		t.log.Errorln(err)
		return
	}
	t.picker.SetVerified(i)
	t.requests.RemovePiece(i)
	delete(t.contributors, i)
}
