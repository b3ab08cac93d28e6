// Package verifier hashes every piece on disk to find out which ones are already downloaded.
package verifier

import (
	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/piece"
)

// Verifier checks the pieces of a torrent against their hashes.
// Results are read from Bitfield and Error after it is sent to the result channel.
type Verifier struct {
	Bitfield *bitfield.Bitfield
	Error    error

	closeC chan struct{}
	doneC  chan struct{}
}

// Progress of a running check.
type Progress struct {
	Checked  uint32
	Verified uint32
}

// New returns a new Verifier.
func New() *Verifier {
	return &Verifier{
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
}

// Close stops hashing and waits for Run to return.
func (v *Verifier) Close() {
	close(v.closeC)
	<-v.doneC
}

// Run hashes pieces in order. Pieces for which skip returns true are not read and
// reported as missing. skip may be nil.
// Intermediate progress is dropped when the receiver is busy; the final progress is always sent.
func (v *Verifier) Run(pieces []piece.Piece, skip func(uint32) bool, progressC chan Progress, resultC chan *Verifier) {
	defer close(v.doneC)

	v.Bitfield = bitfield.New(uint32(len(pieces)))
	if v.check(pieces, skip, progressC) {
		select {
		case resultC <- v:
		case <-v.closeC:
		}
	}
}

func (v *Verifier) check(pieces []piece.Piece, skip func(uint32) bool, progressC chan Progress) bool {
	if len(pieces) == 0 {
		return true
	}
	var p Progress
	buf := make([]byte, pieces[0].Length)
	for i := range pieces {
		pi := &pieces[i]
		if skip == nil || !skip(pi.Index) {
			ok, err := pi.Verify(buf)
			if err != nil {
				v.Error = err
				return true
			}
			if ok {
				v.Bitfield.Set(pi.Index)
				p.Verified++
			}
		}
		p.Checked = pi.Index + 1
		if p.Checked == uint32(len(pieces)) {
			break
		}
		select {
		case progressC <- p:
		case <-v.closeC:
			return false
		default:
		}
	}
	select {
	case progressC <- p:
		return true
	case <-v.closeC:
		return false
	}
}
