// Package pieceverifier checks the hash of a single piece after all of its blocks are written.
package pieceverifier

import (
	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/drizzle-bt/drizzle/internal/semaphore"
)

// PieceVerifier reads a piece back from disk and compares it with the piece hash.
type PieceVerifier struct {
	Piece *piece.Piece
	OK    bool
	Error error
}

// New returns a verifier for p.
func New(p *piece.Piece) *PieceVerifier {
	return &PieceVerifier{Piece: p}
}

// Run verifies the piece and sends itself to resultC. sem may be nil.
func (v *PieceVerifier) Run(resultC chan *PieceVerifier, closeC chan struct{}, sem *semaphore.Semaphore) {
	if sem != nil {
		sem.Wait()
	}
	buf := make([]byte, v.Piece.Length)
	v.OK, v.Error = v.Piece.Verify(buf)
	if sem != nil {
		sem.Signal()
	}
	select {
	case resultC <- v:
	case <-closeC:
	}
}
