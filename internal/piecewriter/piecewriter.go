// Package piecewriter writes received blocks to disk.
package piecewriter

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/drizzle-bt/drizzle/internal/semaphore"
	"github.com/rcrowley/go-metrics"
)

var errClosed = errors.New("torrent is closed")

// PieceWriter writes the data of one block to the files of its piece.
type PieceWriter struct {
	Piece *piece.Piece
	Block piece.Block
	// Peer is the table index of the peer the block came from.
	Peer uint32
	Data []byte

	// Error is set when the write kept failing after all retries.
	Error error
}

// New returns new PieceWriter for a block of p.
func New(p *piece.Piece, b piece.Block, peer uint32, data []byte) *PieceWriter {
	return &PieceWriter{
		Piece: p,
		Block: b,
		Peer:  peer,
		Data:  data,
	}
}

// Options of a write.
type Options struct {
	// Retries is the number of additional attempts after a failed write.
	Retries int
	// RetryInterval is the delay before the first retry. It grows exponentially.
	RetryInterval time.Duration
	// Semaphore limits concurrent writes. May be nil.
	Semaphore *semaphore.Semaphore
	// WriteSpeed is marked with the written bytes. May be nil.
	WriteSpeed metrics.Meter
}

// Run writes the block, retrying with exponential backoff, then sends itself to resultC.
func (w *PieceWriter) Run(resultC chan *PieceWriter, closeC chan struct{}, opt Options) {
	if opt.Semaphore != nil {
		opt.Semaphore.Wait()
	}
	bo := backoff.NewExponentialBackOff()
	if opt.RetryInterval > 0 {
		bo.InitialInterval = opt.RetryInterval
	}
	bo.MaxElapsedTime = 0
	op := func() error {
		select {
		case <-closeC:
			return backoff.Permanent(errClosed)
		default:
		}
		_, err := w.Piece.Data.WriteAt(w.Data, int64(w.Block.Begin))
		return err
	}
	w.Error = backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(max(opt.Retries, 0))))
	if opt.Semaphore != nil {
		opt.Semaphore.Signal()
	}
	if w.Error == nil && opt.WriteSpeed != nil {
		opt.WriteSpeed.Mark(int64(len(w.Data)))
	}
	select {
	case resultC <- w:
	case <-closeC:
	}
}
