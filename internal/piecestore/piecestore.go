// Package piecestore tracks the download state of every piece of a torrent.
//
// A piece moves Missing -> Requested -> Verified. The only ways back are a failed
// hash check (Requested -> Missing) and an explicit corruption event
// (Verified -> Missing). Store is not safe for concurrent use; it belongs to the
// goroutine running its torrent.
package piecestore

import (
	"fmt"

	"github.com/drizzle-bt/drizzle/internal/bitfield"
)

// State of a piece.
type State uint8

const (
	Missing State = iota
	Requested
	Verified
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Requested:
		return "requested"
	case Verified:
		return "verified"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// TransitionError is returned for a state change the state machine does not allow.
type TransitionError struct {
	Index    uint32
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("piece #%d: invalid transition %s -> %s", e.Index, e.From, e.To)
}

// Store holds piece states and corruption counters.
type Store struct {
	states       []State
	verified     *bitfield.Bitfield
	hashFailures []uint32
	corruptions  int
	counts       [3]uint32
}

// New returns a store for numPieces pieces. Pieces set in verified start Verified,
// pieces set in requested (in-progress pieces restored from resume data) start
// Requested, all others Missing. Either bitfield may be nil.
func New(numPieces uint32, verified, requested *bitfield.Bitfield) *Store {
	s := &Store{
		states:       make([]State, numPieces),
		verified:     bitfield.New(numPieces),
		hashFailures: make([]uint32, numPieces),
	}
	for i := uint32(0); i < numPieces; i++ {
		switch {
		case verified != nil && verified.Test(i):
			s.states[i] = Verified
			s.verified.Set(i)
		case requested != nil && requested.Test(i):
			s.states[i] = Requested
		}
		s.counts[s.states[i]]++
	}
	return s
}

// Len returns the number of pieces.
func (s *Store) Len() uint32 { return uint32(len(s.states)) }

// State returns the state of piece i.
func (s *Store) State(i uint32) State { return s.states[i] }

func (s *Store) set(i uint32, from, to State) error {
	if cur := s.states[i]; cur != from {
		return &TransitionError{Index: i, From: cur, To: to}
	}
	s.counts[from]--
	s.counts[to]++
	s.states[i] = to
	s.verified.SetTo(i, to == Verified)
	return nil
}

// MarkRequested records that a block of a missing piece was requested.
// It is a no-op for a piece that is already Requested.
func (s *Store) MarkRequested(i uint32) error {
	if s.states[i] == Requested {
		return nil
	}
	return s.set(i, Missing, Requested)
}

// MarkVerified records a successful hash check of a requested piece.
func (s *Store) MarkVerified(i uint32) error {
	return s.set(i, Requested, Verified)
}

// MarkFailed records a failed hash check. The piece goes back to Missing and its
// failure count, which is returned, is incremented.
func (s *Store) MarkFailed(i uint32) (uint32, error) {
	if err := s.set(i, Requested, Missing); err != nil {
		return 0, err
	}
	s.hashFailures[i]++
	s.corruptions++
	return s.hashFailures[i], nil
}

// MarkCorrupt records that a verified piece was found damaged on disk.
func (s *Store) MarkCorrupt(i uint32) error {
	if err := s.set(i, Verified, Missing); err != nil {
		return err
	}
	s.hashFailures[i]++
	s.corruptions++
	return nil
}

// HashFailures returns how many times piece i failed verification.
func (s *Store) HashFailures(i uint32) uint32 { return s.hashFailures[i] }

// Corruptions returns the total number of failed verifications.
func (s *Store) Corruptions() int { return s.corruptions }

// ResetCorruptions zeroes the total used for the error threshold. Per piece counts are kept.
func (s *Store) ResetCorruptions() { s.corruptions = 0 }

// Count returns the number of pieces in state st.
func (s *Store) Count(st State) uint32 { return s.counts[st] }

// Verified returns the bitfield of verified pieces. The caller must not modify it.
func (s *Store) Verified() *bitfield.Bitfield { return s.verified }

// Requested returns a bitfield of pieces in progress.
func (s *Store) Requested() *bitfield.Bitfield {
	b := bitfield.New(s.Len())
	for i, st := range s.states {
		if st == Requested {
			b.Set(uint32(i))
		}
	}
	return b
}
