package piecepicker

import (
	"testing"

	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPieces(n int, length uint32) []piece.Piece {
	pieces := make([]piece.Piece, n)
	for i := range pieces {
		pieces[i] = piece.Piece{Index: uint32(i), Length: length}
	}
	return pieces
}

func TestRarestFirst(t *testing.T) {
	pp := New(newPieces(2, piece.BlockSize), nil, 0)
	pp.HandleHave(1, 0)
	pp.HandleHave(2, 0)
	pp.HandleHave(3, 0)
	pp.HandleHave(1, 1)

	reqs := pp.PickBlocks(1, 1)
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 1, reqs[0].Piece)
	assert.Equal(t, []uint32{1, 0}, pp.Order())
	assert.EqualValues(t, 2, pp.Available())
}

func TestTieBrokenByIndex(t *testing.T) {
	pp := New(newPieces(3, piece.BlockSize), nil, 0)
	for i := uint32(0); i < 3; i++ {
		pp.HandleHave(7, 2-i)
	}
	reqs := pp.PickBlocks(7, 3)
	require.Len(t, reqs, 3)
	for i, r := range reqs {
		assert.EqualValues(t, i, r.Piece)
	}
}

func TestPriorityBeforeRarity(t *testing.T) {
	pp := New(newPieces(2, piece.BlockSize), nil, 0)
	pp.HandleHave(1, 0)
	pp.HandleHave(2, 0)
	pp.HandleHave(1, 1)
	pp.SetPriority(0, High)
	reqs := pp.PickBlocks(1, 1)
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 0, reqs[0].Piece)
}

func TestPartialFirst(t *testing.T) {
	pp := New(newPieces(2, 2*piece.BlockSize), nil, 0)
	pp.HandleHave(1, 0)
	pp.HandleHave(2, 0)
	pp.HandleHave(1, 1)
	pp.HandleHave(2, 1)
	pp.HandleHave(3, 1)
	// Piece 1 is more common but already started.
	res, _ := pp.GotBlock(3, 1, piece.Block{Index: 0, Begin: 0, Length: piece.BlockSize})
	assert.Equal(t, Accepted, res)
	reqs := pp.PickBlocks(1, 1)
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 1, reqs[0].Piece)
	assert.EqualValues(t, 1, reqs[0].Index)
}

func TestSkipNeverPicked(t *testing.T) {
	pp := New(newPieces(2, piece.BlockSize), nil, 0)
	pp.HandleHaveAll(1)
	pp.HandleHaveAll(2)
	pp.SetPriority(1, Skip)
	for peer := PeerID(1); peer <= 2; peer++ {
		for round := 0; round < 3; round++ {
			for _, r := range pp.PickBlocks(peer, 10) {
				assert.NotEqualValues(t, 1, r.Piece)
			}
		}
	}
	// Finishing the wanted piece leaves nothing to request, not even in endgame.
	res, _ := pp.GotBlock(1, 0, piece.Block{Length: piece.BlockSize})
	assert.Equal(t, Accepted, res)
	pp.SetVerified(0)
	assert.False(t, pp.Endgame())
	assert.Empty(t, pp.PickBlocks(1, 10))
}

func TestEndgame(t *testing.T) {
	pp := New(newPieces(1, piece.BlockSize), nil, 0)
	pp.HandleHave(1, 0)
	pp.HandleHave(2, 0)
	pp.HandleHave(3, 0)

	r1 := pp.PickBlocks(1, 5)
	require.Len(t, r1, 1)
	assert.True(t, pp.Endgame())

	r2 := pp.PickBlocks(2, 5)
	require.Len(t, r2, 1, "duplicate request in endgame")
	assert.Equal(t, r1[0], r2[0])
	r3 := pp.PickBlocks(3, 5)
	require.Len(t, r3, 1)

	res, cancels := pp.GotBlock(2, 0, r2[0].Block)
	assert.Equal(t, Accepted, res)
	assert.ElementsMatch(t, []PeerID{1, 3}, cancels)
	assert.True(t, pp.Complete(0))

	// The second copy is discarded.
	res, cancels = pp.GotBlock(1, 0, r1[0].Block)
	assert.Equal(t, Duplicate, res)
	assert.Empty(t, cancels)
}

func TestEndgameMaxDuplicates(t *testing.T) {
	pp := New(newPieces(1, piece.BlockSize), nil, 1)
	for peer := PeerID(1); peer <= 3; peer++ {
		pp.HandleHave(peer, 0)
	}
	assert.Len(t, pp.PickBlocks(1, 1), 1)
	assert.Len(t, pp.PickBlocks(2, 1), 1)
	assert.Empty(t, pp.PickBlocks(3, 1))
}

func TestCancelAndDisconnect(t *testing.T) {
	pp := New(newPieces(1, 2*piece.BlockSize), nil, 0)
	pp.HandleHave(1, 0)
	pp.HandleHave(2, 0)
	reqs := pp.PickBlocks(1, 2)
	require.Len(t, reqs, 2)
	assert.True(t, pp.Partial(0))

	// Not endgame yet for peer 2? Every block is requested, so it is.
	assert.True(t, pp.Endgame())

	pp.CancelRequest(1, 0, 1)
	assert.False(t, pp.Endgame())
	reqs = pp.PickBlocks(2, 2)
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 1, reqs[0].Index)

	pp.HandleDisconnect(1)
	assert.Equal(t, 1, pp.Availability(0))
	reqs = pp.PickBlocks(2, 2)
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 0, reqs[0].Index)

	pp.HandleDisconnect(2)
	assert.False(t, pp.Partial(0))
	assert.EqualValues(t, 0, pp.Available())
}

func TestResetAndRestore(t *testing.T) {
	verified := bitfield.New(2)
	verified.Set(0)
	pp := New(newPieces(2, 3*piece.BlockSize), verified, 0)
	pp.HandleHaveAll(1)
	for _, r := range pp.PickBlocks(1, 10) {
		assert.EqualValues(t, 1, r.Piece)
	}

	res, _ := pp.GotBlock(1, 1, piece.Block{Index: 2, Begin: 2 * piece.BlockSize, Length: piece.BlockSize})
	require.Equal(t, Accepted, res)
	rb := pp.ReceivedBlocks(1)
	assert.Equal(t, []uint32{2}, rb.Indices())

	cancels := pp.Reset(1)
	assert.Len(t, cancels, 2)
	assert.False(t, pp.Partial(1))

	pp.RestoreBlocks(1, rb)
	assert.True(t, pp.Partial(1))
	assert.Equal(t, []uint32{2}, pp.ReceivedBlocks(1).Indices())

	res, _ = pp.GotBlock(1, 0, piece.Block{})
	assert.Equal(t, Unwanted, res)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("HIGH")
	require.NoError(t, err)
	assert.Equal(t, High, p)
	_, err = ParsePriority("urgent")
	assert.Error(t, err)
	b, _ := Skip.MarshalText()
	assert.Equal(t, "skip", string(b))
}
