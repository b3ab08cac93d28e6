// Package piecepicker decides which blocks to request from which peer.
package piecepicker

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/multiless"
	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/piece"
)

/*

Things considered when picking a block for a peer:

  * Piece is verified or its priority is skip
  * Peer has the piece
  * Block is already received
  * Block is requested from another peer (allowed only in endgame)
  * Block is already requested from this peer

The caller is responsible for not picking for peers that are choking us.

*/

// PeerID identifies a peer by its slot in the torrent's peer table.
type PeerID = uint32

// Request is a block picked for a peer.
type Request struct {
	Piece uint32
	piece.Block
}

// BlockResult is the outcome of GotBlock.
type BlockResult int

const (
	// Accepted blocks must be written and, once the piece is complete, verified.
	Accepted BlockResult = iota
	// Duplicate blocks were already received from another peer and must be discarded.
	Duplicate
	// Unwanted blocks do not belong to a piece we are downloading.
	Unwanted
)

type blockState struct {
	received   bool
	requesters []PeerID
}

type pieceState struct {
	piece.Piece
	priority  Priority
	verified  bool
	having    *roaring.Bitmap
	blocks    []blockState
	received  uint32
	requested uint32 // blocks with at least one outstanding request
}

func (p *pieceState) partial() bool { return p.received > 0 || p.requested > 0 }

func (p *pieceState) wanted() bool { return !p.verified && p.priority != Skip }

// Picker keeps piece availability and the request state of every block.
// It is not safe for concurrent use.
type Picker struct {
	pieces        []pieceState
	order         []uint32
	dirty         bool
	maxDuplicates int
	available     uint32
}

// New returns a picker for pieces. Pieces set in verified are never picked.
// maxDuplicates bounds the extra requests of a block in endgame; 0 means no bound.
func New(pieces []piece.Piece, verified *bitfield.Bitfield, maxDuplicates int) *Picker {
	p := &Picker{
		pieces:        make([]pieceState, len(pieces)),
		order:         make([]uint32, len(pieces)),
		dirty:         true,
		maxDuplicates: maxDuplicates,
	}
	for i := range pieces {
		ps := &p.pieces[i]
		ps.Piece = pieces[i]
		ps.priority = Normal
		ps.having = roaring.New()
		ps.blocks = make([]blockState, pieces[i].NumBlocks())
		if verified != nil && verified.Test(uint32(i)) {
			p.markAllReceived(ps)
		}
		p.order[i] = uint32(i)
	}
	return p
}

func (p *Picker) markAllReceived(ps *pieceState) {
	ps.verified = true
	for j := range ps.blocks {
		ps.blocks[j] = blockState{received: true}
	}
	ps.received = uint32(len(ps.blocks))
	ps.requested = 0
}

// less orders pieces by priority descending, partially downloaded first,
// availability ascending (rarest first) and finally index for determinism.
func (p *Picker) less(i, j uint32) bool {
	a, b := &p.pieces[i], &p.pieces[j]
	return multiless.New().Int(
		int(b.priority), int(a.priority),
	).Bool(
		!a.partial(), !b.partial(),
	).Int(
		int(a.having.GetCardinality()), int(b.having.GetCardinality()),
	).Int(
		int(a.Index), int(b.Index),
	).Less()
}

func (p *Picker) sortIfDirty() {
	if !p.dirty {
		return
	}
	sort.Slice(p.order, func(x, y int) bool { return p.less(p.order[x], p.order[y]) })
	p.dirty = false
}

// Order returns piece indexes in the order they would be picked. Used by tests and stats.
func (p *Picker) Order() []uint32 {
	p.sortIfDirty()
	return append([]uint32(nil), p.order...)
}

// SetPriority changes the priority of piece i.
func (p *Picker) SetPriority(i uint32, pri Priority) {
	if p.pieces[i].priority != pri {
		p.pieces[i].priority = pri
		p.dirty = true
	}
}

// Priority returns the priority of piece i.
func (p *Picker) Priority(i uint32) Priority { return p.pieces[i].priority }

// HandleHave records that peer has piece i.
func (p *Picker) HandleHave(peer PeerID, i uint32) {
	ps := &p.pieces[i]
	if ps.having.CheckedAdd(peer) {
		if ps.having.GetCardinality() == 1 {
			p.available++
		}
		p.dirty = true
	}
}

// HandleBitfield records every piece set in bf as available at peer.
func (p *Picker) HandleBitfield(peer PeerID, bf *bitfield.Bitfield) {
	for _, i := range bf.Indices() {
		p.HandleHave(peer, i)
	}
}

// HandleHaveAll records that peer is a seed.
func (p *Picker) HandleHaveAll(peer PeerID) {
	for i := range p.pieces {
		p.HandleHave(peer, uint32(i))
	}
}

// HandleDisconnect forgets peer's availability and its outstanding requests.
func (p *Picker) HandleDisconnect(peer PeerID) {
	for i := range p.pieces {
		ps := &p.pieces[i]
		if ps.having.CheckedRemove(peer) {
			if ps.having.IsEmpty() {
				p.available--
			}
			p.dirty = true
		}
		if ps.requested == 0 {
			continue
		}
		for j := range ps.blocks {
			p.removeRequester(ps, j, peer)
		}
	}
}

// Availability returns the number of peers that have piece i.
func (p *Picker) Availability(i uint32) int { return int(p.pieces[i].having.GetCardinality()) }

// Available returns the number of pieces at least one connected peer has.
func (p *Picker) Available() uint32 { return p.available }

// Endgame reports whether every wanted block is either received or requested.
func (p *Picker) Endgame() bool {
	found := false
	for i := range p.pieces {
		ps := &p.pieces[i]
		if !ps.wanted() {
			continue
		}
		found = true
		if ps.received+ps.requested < uint32(len(ps.blocks)) {
			return false
		}
	}
	return found
}

// PickBlocks picks up to n blocks to request from peer.
func (p *Picker) PickBlocks(peer PeerID, n int) []Request {
	if n <= 0 {
		return nil
	}
	p.sortIfDirty()
	var ret []Request
	ret = p.pick(peer, n, ret, false)
	if len(ret) == 0 && p.Endgame() {
		ret = p.pick(peer, n, ret, true)
	}
	return ret
}

func (p *Picker) pick(peer PeerID, n int, ret []Request, endgame bool) []Request {
	for _, i := range p.order {
		ps := &p.pieces[i]
		if !ps.wanted() || !ps.having.Contains(peer) {
			continue
		}
		for j := range ps.blocks {
			bs := &ps.blocks[j]
			if bs.received || hasPeer(bs.requesters, peer) {
				continue
			}
			if len(bs.requesters) > 0 {
				if !endgame {
					continue
				}
				if p.maxDuplicates > 0 && len(bs.requesters) > p.maxDuplicates {
					continue
				}
			}
			p.addRequester(ps, j, peer)
			ret = append(ret, Request{Piece: i, Block: ps.Block(uint32(j))})
			if len(ret) == n {
				return ret
			}
		}
	}
	return ret
}

func (p *Picker) addRequester(ps *pieceState, j int, peer PeerID) {
	bs := &ps.blocks[j]
	wasPartial := ps.partial()
	if len(bs.requesters) == 0 {
		ps.requested++
	}
	bs.requesters = append(bs.requesters, peer)
	if !wasPartial {
		p.dirty = true
	}
}

func (p *Picker) removeRequester(ps *pieceState, j int, peer PeerID) bool {
	bs := &ps.blocks[j]
	for k, id := range bs.requesters {
		if id != peer {
			continue
		}
		bs.requesters = append(bs.requesters[:k], bs.requesters[k+1:]...)
		if len(bs.requesters) == 0 {
			ps.requested--
			if !ps.partial() {
				p.dirty = true
			}
		}
		return true
	}
	return false
}

// CancelRequest releases the request of block of piece i from peer so the block
// can be picked for another peer. Called on timeout, reject and choke.
func (p *Picker) CancelRequest(peer PeerID, i uint32, blockIndex uint32) {
	ps := &p.pieces[i]
	if int(blockIndex) < len(ps.blocks) {
		p.removeRequester(ps, int(blockIndex), peer)
	}
}

// GotBlock records a block received from peer. For an accepted block it returns
// the other peers the same block is outstanding at, so they can be cancelled.
func (p *Picker) GotBlock(peer PeerID, i uint32, b piece.Block) (BlockResult, []PeerID) {
	if i >= uint32(len(p.pieces)) {
		return Unwanted, nil
	}
	ps := &p.pieces[i]
	if ps.verified || int(b.Index) >= len(ps.blocks) {
		return Unwanted, nil
	}
	bs := &ps.blocks[b.Index]
	if bs.received {
		p.removeRequester(ps, int(b.Index), peer)
		return Duplicate, nil
	}
	var others []PeerID
	for _, id := range bs.requesters {
		if id != peer {
			others = append(others, id)
		}
	}
	wasPartial := ps.partial()
	if len(bs.requesters) > 0 {
		ps.requested--
	}
	bs.requesters = nil
	bs.received = true
	ps.received++
	if !wasPartial {
		p.dirty = true
	}
	return Accepted, others
}

// Complete reports whether every block of piece i has been received.
func (p *Picker) Complete(i uint32) bool {
	ps := &p.pieces[i]
	return ps.received == uint32(len(ps.blocks))
}

// Partial reports whether piece i has received or requested blocks.
func (p *Picker) Partial(i uint32) bool { return p.pieces[i].partial() }

// SetVerified marks piece i as verified.
func (p *Picker) SetVerified(i uint32) {
	p.markAllReceived(&p.pieces[i])
	p.dirty = true
}

// Reset clears piece i after a failed hash check or corruption so it is downloaded again.
// Outstanding requests of the piece are returned so the caller can cancel them.
func (p *Picker) Reset(i uint32) []Request {
	ps := &p.pieces[i]
	var cancels []Request
	for j := range ps.blocks {
		for range ps.blocks[j].requesters {
			cancels = append(cancels, Request{Piece: i, Block: ps.Block(uint32(j))})
		}
		ps.blocks[j] = blockState{}
	}
	ps.verified = false
	ps.received = 0
	ps.requested = 0
	p.dirty = true
	return cancels
}

// ReceivedBlocks returns the blocks of piece i already received, for resume data.
func (p *Picker) ReceivedBlocks(i uint32) *bitfield.Bitfield {
	ps := &p.pieces[i]
	b := bitfield.New(uint32(len(ps.blocks)))
	for j := range ps.blocks {
		if ps.blocks[j].received {
			b.Set(uint32(j))
		}
	}
	return b
}

// RestoreBlocks marks blocks of piece i as received, from resume data.
func (p *Picker) RestoreBlocks(i uint32, received *bitfield.Bitfield) {
	ps := &p.pieces[i]
	if received.Len() != uint32(len(ps.blocks)) || ps.verified {
		return
	}
	for _, j := range received.Indices() {
		if !ps.blocks[j].received {
			ps.blocks[j].received = true
			ps.received++
		}
	}
	p.dirty = true
}

func hasPeer(peers []PeerID, peer PeerID) bool {
	for _, id := range peers {
		if id == peer {
			return true
		}
	}
	return false
}
