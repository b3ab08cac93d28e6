// Package requesttable keeps the block requests in flight, ordered by deadline.
package requesttable

import (
	"time"

	"github.com/drizzle-bt/drizzle/internal/piece"
	"github.com/google/btree"
)

// Request is an outstanding block request.
type Request struct {
	Peer  uint32
	Piece uint32
	piece.Block
	Deadline time.Time
	// Misses is the number of deadlines this request has already missed.
	Misses int
}

type key struct {
	peer, piece, begin uint32
}

func (r *Request) key() key { return key{r.Peer, r.Piece, r.Begin} }

func less(a, b *Request) bool {
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	if a.Peer != b.Peer {
		return a.Peer < b.Peer
	}
	if a.Piece != b.Piece {
		return a.Piece < b.Piece
	}
	return a.Begin < b.Begin
}

// Table indexes requests by deadline, by key and by peer.
type Table struct {
	timeout time.Duration
	tree    *btree.BTreeG[*Request]
	byKey   map[key]*Request
	perPeer map[uint32]int
}

// New returns a table whose requests expire timeout after they are added.
func New(timeout time.Duration) *Table {
	return &Table{
		timeout: timeout,
		tree:    btree.NewG(8, less),
		byKey:   make(map[key]*Request),
		perPeer: make(map[uint32]int),
	}
}

// Len returns the number of requests in flight.
func (t *Table) Len() int { return len(t.byKey) }

// PeerLen returns the number of requests in flight to peer.
func (t *Table) PeerLen(peer uint32) int { return t.perPeer[peer] }

// Has reports whether the block is outstanding at peer.
func (t *Table) Has(peer, pieceIndex, begin uint32) bool {
	_, ok := t.byKey[key{peer, pieceIndex, begin}]
	return ok
}

// Add records a request sent at now. Adding an existing request renews its deadline.
func (t *Table) Add(peer, pieceIndex uint32, b piece.Block, now time.Time) {
	k := key{peer, pieceIndex, b.Begin}
	if r, ok := t.byKey[k]; ok {
		t.tree.Delete(r)
		r.Deadline = now.Add(t.timeout)
		t.tree.ReplaceOrInsert(r)
		return
	}
	r := &Request{Peer: peer, Piece: pieceIndex, Block: b, Deadline: now.Add(t.timeout)}
	t.byKey[k] = r
	t.tree.ReplaceOrInsert(r)
	t.perPeer[peer]++
}

// Remove deletes the request and returns it.
func (t *Table) Remove(peer, pieceIndex, begin uint32) (Request, bool) {
	r, ok := t.byKey[key{peer, pieceIndex, begin}]
	if !ok {
		return Request{}, false
	}
	t.remove(r)
	return *r, true
}

func (t *Table) remove(r *Request) {
	t.tree.Delete(r)
	delete(t.byKey, r.key())
	if t.perPeer[r.Peer]--; t.perPeer[r.Peer] <= 0 {
		delete(t.perPeer, r.Peer)
	}
}

// RemovePeer deletes every request of peer and returns them.
func (t *Table) RemovePeer(peer uint32) []Request {
	var ret []Request
	for _, r := range t.byKey {
		if r.Peer == peer {
			ret = append(ret, *r)
		}
	}
	for i := range ret {
		t.remove(t.byKey[ret[i].key()])
	}
	return ret
}

// RemovePiece deletes every request of a piece and returns them.
func (t *Table) RemovePiece(pieceIndex uint32) []Request {
	var ret []Request
	for _, r := range t.byKey {
		if r.Piece == pieceIndex {
			ret = append(ret, *r)
		}
	}
	for i := range ret {
		t.remove(t.byKey[ret[i].key()])
	}
	return ret
}

// Expire handles requests whose deadline passed at now. A request that has missed
// fewer than maxMisses deadlines is renewed and returned in retry; the others are
// removed and returned in reassign.
func (t *Table) Expire(now time.Time, maxMisses int) (retry, reassign []Request) {
	var expired []*Request
	t.tree.Ascend(func(r *Request) bool {
		if r.Deadline.After(now) {
			return false
		}
		expired = append(expired, r)
		return true
	})
	for _, r := range expired {
		r.Misses++
		if r.Misses < maxMisses {
			t.tree.Delete(r)
			r.Deadline = now.Add(t.timeout)
			t.tree.ReplaceOrInsert(r)
			retry = append(retry, *r)
			continue
		}
		t.remove(r)
		reassign = append(reassign, *r)
	}
	return
}
