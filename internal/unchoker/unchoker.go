// Package unchoker selects the peers that are allowed to download from us.
package unchoker

import (
	"math/rand"
	"sort"
)

// Unchoker implements tit-for-tat: peers that give us the best rates are unchoked,
// plus a rotating set of random peers that are unchoked optimistically.
type Unchoker struct {
	numUnchoked           int
	numOptimisticUnchoked int
	optimisticRounds      int

	// Optimistic unchoke is applied when round is zero.
	round int

	rand *rand.Rand

	peersUnchoked           map[Peer]struct{}
	peersUnchokedOptimistic map[Peer]struct{}
}

// Peer of a torrent.
type Peer interface {
	// Sends messages and set choking status of local peeer
	Choke()
	Unchoke()

	// Choking returns choke status of local peer
	Choking() bool

	// Interested returns interest status of remote peer
	Interested() bool

	// SetOptimistic sets the uptimistic unchoke status of peer
	SetOptimistic(value bool)
	// OptimisticUnchoked returns the value previously set by SetOptimistic
	Optimistic() bool

	// Unreliable peers have sent corrupt data. They are considered last.
	Unreliable() bool

	DownloadSpeed() int
	UploadSpeed() int
}

// New returns a new Unchoker. Every optimisticRounds calls to TickUnchoke, optimistic slots are rotated.
func New(numUnchoked, numOptimisticUnchoked, optimisticRounds int, rnd *rand.Rand) *Unchoker {
	if optimisticRounds < 1 {
		optimisticRounds = 1
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63())) // nolint: gosec
	}
	return &Unchoker{
		numUnchoked:             numUnchoked,
		numOptimisticUnchoked:   numOptimisticUnchoked,
		optimisticRounds:        optimisticRounds,
		rand:                    rnd,
		peersUnchoked:           make(map[Peer]struct{}, numUnchoked),
		peersUnchokedOptimistic: make(map[Peer]struct{}, numOptimisticUnchoked),
	}
}

// HandleDisconnect must be called to remove the peer from internal indexes.
func (u *Unchoker) HandleDisconnect(pe Peer) {
	delete(u.peersUnchoked, pe)
	delete(u.peersUnchokedOptimistic, pe)
}

// NumUnchoked returns the number of regular and optimistic unchoked peers.
func (u *Unchoker) NumUnchoked() (regular, optimistic int) {
	return len(u.peersUnchoked), len(u.peersUnchokedOptimistic)
}

func (u *Unchoker) candidatesUnchoke(allPeers []Peer) []Peer {
	peers := make([]Peer, 0, len(allPeers))
	for _, pe := range allPeers {
		if pe.Interested() {
			peers = append(peers, pe)
		} else {
			u.chokePeer(pe)
		}
	}
	return peers
}

// sortPeers orders peers by the rate they give us while downloading, or by the rate
// we give them while seeding. Unreliable peers go last.
func (u *Unchoker) sortPeers(peers []Peer, completed bool) {
	speed := func(pe Peer) int {
		if completed {
			return pe.UploadSpeed()
		}
		return pe.DownloadSpeed()
	}
	sort.SliceStable(peers, func(i, j int) bool {
		if ui, uj := peers[i].Unreliable(), peers[j].Unreliable(); ui != uj {
			return uj
		}
		return speed(peers[i]) > speed(peers[j])
	})
}

// TickUnchoke must be called at every unchoke interval.
func (u *Unchoker) TickUnchoke(allPeers []Peer, torrentCompleted bool) {
	optimistic := u.round == 0
	peers := u.candidatesUnchoke(allPeers)
	u.sortPeers(peers, torrentCompleted)
	var i, unchoked int
	var rest []Peer
	for ; i < len(peers) && unchoked < u.numUnchoked; i++ {
		if !optimistic && peers[i].Optimistic() {
			// Keep optimistic slot until the next rotation.
			continue
		}
		u.unchokePeer(peers[i])
		unchoked++
	}
	for _, pe := range peers[i:] {
		if !optimistic && pe.Optimistic() {
			continue
		}
		rest = append(rest, pe)
	}
	if optimistic {
		for j := 0; j < u.numOptimisticUnchoked && len(rest) > 0; j++ {
			n := u.rand.Intn(len(rest))
			u.optimisticUnchokePeer(rest[n])
			rest[n], rest = rest[len(rest)-1], rest[:len(rest)-1]
		}
	}
	for _, pe := range rest {
		u.chokePeer(pe)
	}
	u.round = (u.round + 1) % u.optimisticRounds
}

func (u *Unchoker) chokePeer(pe Peer) {
	if pe.Choking() {
		return
	}
	pe.Choke()
	pe.SetOptimistic(false)
	delete(u.peersUnchoked, pe)
	delete(u.peersUnchokedOptimistic, pe)
}

func (u *Unchoker) unchokePeer(pe Peer) {
	if !pe.Choking() {
		if pe.Optimistic() {
			// Move into regular unchoked peers
			pe.SetOptimistic(false)
			delete(u.peersUnchokedOptimistic, pe)
			u.peersUnchoked[pe] = struct{}{}
		}
		return
	}
	pe.Unchoke()
	u.peersUnchoked[pe] = struct{}{}
	pe.SetOptimistic(false)
}

func (u *Unchoker) optimisticUnchokePeer(pe Peer) {
	if !pe.Choking() {
		if !pe.Optimistic() {
			// Move into optimistic unchoked peers
			pe.SetOptimistic(true)
			delete(u.peersUnchoked, pe)
			u.peersUnchokedOptimistic[pe] = struct{}{}
		}
		return
	}
	pe.Unchoke()
	u.peersUnchokedOptimistic[pe] = struct{}{}
	pe.SetOptimistic(true)
}

// FastUnchoke must be called when remote peer is interested.
// Remote peer is unchoked immediately if there are not enough unchoked peers.
// Without this function, remote peer would have to wait for next unchoke period.
func (u *Unchoker) FastUnchoke(pe Peer) {
	if pe.Unreliable() {
		return
	}
	if pe.Choking() && pe.Interested() && len(u.peersUnchoked) < u.numUnchoked {
		u.unchokePeer(pe)
	}
	if pe.Choking() && pe.Interested() && len(u.peersUnchokedOptimistic) < u.numOptimisticUnchoked {
		u.optimisticUnchokePeer(pe)
	}
}
