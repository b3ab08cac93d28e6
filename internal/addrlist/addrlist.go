// Package addrlist holds the addresses a torrent has learned but not connected to yet.
package addrlist

import (
	"net"
	"sort"
	"time"

	"github.com/drizzle-bt/drizzle/internal/peersource"
)

// AddrList is a bounded dial queue. Pop returns the address from the highest ranked source,
// most recently seen first. When full, the oldest addresses of the lowest ranked source are evicted.
type AddrList struct {
	// sorted by (rank, timestamp) ascending; Pop takes from the back.
	peerAddrs    []*peerAddr
	peerAddrsMap map[string]*peerAddr

	maxItems   int
	listenPort int
	clientIP   net.IP
	now        func() time.Time
}

type peerAddr struct {
	*net.TCPAddr
	source    peersource.Source
	timestamp time.Time
}

// New returns an empty list holding at most maxItems addresses.
// Addresses equal to our own listen address are never stored.
func New(maxItems, listenPort int, clientIP net.IP) *AddrList {
	return &AddrList{
		peerAddrsMap: make(map[string]*peerAddr),
		maxItems:     maxItems,
		listenPort:   listenPort,
		clientIP:     clientIP,
		now:          time.Now,
	}
}

// Reset removes all addresses.
func (d *AddrList) Reset() {
	d.peerAddrs = nil
	d.peerAddrsMap = make(map[string]*peerAddr)
}

// Len returns the number of addresses waiting to be dialed.
func (d *AddrList) Len() int {
	return len(d.peerAddrs)
}

// Pop removes and returns the next address to dial. It returns nil when the list is empty.
func (d *AddrList) Pop() (*net.TCPAddr, peersource.Source) {
	if len(d.peerAddrs) == 0 {
		return nil, 0
	}
	p := d.peerAddrs[len(d.peerAddrs)-1]
	d.peerAddrs[len(d.peerAddrs)-1] = nil
	d.peerAddrs = d.peerAddrs[:len(d.peerAddrs)-1]
	delete(d.peerAddrsMap, p.String())
	return p.TCPAddr, p.source
}

// Push adds addrs. Known addresses get their timestamp refreshed and keep the better source.
func (d *AddrList) Push(addrs []*net.TCPAddr, source peersource.Source) {
	now := d.now()
	for _, ad := range addrs {
		// 0 port is invalid
		if ad == nil || ad.Port == 0 {
			continue
		}
		if d.isOwn(ad) {
			continue
		}
		key := ad.String()
		if p, ok := d.peerAddrsMap[key]; ok {
			p.timestamp = now
			if source.Rank() > p.source.Rank() {
				p.source = source
			}
			continue
		}
		p := &peerAddr{
			TCPAddr:   ad,
			source:    source,
			timestamp: now,
		}
		d.peerAddrsMap[key] = p
		d.peerAddrs = append(d.peerAddrs, p)
	}
	sort.SliceStable(d.peerAddrs, func(i, j int) bool {
		a, b := d.peerAddrs[i], d.peerAddrs[j]
		if ra, rb := a.source.Rank(), b.source.Rank(); ra != rb {
			return ra < rb
		}
		return a.timestamp.Before(b.timestamp)
	})
	if delta := len(d.peerAddrs) - d.maxItems; d.maxItems > 0 && delta > 0 {
		for _, p := range d.peerAddrs[:delta] {
			delete(d.peerAddrsMap, p.String())
		}
		d.peerAddrs = append(d.peerAddrs[:0], d.peerAddrs[delta:]...)
	}
}

func (d *AddrList) isOwn(ad *net.TCPAddr) bool {
	if ad.Port != d.listenPort {
		return false
	}
	return ad.IP.IsLoopback() || (d.clientIP != nil && ad.IP.Equal(d.clientIP))
}
