// Package bandwidth enforces global and per-torrent byte rate ceilings with token buckets.
//
// A ceiling of C bytes per second is realised as a bucket with capacity b and fill
// rate C-b. Whatever the traffic pattern, the bytes granted in any one second
// window are at most b (the initial tokens) plus C-b (the tokens added during the
// window), so the ceiling holds for every window, not only on average.
package bandwidth

import (
	"errors"
	"sync"
	"time"

	"github.com/juju/ratelimit"
)

// Direction of traffic.
type Direction int

const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// fillInterval is the tick of buckets with rates of at least 100 B/s.
const fillInterval = 10 * time.Millisecond

// maxBurst is the largest capacity chosen for a bucket; one full block.
const maxBurst = 16 * 1024

// ErrStopped is returned by Wait when the stop channel is closed before the grant.
var ErrStopped = errors.New("stopped while waiting for bandwidth")

// bucket wraps a ratelimit.Bucket with the ceiling it was built for.
type bucket struct {
	limit int64
	b     *ratelimit.Bucket
}

func newBucket(limit int64, clock ratelimit.Clock, prev *bucket) *bucket {
	if limit <= 0 {
		return nil
	}
	if limit < 2 {
		limit = 2
	}
	capacity := limit / 8
	if half := limit / 2; capacity < maxBurst {
		capacity = min(maxBurst, half)
	}
	rate := limit - capacity
	var rb *ratelimit.Bucket
	if rate >= 100 {
		rb = ratelimit.NewBucketWithQuantumAndClock(fillInterval, capacity, rate/100, clock)
	} else {
		// Round the interval up so the bucket never fills faster than rate.
		interval := (time.Second + time.Duration(rate) - 1) / time.Duration(rate)
		rb = ratelimit.NewBucketWithQuantumAndClock(interval, capacity, 1, clock)
	}
	// A rebuilt bucket does not start with more tokens than the old one had.
	if prev != nil {
		if avail := prev.b.Available(); avail < capacity {
			rb.TakeAvailable(capacity - max(avail, 0))
		}
	}
	return &bucket{limit: limit, b: rb}
}

func (b *bucket) capacity() int64 { return b.b.Capacity() }

// wait estimates how long until n tokens are available.
func (b *bucket) wait(n int64) time.Duration {
	deficit := n - b.b.Available()
	if deficit <= 0 {
		return 0
	}
	return time.Duration(float64(deficit)/b.b.Rate()*float64(time.Second)) + fillInterval
}

// Manager holds the global buckets. All buckets, global and per torrent, are
// read and mutated under Manager's mutex so a grant is atomic across them.
type Manager struct {
	mu       sync.Mutex
	clock    ratelimit.Clock
	global   [2]*bucket
	limiters map[*Limiter]struct{}
}

// NewManager returns a Manager with the given global ceilings in bytes per second.
// Zero means unlimited. A nil clock uses the real time.
func NewManager(download, upload int64, clock ratelimit.Clock) *Manager {
	m := &Manager{
		clock:    clock,
		limiters: make(map[*Limiter]struct{}),
	}
	m.global[Download] = newBucket(download, clock, nil)
	m.global[Upload] = newBucket(upload, clock, nil)
	return m
}

// SetLimit changes a global ceiling and redistributes it across active limiters.
func (m *Manager) SetLimit(dir Direction, bytesPerSec int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global[dir] = newBucket(bytesPerSec, m.clock, m.global[dir])
	m.rebalance()
}

// Limit returns the global ceiling. Zero means unlimited.
func (m *Manager) Limit(dir Direction) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.global[dir] == nil {
		return 0
	}
	return m.global[dir].limit
}

// NewLimiter returns a per-torrent limiter drawing from m. It is inactive until SetActive(true).
func (m *Manager) NewLimiter() *Limiter {
	return &Limiter{m: m}
}

// rebalance gives every active limiter an equal share of each global ceiling,
// capped by its own limit.
func (m *Manager) rebalance() {
	n := int64(len(m.limiters))
	for l := range m.limiters {
		for dir := range l.buckets {
			eff := l.own[dir]
			if g := m.global[dir]; g != nil && n > 0 {
				share := g.limit / n
				if eff == 0 || share < eff {
					eff = share
				}
			}
			if cur := l.buckets[dir]; (cur == nil && eff == 0) || (cur != nil && cur.limit == eff) {
				continue
			}
			l.buckets[dir] = newBucket(eff, m.clock, l.buckets[dir])
		}
	}
}

// reserve grants up to n bytes from every bucket on the path, or none.
func (m *Manager) reserve(l *Limiter, dir Direction, n int64) (int64, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := make([]*bucket, 0, 2)
	if g := m.global[dir]; g != nil {
		path = append(path, g)
	}
	if l != nil {
		if b := l.buckets[dir]; b != nil {
			path = append(path, b)
		}
	}
	for _, b := range path {
		n = min(n, b.capacity())
	}
	var wait time.Duration
	for _, b := range path {
		wait = max(wait, b.wait(n))
	}
	if wait > 0 {
		return 0, wait
	}
	for _, b := range path {
		b.b.TakeAvailable(n)
	}
	return n, 0
}

// Limiter is the per-torrent pair of buckets. Its effective ceiling is the lower of
// its own limit and its share of the global ceiling.
type Limiter struct {
	m       *Manager
	own     [2]int64
	buckets [2]*bucket
}

// SetLimit sets the torrent's own ceiling. Zero means no per-torrent ceiling.
func (l *Limiter) SetLimit(dir Direction, bytesPerSec int64) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.own[dir] = max(bytesPerSec, 0)
	if _, ok := l.m.limiters[l]; ok {
		l.m.rebalance()
	} else {
		l.buckets[dir] = newBucket(l.own[dir], l.m.clock, l.buckets[dir])
	}
}

// SetActive adds or removes l from the set sharing the global budget.
func (l *Limiter) SetActive(active bool) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if active {
		l.m.limiters[l] = struct{}{}
	} else {
		delete(l.m.limiters, l)
		for dir := range l.buckets {
			l.buckets[dir] = newBucket(l.own[dir], l.m.clock, l.buckets[dir])
		}
	}
	l.m.rebalance()
}

// EffectiveLimit returns the ceiling currently enforced by l's own bucket. Zero means none.
func (l *Limiter) EffectiveLimit(dir Direction) int64 {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if b := l.buckets[dir]; b != nil {
		return b.limit
	}
	return 0
}

// Reserve grants up to n bytes in one step. If nothing can be granted now it
// returns 0 and the time to wait before trying again. The grant may be smaller
// than n when n exceeds a bucket's capacity.
func (l *Limiter) Reserve(dir Direction, n int64) (granted int64, wait time.Duration) {
	return l.m.reserve(l, dir, n)
}

// Gate returns the Throttle for one direction of l.
func (l *Limiter) Gate(dir Direction) *Gate {
	return &Gate{l: l, dir: dir}
}

// Gate blocks callers until bandwidth is granted.
type Gate struct {
	l   *Limiter
	dir Direction
}

// Wait blocks until n bytes are granted or stopC is closed. Requests larger than a
// bucket are granted in several chunks; nothing is ever dropped.
func (g *Gate) Wait(n int64, stopC <-chan struct{}) error {
	for n > 0 {
		granted, wait := g.l.Reserve(g.dir, n)
		if granted > 0 {
			n -= granted
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-stopC:
			t.Stop()
			return ErrStopped
		}
	}
	return nil
}
