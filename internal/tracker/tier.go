package tracker

import (
	"context"
	"math/rand"
	"sync"
)

// Tier is a group of trackers that serve the same swarm.
// Announces go to one tracker at a time. A tracker that fails is skipped on the next announce
// and a tracker that answers is moved to the front, so later announces start from it.
type Tier struct {
	m        sync.Mutex
	trackers []Tracker
	current  int
}

var _ Tracker = (*Tier)(nil)

// NewTier returns a new Tier with trackers shuffled.
func NewTier(trackers []Tracker) *Tier {
	trackers = append([]Tracker(nil), trackers...)
	rand.Shuffle(len(trackers), func(i, j int) { trackers[i], trackers[j] = trackers[j], trackers[i] })
	return &Tier{trackers: trackers}
}

// Announce to the current tracker of the tier.
func (t *Tier) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	t.m.Lock()
	trk := t.trackers[t.current]
	t.m.Unlock()

	resp, err := trk.Announce(ctx, req)

	t.m.Lock()
	defer t.m.Unlock()
	// Another announce may have moved the tracker in the meantime.
	i := t.indexOf(trk)
	if i < 0 {
		return resp, err
	}
	if err != nil {
		if i == t.current {
			t.current = (i + 1) % len(t.trackers)
		}
		return resp, err
	}
	copy(t.trackers[1:i+1], t.trackers[:i])
	t.trackers[0] = trk
	t.current = 0
	return resp, nil
}

// URL returns the URL of the tracker that receives the next announce.
func (t *Tier) URL() string {
	t.m.Lock()
	defer t.m.Unlock()
	return t.trackers[t.current].URL()
}

func (t *Tier) indexOf(trk Tracker) int {
	for i, tr := range t.trackers {
		if tr == trk {
			return i
		}
	}
	return -1
}
