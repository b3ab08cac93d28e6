package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTracker struct {
	url string
	err error
}

func (f *fakeTracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &AnnounceResponse{}, nil
}

func (f *fakeTracker) URL() string { return f.url }

func TestTierSkipsFailedTracker(t *testing.T) {
	ctx := context.Background()
	bad := &fakeTracker{url: "http://bad", err: ErrDecode}
	good := &fakeTracker{url: "http://good"}
	tier := &Tier{trackers: []Tracker{bad, good}}

	_, err := tier.Announce(ctx, AnnounceRequest{})
	assert.Equal(t, ErrDecode, err)
	assert.Equal(t, "http://good", tier.URL())

	_, err = tier.Announce(ctx, AnnounceRequest{})
	assert.NoError(t, err)
	assert.Equal(t, "http://good", tier.URL())
	assert.Equal(t, []Tracker{good, bad}, tier.trackers, "working tracker is moved to front")
}

func TestTierWrapsAround(t *testing.T) {
	ctx := context.Background()
	a := &fakeTracker{url: "http://a", err: ErrDecode}
	b := &fakeTracker{url: "http://b", err: ErrDecode}
	tier := &Tier{trackers: []Tracker{a, b}}

	_, _ = tier.Announce(ctx, AnnounceRequest{})
	_, _ = tier.Announce(ctx, AnnounceRequest{})
	assert.Equal(t, "http://a", tier.URL())
}

func TestNewTierKeepsInput(t *testing.T) {
	in := []Tracker{&fakeTracker{url: "1"}, &fakeTracker{url: "2"}, &fakeTracker{url: "3"}}
	orig := append([]Tracker(nil), in...)
	tier := NewTier(in)
	assert.Equal(t, orig, in)
	assert.ElementsMatch(t, orig, tier.trackers)
}
