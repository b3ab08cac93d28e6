package bandwidth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type grant struct {
	at time.Time
	n  int64
}

// assertWindows checks that bytes granted in every window [g, g+1s) starting at a grant are within ceiling.
func assertWindows(t *testing.T, grants []grant, ceiling int64) {
	t.Helper()
	for i, g := range grants {
		var sum int64
		end := g.at.Add(time.Second)
		for _, h := range grants[i:] {
			if !h.at.Before(end) {
				break
			}
			sum += h.n
		}
		require.LessOrEqualf(t, sum, ceiling, "window starting at %s", g.at.Sub(grants[0].at))
	}
}

func TestGlobalCeiling(t *testing.T) {
	const ceiling = 100000
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewManager(ceiling, 0, clock)
	l := m.NewLimiter()
	l.SetActive(true)

	var grants []grant
	var total int64
	end := clock.now.Add(10 * time.Second)
	for clock.now.Before(end) {
		n, wait := l.Reserve(Download, 16384)
		if n > 0 {
			grants = append(grants, grant{clock.now, n})
			total += n
			continue
		}
		assert.Positive(t, wait)
		// Advance in small steps so grants happen at every reachable instant.
		clock.Sleep(time.Millisecond)
	}
	assertWindows(t, grants, ceiling)
	// The fill rate is the ceiling minus the burst, so at least 80% of it is reachable.
	assert.Greater(t, total, int64(ceiling*10*8/10))
}

func TestOversizeRequestIsSplit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewManager(20000, 0, clock)
	l := m.NewLimiter()
	n, _ := l.Reserve(Download, 1<<20)
	assert.EqualValues(t, 10000, n, "grant clipped to bucket capacity")
}

func TestAllOrNothingAcrossBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewManager(1000000, 0, clock)
	l := m.NewLimiter()
	l.SetLimit(Download, 40000)

	n, _ := l.Reserve(Download, 16384)
	require.EqualValues(t, 16384, n)
	n, _ = l.Reserve(Download, 16384)
	require.EqualValues(t, 0, n)
	// The denied request must not have consumed global tokens.
	assert.EqualValues(t, m.global[Download].capacity()-16384, m.global[Download].b.Available())
}

func TestEqualShares(t *testing.T) {
	m := NewManager(90000, 30000, nil)
	a, b, c := m.NewLimiter(), m.NewLimiter(), m.NewLimiter()
	a.SetActive(true)
	b.SetActive(true)
	assert.EqualValues(t, 45000, a.EffectiveLimit(Download))
	assert.EqualValues(t, 15000, b.EffectiveLimit(Upload))

	c.SetLimit(Download, 10000)
	c.SetActive(true)
	assert.EqualValues(t, 30000, a.EffectiveLimit(Download))
	assert.EqualValues(t, 10000, c.EffectiveLimit(Download), "own limit below share")

	b.SetActive(false)
	c.SetActive(false)
	assert.EqualValues(t, 90000, a.EffectiveLimit(Download))
	assert.EqualValues(t, 0, b.EffectiveLimit(Download))

	m.SetLimit(Download, 0)
	assert.EqualValues(t, 0, a.EffectiveLimit(Download))
	assert.EqualValues(t, 0, m.Limit(Download))
}

func TestGateUnlimited(t *testing.T) {
	m := NewManager(0, 0, nil)
	g := m.NewLimiter().Gate(Upload)
	assert.NoError(t, g.Wait(1<<30, nil))
}

func TestGateStopped(t *testing.T) {
	m := NewManager(1000, 0, nil)
	g := m.NewLimiter().Gate(Download)
	stopC := make(chan struct{})
	close(stopC)
	assert.Equal(t, ErrStopped, g.Wait(1<<20, stopC))
}
