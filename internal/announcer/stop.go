package announcer

import (
	"context"
	"sync"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/tracker"
	"github.com/hashicorp/go-multierror"
)

// StopAnnouncer sends the "stopped" event to every tracker of a torrent in parallel.
type StopAnnouncer struct {
	log      logger.Logger
	timeout  time.Duration
	trackers []tracker.Tracker
	transfer tracker.Transfer
	resultC  chan struct{}
	closeC   chan struct{}
	doneC    chan struct{}
}

// NewStopAnnouncer returns a new StopAnnouncer. A value is sent to resultC when all trackers are done or timeout passes.
func NewStopAnnouncer(trackers []tracker.Tracker, tra tracker.Transfer, timeout time.Duration, resultC chan struct{}, l logger.Logger) *StopAnnouncer {
	return &StopAnnouncer{
		log:      l,
		timeout:  timeout,
		trackers: trackers,
		transfer: tra,
		resultC:  resultC,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Close the announcer. Pending announces are cancelled.
func (a *StopAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

// Run the announcer.
func (a *StopAnnouncer) Run() {
	defer close(a.doneC)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-a.closeC:
			cancel()
		}
	}()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	req := tracker.AnnounceRequest{
		Transfer: a.transfer,
		Event:    tracker.EventStopped,
	}
	for _, trk := range a.trackers {
		wg.Add(1)
		go func(trk tracker.Tracker) {
			defer wg.Done()
			if _, err := trk.Announce(ctx, req); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(trk)
	}
	wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		a.log.Debugln("stop announce:", err)
	}
	select {
	case a.resultC <- struct{}{}:
	case <-a.closeC:
	}
}
