// Package announcer keeps a torrent announced to its trackers.
package announcer

import (
	"context"
	"errors"
	"math"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/tracker"
	"github.com/drizzle-bt/drizzle/internal/tracker/httptracker"
)

// Status of the announcer.
type Status int

const (
	NotContactedYet Status = iota
	Contacting
	Working
	NotWorking
)

var statusNames = [...]string{
	"not contacted yet",
	"contacting",
	"working",
	"not working",
}

func (s Status) String() string {
	return statusNames[s]
}

// PeriodicalAnnouncer announces a torrent to one tracker (or tier) at the interval the tracker asks for.
// Failed announces are retried with exponential backoff.
type PeriodicalAnnouncer struct {
	Tracker       tracker.Tracker
	status        Status
	statsCommandC chan statsRequest
	numWant       int
	interval      time.Duration
	minInterval   time.Duration
	seeders       int
	leechers      int
	lastError     *AnnounceError
	log           logger.Logger
	completedC    chan struct{}
	newPeers      chan []*net.TCPAddr
	backoff       backoff.BackOff
	transfer      func() tracker.Transfer
	lastAnnounce  time.Time
	responseC     chan *tracker.AnnounceResponse
	errC          chan error
	needMorePeers bool
	needPeersC    chan bool
	closeC        chan struct{}
	doneC         chan struct{}
}

// NewPeriodicalAnnouncer returns a new announcer. Run must be called to start announcing.
// completedC is closed by the torrent when download completes.
// Peers returned by the tracker are sent to newPeers.
func NewPeriodicalAnnouncer(trk tracker.Tracker, numWant int, minInterval time.Duration, transfer func() tracker.Transfer, completedC chan struct{}, newPeers chan []*net.TCPAddr, l logger.Logger) *PeriodicalAnnouncer {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Minute
	bo.MaxElapsedTime = 0 // never stop
	return &PeriodicalAnnouncer{
		Tracker:       trk,
		status:        NotContactedYet,
		statsCommandC: make(chan statsRequest),
		numWant:       numWant,
		minInterval:   minInterval,
		log:           l,
		completedC:    completedC,
		newPeers:      newPeers,
		transfer:      transfer,
		needPeersC:    make(chan bool),
		responseC:     make(chan *tracker.AnnounceResponse),
		errC:          make(chan error),
		closeC:        make(chan struct{}),
		doneC:         make(chan struct{}),
		backoff:       bo,
	}
}

// Close stops announcing. The "stopped" event is sent separately with StopAnnouncer.
func (a *PeriodicalAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

type statsRequest struct {
	Response chan Stats
}

// Stats returns the state of the announcer.
func (a *PeriodicalAnnouncer) Stats() Stats {
	var stats Stats
	req := statsRequest{Response: make(chan Stats, 1)}
	select {
	case a.statsCommandC <- req:
	case <-a.closeC:
	}
	select {
	case stats = <-req.Response:
	case <-a.closeC:
	}
	return stats
}

// NeedMorePeers makes the announcer use the minimum interval instead of the regular one.
func (a *PeriodicalAnnouncer) NeedMorePeers(val bool) {
	select {
	case a.needPeersC <- val:
	case <-a.doneC:
	}
}

// Run announces until Close is called.
func (a *PeriodicalAnnouncer) Run() {
	defer close(a.doneC)
	a.backoff.Reset()

	timer := time.NewTimer(math.MaxInt64)
	defer timer.Stop()

	// No "completed" is sent if the torrent was complete when started.
	select {
	case <-a.completedC:
		a.completedC = nil
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	go a.announce(ctx, tracker.EventStarted, a.numWant)
	a.status = Contacting
	for {
		select {
		case <-timer.C:
			if a.status == Contacting {
				break
			}
			go a.announce(ctx, tracker.EventNone, a.numWant)
			a.status = Contacting
		case resp := <-a.responseC:
			a.status = Working
			a.lastAnnounce = time.Now()
			a.seeders = int(resp.Seeders)
			a.leechers = int(resp.Leechers)
			a.interval = resp.Interval
			if resp.MinInterval > 0 {
				a.minInterval = resp.MinInterval
			}
			a.lastError = nil
			a.backoff.Reset()
			timer.Reset(a.nextInterval())
			if len(resp.Peers) > 0 {
				select {
				case a.newPeers <- resp.Peers:
				case <-a.closeC:
					cancel()
					return
				}
			}
		case err := <-a.errC:
			a.status = NotWorking
			a.lastAnnounce = time.Now()
			a.lastError = newAnnounceError(err)
			if a.lastError.Unknown {
				a.log.Errorln("announce error:", a.lastError.ErrorWithType())
			} else {
				a.log.Debugln("announce error:", a.lastError.Err.Error())
			}
			var terr *tracker.Error
			if errors.As(err, &terr) && terr.RetryIn > 0 {
				timer.Reset(terr.RetryIn)
			} else {
				timer.Reset(a.backoff.NextBackOff())
			}
		case val := <-a.needPeersC:
			a.needMorePeers = val
			if a.status == Contacting || a.status == NotWorking || a.lastAnnounce.IsZero() {
				break
			}
			timer.Reset(time.Until(a.lastAnnounce.Add(a.nextInterval())))
		case <-a.completedC:
			if a.status == Contacting {
				cancel()
				ctx, cancel = context.WithCancel(context.Background())
			}
			go a.announce(ctx, tracker.EventCompleted, 0)
			a.status = Contacting
			a.completedC = nil // do not send more than one "completed" event
		case req := <-a.statsCommandC:
			req.Response <- a.stats()
		case <-a.closeC:
			cancel()
			return
		}
	}
}

func (a *PeriodicalAnnouncer) nextInterval() time.Duration {
	if a.needMorePeers {
		return a.minInterval
	}
	return a.interval
}

func (a *PeriodicalAnnouncer) announce(ctx context.Context, event tracker.Event, numWant int) {
	req := tracker.AnnounceRequest{
		Transfer: a.transfer(),
		Event:    event,
		NumWant:  numWant,
	}
	resp, err := a.Tracker.Announce(ctx, req)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		select {
		case a.errC <- err:
		case <-ctx.Done():
		}
		return
	}
	select {
	case a.responseC <- resp:
	case <-ctx.Done():
	}
}

// Stats about the announcer.
type Stats struct {
	Status   Status
	Error    *AnnounceError
	Seeders  int
	Leechers int
}

func (a *PeriodicalAnnouncer) stats() Stats {
	return Stats{
		Status:   a.status,
		Error:    a.lastError,
		Seeders:  a.seeders,
		Leechers: a.leechers,
	}
}

// AnnounceError is a user friendly form of an announce error.
type AnnounceError struct {
	Err     error
	Message string
	Unknown bool
}

func newAnnounceError(err error) (e *AnnounceError) {
	e = &AnnounceError{Err: err}
	var (
		dnsErr    *net.DNSError
		urlErr    *url.Error
		statusErr *httptracker.StatusError
		trkErr    *tracker.Error
		netErr    net.Error
	)
	switch {
	case errors.As(err, &trkErr):
		e.Message = "announce error: " + trkErr.FailureReason
		return
	case errors.As(err, &dnsErr) && strings.HasSuffix(dnsErr.Error(), "no such host"):
		e.Message = "host not found: " + dnsErr.Name
		return
	case errors.As(err, &statusErr) && (statusErr.Code == 403 || statusErr.Code == 404):
		e.Message = "tracker returned http status: " + strconv.Itoa(statusErr.Code)
		return
	case errors.As(err, &urlErr) && strings.HasSuffix(urlErr.Error(), "connection refused"):
		e.Message = "tracker refused the connection"
		return
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Message = "timeout contacting tracker"
		return
	case errors.Is(err, tracker.ErrDecode):
		e.Message = "invalid response from tracker"
		return
	}
	e.Message = "unknown error in announce"
	e.Unknown = true
	return
}

// ErrorWithType returns the error string prefixed with the type of the underlying error.
func (e *AnnounceError) ErrorWithType() string {
	return reflect.TypeOf(e.Err).String() + ": " + e.Err.Error()
}
