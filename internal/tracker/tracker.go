// Package tracker provides support for announcing torrents to trackers.
package tracker

import (
	"context"
	"errors"
	"net"
	"time"
)

// Tracker returns peer addresses of a torrent.
type Tracker interface {
	// Announce the transfer state. Trackers expect it periodically,
	// with the interval returned in AnnounceResponse, and on every Event.
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)

	// URL of the tracker.
	URL() string
}

// Transfer is the state of a torrent as reported to a tracker.
type Transfer struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
}

// Event marks an announce that is sent because the transfer changed state.
type Event string

// Values of the "event" query parameter. EventNone is not sent.
const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventStopped   Event = "stopped"
)

// AnnounceRequest is sent to the tracker.
type AnnounceRequest struct {
	Transfer Transfer
	Event    Event
	NumWant  int
}

// AnnounceResponse is the reply of the tracker.
type AnnounceResponse struct {
	Interval       time.Duration
	MinInterval    time.Duration
	Leechers       int32
	Seeders        int32
	WarningMessage string
	Peers          []*net.TCPAddr
}

// ErrDecode is returned when the response of a tracker cannot be parsed.
var ErrDecode = errors.New("cannot decode response")

// Error is the failure reason returned by the tracker.
type Error struct {
	FailureReason string
	RetryIn       time.Duration
}

func (e *Error) Error() string { return e.FailureReason }
