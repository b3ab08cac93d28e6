// Package httptracker announces torrents to HTTP trackers.
package httptracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/tracker"
	"github.com/zeebo/bencode"
)

// HTTPTracker is a tracker reached over HTTP.
type HTTPTracker struct {
	rawURL      string
	url         *url.URL
	log         logger.Logger
	http        *http.Client
	userAgent   string
	maxBodySize int64

	// Sent back on later announces if the tracker gives one.
	m         sync.Mutex
	trackerID string
}

var _ tracker.Tracker = (*HTTPTracker)(nil)

// New returns a tracker for u. rawURL is returned by URL.
func New(rawURL string, u *url.URL, timeout time.Duration, t *http.Transport, userAgent string, maxBodySize int64) *HTTPTracker {
	return &HTTPTracker{
		rawURL:      rawURL,
		url:         u,
		log:         logger.New("tracker " + u.String()),
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
		http: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
	}
}

// URL of the tracker.
func (t *HTTPTracker) URL() string {
	return t.rawURL
}

// StatusError is returned when the tracker responds with a code other than 200 OK.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "http status: " + strconv.Itoa(e.Code)
}

// IsStatusError reports whether err is a non-200 response.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// Announce sends the request and parses the compact or dictionary peer list in the response.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	u := *t.url
	u.RawQuery = t.query(req).Encode()
	t.log.Debugf("making request to: %q", u.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", t.userAgent)

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.ContentLength > t.maxBodySize {
		return nil, fmt.Errorf("tracker response too large: %d", resp.ContentLength)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	r, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if r.WarningMessage != "" {
		t.log.Warning(r.WarningMessage)
	}
	if r.FailureReason != "" {
		minutes, _ := strconv.Atoi(r.RetryIn)
		return nil, &tracker.Error{
			FailureReason: r.FailureReason,
			RetryIn:       time.Duration(minutes) * time.Minute,
		}
	}
	if r.TrackerID != "" {
		t.m.Lock()
		t.trackerID = r.TrackerID
		t.m.Unlock()
	}
	return r.announceResponse()
}

func (t *HTTPTracker) query(req tracker.AnnounceRequest) url.Values {
	q := t.url.Query()
	q.Set("info_hash", string(req.Transfer.InfoHash[:]))
	q.Set("peer_id", string(req.Transfer.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Transfer.Port))
	q.Set("uploaded", strconv.FormatInt(req.Transfer.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Transfer.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Transfer.Left, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	q.Set("numwant", strconv.Itoa(req.NumWant))
	if req.Event != tracker.EventNone {
		q.Set("event", string(req.Event))
	}
	t.m.Lock()
	if t.trackerID != "" {
		q.Set("trackerid", t.trackerID)
	}
	t.m.Unlock()
	return q
}

type response struct {
	FailureReason  string             `bencode:"failure reason"`
	RetryIn        string             `bencode:"retry in"`
	WarningMessage string             `bencode:"warning message"`
	Interval       int32              `bencode:"interval"`
	MinInterval    int32              `bencode:"min interval"`
	TrackerID      string             `bencode:"tracker id"`
	Complete       int32              `bencode:"complete"`
	Incomplete     int32              `bencode:"incomplete"`
	Peers          bencode.RawMessage `bencode:"peers"`
	ExternalIP     []byte             `bencode:"external ip"`
}

func decodeResponse(b []byte) (*response, error) {
	var r response
	if err := bencode.DecodeBytes(b, &r); err != nil {
		return nil, tracker.ErrDecode
	}
	return &r, nil
}

func (r *response) announceResponse() (*tracker.AnnounceResponse, error) {
	peers, err := r.peers()
	if err != nil {
		return nil, err
	}
	return &tracker.AnnounceResponse{
		Interval:       time.Duration(r.Interval) * time.Second,
		MinInterval:    time.Duration(r.MinInterval) * time.Second,
		Leechers:       r.Incomplete,
		Seeders:        r.Complete,
		WarningMessage: r.WarningMessage,
		Peers:          peers,
	}, nil
}

// peers returns the peer list without our own external address.
// The list is either a compact string or a list of dictionaries.
func (r *response) peers() ([]*net.TCPAddr, error) {
	if len(r.Peers) == 0 {
		return nil, nil
	}
	var peers []*net.TCPAddr
	var err error
	if r.Peers[0] == 'l' {
		peers, err = parsePeersDictionary(r.Peers)
	} else {
		var b []byte
		if err = bencode.DecodeBytes(r.Peers, &b); err != nil {
			return nil, tracker.ErrDecode
		}
		peers, err = tracker.DecodePeersCompact(b)
	}
	if err != nil {
		return nil, err
	}
	if len(r.ExternalIP) == 0 {
		return peers, nil
	}
	own := net.IP(r.ExternalIP)
	filtered := peers[:0]
	for _, p := range peers {
		if !p.IP.Equal(own) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

func parsePeersDictionary(b bencode.RawMessage) ([]*net.TCPAddr, error) {
	var peers []struct {
		IP   string `bencode:"ip"`
		Port uint16 `bencode:"port"`
	}
	if err := bencode.DecodeBytes(b, &peers); err != nil {
		return nil, tracker.ErrDecode
	}
	addrs := make([]*net.TCPAddr, 0, len(peers))
	for _, p := range peers {
		ip := net.ParseIP(p.IP)
		if ip == nil {
			continue
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(p.Port)})
	}
	return addrs, nil
}
