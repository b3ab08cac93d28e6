// Package rpcclient provides a client for the JSON-RPC interface of a running session.
package rpcclient

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	"github.com/drizzle-bt/drizzle/internal/rpctypes"
	"github.com/gorilla/websocket"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

// Client talks to the RPC server of a session over HTTP.
type Client struct {
	client *jsonrpc2.Client
	addr   string
}

// New returns a client for the server listening on host:port.
func New(host string, port int) *Client {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Client{
		client: jsonrpc2.NewHTTPClient("http://" + addr),
		addr:   addr,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) ServerVersion() (string, error) {
	var reply string
	return reply, c.client.Call("Session.Version", struct{}{}, &reply)
}

func (c *Client) ListTorrents() ([]rpctypes.Torrent, error) {
	var reply rpctypes.ListTorrentsResponse
	return reply.Torrents, c.client.Call("Session.ListTorrents", nil, &reply)
}

func (c *Client) AddTorrent(f io.Reader, opt rpctypes.AddTorrentOptions) (*rpctypes.Torrent, error) {
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	args := rpctypes.AddTorrentRequest{
		Torrent:           base64.StdEncoding.EncodeToString(b),
		AddTorrentOptions: opt,
	}
	var reply rpctypes.AddTorrentResponse
	return &reply.Torrent, c.client.Call("Session.AddTorrent", args, &reply)
}

func (c *Client) AddURI(uri string, opt rpctypes.AddTorrentOptions) (*rpctypes.Torrent, error) {
	args := rpctypes.AddURIRequest{URI: uri, AddTorrentOptions: opt}
	var reply rpctypes.AddURIResponse
	return &reply.Torrent, c.client.Call("Session.AddURI", args, &reply)
}

func (c *Client) RemoveTorrent(id string, deleteFiles bool) error {
	args := rpctypes.RemoveTorrentRequest{ID: id, DeleteFiles: deleteFiles}
	var reply rpctypes.RemoveTorrentResponse
	return c.client.Call("Session.RemoveTorrent", args, &reply)
}

func (c *Client) StartTorrent(id string) error {
	args := rpctypes.StartTorrentRequest{ID: id}
	var reply rpctypes.StartTorrentResponse
	return c.client.Call("Session.StartTorrent", args, &reply)
}

func (c *Client) PauseTorrent(id string) error {
	args := rpctypes.PauseTorrentRequest{ID: id}
	var reply rpctypes.PauseTorrentResponse
	return c.client.Call("Session.PauseTorrent", args, &reply)
}

func (c *Client) RecheckTorrent(id string) error {
	args := rpctypes.RecheckTorrentRequest{ID: id}
	var reply rpctypes.RecheckTorrentResponse
	return c.client.Call("Session.RecheckTorrent", args, &reply)
}

func (c *Client) SetFilePriority(id string, file int, priority string) error {
	args := rpctypes.SetFilePriorityRequest{ID: id, File: file, Priority: priority}
	var reply rpctypes.SetFilePriorityResponse
	return c.client.Call("Session.SetFilePriority", args, &reply)
}

func (c *Client) SetQueuePriority(id string, priority int) error {
	args := rpctypes.SetQueuePriorityRequest{ID: id, Priority: priority}
	var reply rpctypes.SetQueuePriorityResponse
	return c.client.Call("Session.SetQueuePriority", args, &reply)
}

func (c *Client) SetTorrentSpeedLimits(id string, download, upload int64) error {
	args := rpctypes.SetTorrentSpeedLimitsRequest{ID: id, Download: download, Upload: upload}
	var reply rpctypes.SetTorrentSpeedLimitsResponse
	return c.client.Call("Session.SetTorrentSpeedLimits", args, &reply)
}

func (c *Client) SetGlobalRateLimit(download, upload int64) error {
	args := rpctypes.SetGlobalRateLimitRequest{Download: download, Upload: upload}
	var reply rpctypes.SetGlobalRateLimitResponse
	return c.client.Call("Session.SetGlobalRateLimit", args, &reply)
}

func (c *Client) AddPeer(id string, addr string) error {
	args := rpctypes.AddPeerRequest{ID: id, Addr: addr}
	var reply rpctypes.AddPeerResponse
	return c.client.Call("Session.AddPeer", args, &reply)
}

func (c *Client) GetTorrentStats(id string) (*rpctypes.Stats, error) {
	args := rpctypes.GetTorrentStatsRequest{ID: id}
	var reply rpctypes.GetTorrentStatsResponse
	return &reply.Stats, c.client.Call("Session.GetTorrentStats", args, &reply)
}

func (c *Client) GetTorrentTrackers(id string) ([]rpctypes.Tracker, error) {
	args := rpctypes.GetTorrentTrackersRequest{ID: id}
	var reply rpctypes.GetTorrentTrackersResponse
	return reply.Trackers, c.client.Call("Session.GetTorrentTrackers", args, &reply)
}

func (c *Client) GetTorrentPeers(id string) ([]rpctypes.Peer, error) {
	args := rpctypes.GetTorrentPeersRequest{ID: id}
	var reply rpctypes.GetTorrentPeersResponse
	return reply.Peers, c.client.Call("Session.GetTorrentPeers", args, &reply)
}

func (c *Client) GetSessionStats() (*rpctypes.SessionStats, error) {
	var reply rpctypes.GetSessionStatsResponse
	return &reply.Stats, c.client.Call("Session.GetSessionStats", nil, &reply)
}

// Events connects to the event stream of the session. Events are sent to the returned channel
// until done is closed or the connection fails. The error channel receives one value when the stream ends.
func (c *Client) Events(done <-chan struct{}) (<-chan rpctypes.Event, <-chan error, error) {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/events"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to event stream: %w", err)
	}
	eventC := make(chan rpctypes.Event)
	errC := make(chan error, 1)
	go func() {
		<-done
		_ = conn.Close()
	}()
	go func() {
		defer close(eventC)
		for {
			var e rpctypes.Event
			if err := conn.ReadJSON(&e); err != nil {
				select {
				case <-done:
					errC <- nil
				default:
					errC <- err
				}
				return
			}
			select {
			case eventC <- e:
			case <-done:
				errC <- nil
				return
			}
		}
	}()
	return eventC, errC, nil
}
