package torrent

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/drizzle-bt/drizzle/internal/rpctypes"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

var errTorrentNotFound = jsonrpc2.NewError(1, "torrent not found")

type rpcHandler struct {
	session *Session
}

// inputError converts errors caused by bad arguments to a JSON-RPC error the client can show as is.
func inputError(err error) error {
	var perr *DescriptorParseError
	var ierr *InputError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTorrentNotFound):
		return errTorrentNotFound
	case errors.As(err, &perr), errors.As(err, &ierr), errors.Is(err, ErrTorrentExists), errors.Is(err, errNoInfo):
		return jsonrpc2.NewError(2, err.Error())
	}
	return err
}

func (h *rpcHandler) Version(args struct{}, reply *string) error {
	*reply = Version
	return nil
}

func (h *rpcHandler) ListTorrents(args *rpctypes.ListTorrentsRequest, reply *rpctypes.ListTorrentsResponse) error {
	torrents := h.session.ListTorrents()
	reply.Torrents = make([]rpctypes.Torrent, 0, len(torrents))
	for _, t := range torrents {
		reply.Torrents = append(reply.Torrents, newRPCTorrent(t))
	}
	return nil
}

func (h *rpcHandler) AddTorrent(args *rpctypes.AddTorrentRequest, reply *rpctypes.AddTorrentResponse) error {
	r := base64.NewDecoder(base64.StdEncoding, strings.NewReader(args.Torrent))
	t, err := h.session.AddTorrent(r, newAddTorrentOptions(args.AddTorrentOptions))
	if err != nil {
		return inputError(err)
	}
	reply.Torrent = newRPCTorrent(t)
	return nil
}

func (h *rpcHandler) AddURI(args *rpctypes.AddURIRequest, reply *rpctypes.AddURIResponse) error {
	t, err := h.session.AddURI(args.URI, newAddTorrentOptions(args.AddTorrentOptions))
	if err != nil {
		return inputError(err)
	}
	reply.Torrent = newRPCTorrent(t)
	return nil
}

func newAddTorrentOptions(o rpctypes.AddTorrentOptions) *AddTorrentOptions {
	return &AddTorrentOptions{
		Stopped:       o.Stopped,
		QueuePriority: o.QueuePriority,
	}
}

func newRPCTorrent(t *Torrent) rpctypes.Torrent {
	return rpctypes.Torrent{
		ID:            t.ID(),
		Name:          t.Name(),
		InfoHash:      t.InfoHash().String(),
		Status:        t.Status().String(),
		Started:       t.Started(),
		QueuePriority: t.QueuePriority(),
		AddedAt:       rpctypes.Time{Time: t.AddedAt()},
	}
}

func newRPCEvent(e Event) rpctypes.Event {
	return rpctypes.Event{
		Type:           e.Type.String(),
		TorrentID:      e.TorrentID,
		Time:           rpctypes.Time{Time: e.Time},
		Status:         e.Status.String(),
		VerifiedPieces: e.VerifiedPieces,
		TotalPieces:    e.TotalPieces,
		BytesCompleted: e.BytesCompleted,
		BytesTotal:     e.BytesTotal,
		Peers:          e.Peers,
		Error:          e.Error,
	}
}

func (h *rpcHandler) RemoveTorrent(args *rpctypes.RemoveTorrentRequest, reply *rpctypes.RemoveTorrentResponse) error {
	return inputError(h.session.RemoveTorrent(args.ID, args.DeleteFiles))
}

func (h *rpcHandler) StartTorrent(args *rpctypes.StartTorrentRequest, reply *rpctypes.StartTorrentResponse) error {
	return inputError(h.session.StartTorrent(args.ID))
}

func (h *rpcHandler) PauseTorrent(args *rpctypes.PauseTorrentRequest, reply *rpctypes.PauseTorrentResponse) error {
	return inputError(h.session.PauseTorrent(args.ID))
}

func (h *rpcHandler) RecheckTorrent(args *rpctypes.RecheckTorrentRequest, reply *rpctypes.RecheckTorrentResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	t.Recheck()
	return nil
}

func (h *rpcHandler) SetFilePriority(args *rpctypes.SetFilePriorityRequest, reply *rpctypes.SetFilePriorityResponse) error {
	p, err := ParsePriority(args.Priority)
	if err != nil {
		return jsonrpc2.NewError(2, err.Error())
	}
	return inputError(h.session.SetFilePriority(args.ID, args.File, p))
}

func (h *rpcHandler) SetQueuePriority(args *rpctypes.SetQueuePriorityRequest, reply *rpctypes.SetQueuePriorityResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	return t.SetQueuePriority(args.Priority)
}

func (h *rpcHandler) SetTorrentSpeedLimits(args *rpctypes.SetTorrentSpeedLimitsRequest, reply *rpctypes.SetTorrentSpeedLimitsResponse) error {
	if args.Download < 0 || args.Upload < 0 {
		return jsonrpc2.NewError(2, "speed limit cannot be negative")
	}
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	return t.SetSpeedLimits(args.Download, args.Upload)
}

func (h *rpcHandler) SetGlobalRateLimit(args *rpctypes.SetGlobalRateLimitRequest, reply *rpctypes.SetGlobalRateLimitResponse) error {
	if args.Download < 0 || args.Upload < 0 {
		return jsonrpc2.NewError(2, "rate limit cannot be negative")
	}
	return h.session.SetGlobalRateLimit(args.Download, args.Upload)
}

func (h *rpcHandler) AddPeer(args *rpctypes.AddPeerRequest, reply *rpctypes.AddPeerResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	if err := t.AddPeer(args.Addr); err != nil {
		return jsonrpc2.NewError(2, err.Error())
	}
	return nil
}

func (h *rpcHandler) GetSessionStats(args *rpctypes.GetSessionStatsRequest, reply *rpctypes.GetSessionStatsResponse) error {
	s := h.session.Stats()
	reply.Stats = rpctypes.SessionStats{
		Uptime:             int(s.Uptime / time.Second),
		Torrents:           s.Torrents,
		ActiveDownloads:    s.ActiveDownloads,
		Peers:              s.Peers,
		PiecesVerified:     s.PiecesVerified,
		PiecesFailed:       s.PiecesFailed,
		SpeedDownload:      s.SpeedDownload,
		SpeedUpload:        s.SpeedUpload,
		SpeedWrite:         s.SpeedWrite,
		LimitDownload:      s.LimitDownload,
		LimitUpload:        s.LimitUpload,
		WritesActive:       s.WritesActive,
		WritesPending:      s.WritesPending,
		VerifiesActive:     s.VerifiesActive,
		VerifiesPending:    s.VerifiesPending,
		EventsDropped:      s.EventsDropped,
		MaxActiveDownloads: s.MaxActiveDownloads,
		QueueOrder:         s.QueueOrder,
		Port:               s.Port,
	}
	return nil
}

func (h *rpcHandler) GetTorrentStats(args *rpctypes.GetTorrentStatsRequest, reply *rpctypes.GetTorrentStatsResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	s := t.Stats()
	var r rpctypes.Stats
	r.InfoHash = s.InfoHash
	r.Name = s.Name
	r.Status = s.Status.String()
	if s.Error != nil {
		r.Error = s.Error.Error()
	}
	r.Pieces.Checked = s.Pieces.Checked
	r.Pieces.Requested = s.Pieces.Requested
	r.Pieces.Verified = s.Pieces.Verified
	r.Pieces.Missing = s.Pieces.Missing
	r.Pieces.Available = s.Pieces.Available
	r.Pieces.Total = s.Pieces.Total
	r.Bytes.Total = s.Bytes.Total
	r.Bytes.Completed = s.Bytes.Completed
	r.Bytes.Incomplete = s.Bytes.Incomplete
	r.Bytes.Downloaded = s.Bytes.Downloaded
	r.Bytes.Uploaded = s.Bytes.Uploaded
	r.Bytes.Wasted = s.Bytes.Wasted
	r.Peers.Total = s.Peers.Total
	r.Peers.Incoming = s.Peers.Incoming
	r.Peers.Outgoing = s.Peers.Outgoing
	r.Peers.Waiting = s.Peers.Waiting
	r.Peers.Connecting = s.Peers.Connecting
	r.Peers.Handshaking = s.Peers.Handshaking
	r.Peers.Unreliable = s.Peers.Unreliable
	r.Speed.Download = s.Speed.Download
	r.Speed.Upload = s.Speed.Upload
	r.ETA = -1
	if s.ETA != nil {
		r.ETA = int(*s.ETA / time.Second)
	}
	r.Ratio = s.Ratio
	r.Corruptions = s.Corruptions
	r.Timeouts = s.Timeouts
	r.SeededFor = int(s.SeededFor / time.Second)
	r.PieceLength = s.PieceLength
	r.Files = make([]rpctypes.File, len(s.Files))
	for i, f := range s.Files {
		r.Files[i] = rpctypes.File{
			Path:      f.Path,
			Length:    f.Length,
			Completed: f.Completed,
			Priority:  f.Priority.String(),
		}
	}
	reply.Stats = r
	return nil
}

func (h *rpcHandler) GetTorrentTrackers(args *rpctypes.GetTorrentTrackersRequest, reply *rpctypes.GetTorrentTrackersResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	trackers := t.Trackers()
	reply.Trackers = make([]rpctypes.Tracker, len(trackers))
	for i, tr := range trackers {
		reply.Trackers[i] = rpctypes.Tracker{
			URL:      tr.URL,
			Status:   tr.Status,
			Leechers: tr.Leechers,
			Seeders:  tr.Seeders,
		}
		if tr.Error != nil {
			reply.Trackers[i].Error = tr.Error.Error()
		}
	}
	return nil
}

func (h *rpcHandler) GetTorrentPeers(args *rpctypes.GetTorrentPeersRequest, reply *rpctypes.GetTorrentPeersResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	peers := t.Peers()
	reply.Peers = make([]rpctypes.Peer, len(peers))
	for i, p := range peers {
		reply.Peers[i] = rpctypes.Peer{
			ID:                 hex.EncodeToString(p.ID[:]),
			Client:             p.Client,
			Addr:               p.Addr,
			Source:             p.Source,
			ConnectedAt:        rpctypes.Time{Time: p.ConnectedAt},
			Downloading:        p.Downloading,
			ClientInterested:   p.ClientInterested,
			ClientChoking:      p.ClientChoking,
			PeerInterested:     p.PeerInterested,
			PeerChoking:        p.PeerChoking,
			OptimisticUnchoked: p.OptimisticUnchoked,
			Snubbed:            p.Snubbed,
			Unreliable:         p.Unreliable,
			FastExtension:      p.FastExtension,
			DownloadSpeed:      p.DownloadSpeed,
			UploadSpeed:        p.UploadSpeed,
			BytesDownloaded:    p.BytesDownloaded,
			BytesUploaded:      p.BytesUploaded,
		}
	}
	return nil
}
