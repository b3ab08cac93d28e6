// Package rpctypes contains the request and response types of the JSON-RPC interface of a session.
package rpctypes

// Torrent is a summary of a torrent in the session.
type Torrent struct {
	ID            string
	Name          string
	InfoHash      string
	Status        string
	Started       bool
	QueuePriority int
	AddedAt       Time
}

// File is the progress of one file in a torrent.
type File struct {
	Path      string
	Length    int64
	Completed int64
	Priority  string
}

// Peer is a connected peer of a torrent.
type Peer struct {
	ID                 string
	Client             string
	Addr               string
	Source             string
	ConnectedAt        Time
	Downloading        bool
	ClientInterested   bool
	ClientChoking      bool
	PeerInterested     bool
	PeerChoking        bool
	OptimisticUnchoked bool
	Snubbed            bool
	Unreliable         bool
	FastExtension      bool
	DownloadSpeed      int
	UploadSpeed        int
	BytesDownloaded    int64
	BytesUploaded      int64
}

// Tracker is the announce state of a tracker tier.
type Tracker struct {
	URL      string
	Status   string
	Leechers int
	Seeders  int
	Error    string `json:",omitempty"`
}

// Stats of a torrent.
type Stats struct {
	InfoHash string
	Name     string
	Status   string
	Error    string `json:",omitempty"`
	Pieces   struct {
		Checked   uint32
		Requested uint32
		Verified  uint32
		Missing   uint32
		Available uint32
		Total     uint32
	}
	Bytes struct {
		Total      int64
		Completed  int64
		Incomplete int64
		Downloaded int64
		Uploaded   int64
		Wasted     int64
	}
	Peers struct {
		Total       int
		Incoming    int
		Outgoing    int
		Waiting     int
		Connecting  int
		Handshaking int
		Unreliable  int
	}
	Speed struct {
		Download int
		Upload   int
	}
	// Seconds. -1 when unknown.
	ETA         int
	Ratio       float64
	Corruptions int
	Timeouts    int
	// Seconds.
	SeededFor   int
	PieceLength uint32
	Files       []File
}

// SessionStats are the counters of the whole session.
type SessionStats struct {
	Uptime             int
	Torrents           int
	ActiveDownloads    int
	Peers              int
	PiecesVerified     int64
	PiecesFailed       int64
	SpeedDownload      int
	SpeedUpload        int
	SpeedWrite         int
	LimitDownload      int64
	LimitUpload        int64
	WritesActive       int
	WritesPending      int
	VerifiesActive     int
	VerifiesPending    int
	EventsDropped      int64
	MaxActiveDownloads int
	QueueOrder         string
	Port               int
}

// Event is sent to websocket clients of the /events endpoint.
type Event struct {
	Type           string
	TorrentID      string
	Time           Time
	Status         string
	VerifiedPieces uint32 `json:",omitempty"`
	TotalPieces    uint32 `json:",omitempty"`
	BytesCompleted int64  `json:",omitempty"`
	BytesTotal     int64  `json:",omitempty"`
	Peers          int    `json:",omitempty"`
	Error          string `json:",omitempty"`
}

type ListTorrentsRequest struct {
}

type ListTorrentsResponse struct {
	Torrents []Torrent
}

// AddTorrentOptions are passed with AddTorrent and AddURI requests.
type AddTorrentOptions struct {
	Stopped       bool
	QueuePriority int
}

type AddTorrentRequest struct {
	// Base64 encoded .torrent file.
	Torrent string
	AddTorrentOptions
}

type AddTorrentResponse struct {
	Torrent Torrent
}

type AddURIRequest struct {
	URI string
	AddTorrentOptions
}

type AddURIResponse struct {
	Torrent Torrent
}

type RemoveTorrentRequest struct {
	ID          string
	DeleteFiles bool
}

type RemoveTorrentResponse struct {
}

type GetTorrentStatsRequest struct {
	ID string
}

type GetTorrentStatsResponse struct {
	Stats Stats
}

type GetTorrentTrackersRequest struct {
	ID string
}

type GetTorrentTrackersResponse struct {
	Trackers []Tracker
}

type GetTorrentPeersRequest struct {
	ID string
}

type GetTorrentPeersResponse struct {
	Peers []Peer
}

type GetSessionStatsRequest struct {
}

type GetSessionStatsResponse struct {
	Stats SessionStats
}

type StartTorrentRequest struct {
	ID string
}

type StartTorrentResponse struct {
}

type PauseTorrentRequest struct {
	ID string
}

type PauseTorrentResponse struct {
}

type RecheckTorrentRequest struct {
	ID string
}

type RecheckTorrentResponse struct {
}

type SetFilePriorityRequest struct {
	ID       string
	File     int
	Priority string
}

type SetFilePriorityResponse struct {
}

type SetQueuePriorityRequest struct {
	ID       string
	Priority int
}

type SetQueuePriorityResponse struct {
}

type SetTorrentSpeedLimitsRequest struct {
	ID       string
	Download int64
	Upload   int64
}

type SetTorrentSpeedLimitsResponse struct {
}

type SetGlobalRateLimitRequest struct {
	Download int64
	Upload   int64
}

type SetGlobalRateLimitResponse struct {
}

type AddPeerRequest struct {
	ID   string
	Addr string
}

type AddPeerResponse struct {
}
