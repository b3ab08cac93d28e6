package torrent

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Queue orders for Config.QueueOrder.
const (
	// QueueOrderPriority starts torrents with higher queue priority first, then the most recently added.
	QueueOrderPriority = "priority"
	// QueueOrderRecent starts the most recently added torrents first.
	QueueOrderRecent = "recent"
)

// Config for Session.
type Config struct {
	// Database file to save resume data.
	Database string `yaml:"database"`
	// DataDir is where files are downloaded. Each torrent gets a sub-directory named by its ID.
	DataDir string `yaml:"data-dir"`
	// Host to listen for incoming peers.
	Host string `yaml:"host"`
	// Port to listen for incoming peers. Zero picks a random port.
	Port int `yaml:"port"`
	// WatchDir is scanned for new .torrent files. Empty disables watching.
	WatchDir string `yaml:"watch-dir"`

	// Enable RPC server
	RPCEnabled bool `yaml:"rpc-enabled"`
	// Host to listen for RPC server
	RPCHost string `yaml:"rpc-host"`
	// Listen port for RPC server
	RPCPort int `yaml:"rpc-port"`
	// Time to wait for ongoing requests before shutting down RPC HTTP server.
	RPCShutdownTimeout time.Duration `yaml:"rpc-shutdown-timeout"`

	// Number of torrents that can download at the same time. Seeding torrents don't count. Zero means no limit.
	MaxActiveDownloads int `yaml:"max-active-downloads"`
	// QueueOrder is "priority" or "recent".
	QueueOrder string `yaml:"queue-order"`

	// Global download speed limit in bytes per second. Zero means no limit.
	SpeedLimitDownload int64 `yaml:"speed-limit-download"`
	// Global upload speed limit in bytes per second. Zero means no limit.
	SpeedLimitUpload int64 `yaml:"speed-limit-upload"`

	// Max number of connected peers per torrent.
	MaxPeers int `yaml:"max-peers"`
	// Max number of outgoing connections being dialed per torrent.
	MaxPeerDial int `yaml:"max-peer-dial"`
	// Max number of addresses kept per torrent for dialing later.
	MaxPeerAddresses int `yaml:"max-peer-addresses"`
	// Dials per second for the whole session.
	DialRate float64 `yaml:"dial-rate"`
	// Number of dials that can be made at once above DialRate.
	DialBurst int `yaml:"dial-burst"`
	// Time to wait for TCP connection to open.
	PeerConnectTimeout time.Duration `yaml:"peer-connect-timeout"`
	// Time to wait for BitTorrent handshake to complete.
	PeerHandshakeTimeout time.Duration `yaml:"peer-handshake-timeout"`
	// When peer has started to send piece block, if it does not send any bytes in PieceReadTimeout, the connection is closed.
	PieceReadTimeout time.Duration `yaml:"piece-read-timeout"`
	// Max number of piece replies queued for a peer.
	MaxQueuedPieceReplies int `yaml:"max-queued-piece-replies"`

	// Max number of blocks requested from a peer but not received yet.
	RequestQueueLength int `yaml:"request-queue-length"`
	// Time to wait for a requested block to be received.
	RequestTimeout time.Duration `yaml:"request-timeout"`
	// Number of missed deadlines before a request is given to another peer.
	MaxRequestRetries int `yaml:"max-request-retries"`
	// Max number of peers a block is requested from in endgame mode. Zero means every peer that has the piece.
	EndgameMaxDuplicates int `yaml:"endgame-max-duplicates"`

	// Interval between unchoke rounds.
	UnchokeInterval time.Duration `yaml:"unchoke-interval"`
	// Number of peers unchoked for their upload rate.
	UnchokedPeers int `yaml:"unchoked-peers"`
	// Number of peers unchoked randomly.
	OptimisticUnchokedPeers int `yaml:"optimistic-unchoked-peers"`
	// Optimistic slots are rotated every this many unchoke rounds.
	OptimisticUnchokeRounds int `yaml:"optimistic-unchoke-rounds"`

	// After a piece fails verification this many times, peers that sent its blocks are marked unreliable.
	MaxPieceHashFailures int `yaml:"max-piece-hash-failures"`
	// Torrent enters error state when the number of failed verifications exceeds this value.
	CorruptionThreshold int `yaml:"corruption-threshold"`

	// Number of retries of a failed disk write.
	DiskWriteRetries int `yaml:"disk-write-retries"`
	// Delay before the first retry of a failed disk write.
	DiskWriteRetryInterval time.Duration `yaml:"disk-write-retry-interval"`
	// Number of concurrent disk writes in the session.
	ParallelWrites int `yaml:"parallel-writes"`
	// Number of concurrent piece verifications in the session.
	ParallelVerifies int `yaml:"parallel-verifies"`
	// Interval for writing resume data of running torrents.
	ResumeWriteInterval time.Duration `yaml:"resume-write-interval"`

	// Number of peer addresses to request in announce request.
	TrackerNumWant int `yaml:"tracker-num-want"`
	// When the client needs new peer addresses to connect, it asks to the tracker.
	// To prevent spamming the tracker an interval is set to wait before the next announce.
	TrackerMinAnnounceInterval time.Duration `yaml:"tracker-min-announce-interval"`
	// Time to wait for announcing stopped event.
	TrackerStopTimeout time.Duration `yaml:"tracker-stop-timeout"`
	// Total time to wait for response to be read.
	TrackerHTTPTimeout time.Duration `yaml:"tracker-http-timeout"`
	// User agent sent to HTTP trackers.
	TrackerHTTPUserAgent string `yaml:"tracker-http-user-agent"`
	// Max size of an HTTP tracker response.
	TrackerHTTPMaxResponseSize int64 `yaml:"tracker-http-max-response-size"`

	// Max size of a .torrent file accepted by AddTorrent and AddURI.
	MaxTorrentSize int64 `yaml:"max-torrent-size"`
	// Time to wait when downloading a .torrent file from an http(s) URI.
	TorrentAddHTTPTimeout time.Duration `yaml:"torrent-add-http-timeout"`

	// Number of metadata pieces requested at once from a peer.
	MetadataRequestQueueLength int `yaml:"metadata-request-queue-length"`

	// Enable debug log messages.
	Debug bool `yaml:"debug"`
}

// DefaultConfig for Session. Do not pass zero value Config to NewSession. Copy this struct and modify instead.
var DefaultConfig = Config{
	Database:           "~/drizzle/session.db",
	DataDir:            "~/drizzle/data",
	Host:               "0.0.0.0",
	Port:               50000,
	RPCEnabled:         true,
	RPCHost:            "127.0.0.1",
	RPCPort:            7246,
	RPCShutdownTimeout: 5 * time.Second,

	MaxActiveDownloads: 3,
	QueueOrder:         QueueOrderPriority,

	MaxPeers:              80,
	MaxPeerDial:           40,
	MaxPeerAddresses:      2000,
	DialRate:              20,
	DialBurst:             40,
	PeerConnectTimeout:    5 * time.Second,
	PeerHandshakeTimeout:  10 * time.Second,
	PieceReadTimeout:      30 * time.Second,
	MaxQueuedPieceReplies: 250,

	RequestQueueLength:   50,
	RequestTimeout:       20 * time.Second,
	MaxRequestRetries:    2,
	EndgameMaxDuplicates: 0,

	UnchokeInterval:         10 * time.Second,
	UnchokedPeers:           3,
	OptimisticUnchokedPeers: 1,
	OptimisticUnchokeRounds: 3,

	MaxPieceHashFailures: 3,
	CorruptionThreshold:  100,

	DiskWriteRetries:       5,
	DiskWriteRetryInterval: 500 * time.Millisecond,
	ParallelWrites:         4,
	ParallelVerifies:       2,
	ResumeWriteInterval:    30 * time.Second,

	TrackerNumWant:             200,
	TrackerMinAnnounceInterval: time.Minute,
	TrackerStopTimeout:         5 * time.Second,
	TrackerHTTPTimeout:         30 * time.Second,
	TrackerHTTPUserAgent:       "drizzle/" + Version,
	TrackerHTTPMaxResponseSize: 2 << 20,

	MaxTorrentSize:        10 << 20,
	TorrentAddHTTPTimeout: 30 * time.Second,

	MetadataRequestQueueLength: 2,
}

// LoadConfig reads a YAML file on top of DefaultConfig. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig
	cp, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(cp) // nolint: gosec
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
