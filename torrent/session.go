// Package torrent provides a BitTorrent client implementation.
package torrent

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/drizzle-bt/drizzle/internal/bandwidth"
	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/resumer/boltdbresumer"
	"github.com/drizzle-bt/drizzle/internal/semaphore"
	"github.com/drizzle-bt/drizzle/internal/tracker"
	"github.com/drizzle-bt/drizzle/internal/tracker/httptracker"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/time/rate"
)

var (
	sessionBucket  = []byte("session")
	torrentsBucket = []byte("torrents")

	speedLimitDownloadKey = []byte("speed-limit-download")
	speedLimitUploadKey   = []byte("speed-limit-upload")
)

// Number of events buffered for subscribers before new events are dropped.
const eventBufferSize = 1000

// Session contains torrents, the listening port, the resume database and the global rate budget.
type Session struct {
	config    Config
	db        *bolt.DB
	resumer   *boltdbresumer.Resumer
	log       logger.Logger
	peerID    [20]byte
	listener  *net.TCPListener
	createdAt time.Time

	bandwidth   *bandwidth.Manager
	dialLimiter *rate.Limiter
	semWrite    *semaphore.Semaphore
	semVerify   *semaphore.Semaphore

	httpTransport *http.Transport
	events        *eventBus
	metrics       *sessionMetrics
	rpc           *rpcServer
	watcher       *dirWatcher

	m                  sync.RWMutex
	torrents           map[string]*Torrent
	torrentsByInfoHash map[[20]byte]*Torrent
	// Latest added time handed out, so every torrent gets a distinct one.
	lastAddedAt time.Time

	// Held during a scheduling pass and while a torrent is started or paused by the user.
	mSchedule sync.Mutex
	scheduleC chan struct{}
	closeC    chan struct{}
	wg        sync.WaitGroup
}

// NewSession opens the resume database, starts listening for peers and loads the saved torrents.
func NewSession(cfg Config) (*Session, error) {
	if cfg.QueueOrder != QueueOrderPriority && cfg.QueueOrder != QueueOrderRecent {
		return nil, fmt.Errorf("invalid queue order: %q", cfg.QueueOrder)
	}
	var err error
	cfg.Database, err = homedir.Expand(cfg.Database)
	if err != nil {
		return nil, err
	}
	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if cfg.WatchDir != "" {
		cfg.WatchDir, err = homedir.Expand(cfg.WatchDir)
		if err != nil {
			return nil, err
		}
	}
	err = os.MkdirAll(filepath.Dir(cfg.Database), 0750)
	if err != nil {
		return nil, err
	}
	logger.SetDebug(cfg.Debug)
	l := logger.New("session")
	db, err := bolt.Open(cfg.Database, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("resume database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()
	downLimit, upLimit := cfg.SpeedLimitDownload, cfg.SpeedLimitUpload
	err = db.Update(func(tx *bolt.Tx) error {
		b, err2 := tx.CreateBucketIfNotExists(sessionBucket)
		if err2 != nil {
			return err2
		}
		if v := b.Get(speedLimitDownloadKey); v != nil {
			downLimit, _ = strconv.ParseInt(string(v), 10, 64)
		}
		if v := b.Get(speedLimitUploadKey); v != nil {
			upLimit, _ = strconv.ParseInt(string(v), 10, 64)
		}
		_, err2 = tx.CreateBucketIfNotExists(torrentsBucket)
		return err2
	})
	if err != nil {
		return nil, err
	}
	res, err := boltdbresumer.New(db, torrentsBucket)
	if err != nil {
		return nil, err
	}
	peerID, err := generatePeerID()
	if err != nil {
		return nil, err
	}
	var listener *net.TCPListener
	listener, err = listen(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	s := &Session{
		config:             cfg,
		db:                 db,
		resumer:            res,
		log:                l,
		peerID:             peerID,
		listener:           listener,
		createdAt:          time.Now(),
		bandwidth:          bandwidth.NewManager(downLimit, upLimit, nil),
		dialLimiter:        rate.NewLimiter(rate.Limit(cfg.DialRate), cfg.DialBurst),
		semWrite:           semaphore.New(cfg.ParallelWrites),
		semVerify:          semaphore.New(cfg.ParallelVerifies),
		httpTransport:      &http.Transport{Proxy: http.ProxyFromEnvironment, MaxIdleConnsPerHost: 4},
		events:             newEventBus(eventBufferSize),
		torrents:           make(map[string]*Torrent),
		torrentsByInfoHash: make(map[[20]byte]*Torrent),
		scheduleC:          make(chan struct{}, 1),
		closeC:             make(chan struct{}),
	}
	s.initMetrics()
	s.log.Infoln("listening for peers on", listener.Addr())

	s.wg.Add(2)
	go s.acceptor()
	go s.scheduler()

	s.loadExistingTorrents()
	s.schedule()

	// From here on Close releases everything, including the database.
	if cfg.WatchDir != "" {
		w, werr := newDirWatcher(s, cfg.WatchDir)
		if werr != nil {
			s.Close()
			return nil, werr
		}
		s.watcher = w
	}
	if cfg.RPCEnabled {
		s.rpc = newRPCServer(s)
		if rerr := s.rpc.Start(cfg.RPCHost, cfg.RPCPort); rerr != nil {
			s.rpc = nil
			s.Close()
			return nil, rerr
		}
	}
	return s, nil
}

func listen(host string, port int) (*net.TCPListener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return l.(*net.TCPListener), nil
}

func generatePeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], peerIDPrefix)
	_, err := rand.Read(id[len(peerIDPrefix):])
	return id, err
}

// port is the listening port advertised to trackers and peers.
func (s *Session) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// PeerID returns the peer id sent in every handshake of this session.
func (s *Session) PeerID() [20]byte { return s.peerID }

// Port returns the port listening for incoming peers.
func (s *Session) Port() int { return s.port() }

func (s *Session) newTracker(rawURL string) (tracker.Tracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return httptracker.New(rawURL, u, s.config.TrackerHTTPTimeout, s.httpTransport, s.config.TrackerHTTPUserAgent, s.config.TrackerHTTPMaxResponseSize), nil
	default:
		return nil, fmt.Errorf("unsupported tracker scheme: %s", u.Scheme)
	}
}

// ListTorrents returns all torrents in the session.
func (s *Session) ListTorrents() []*Torrent {
	s.m.RLock()
	defer s.m.RUnlock()
	torrents := make([]*Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		torrents = append(torrents, t)
	}
	return torrents
}

// GetTorrent returns the torrent with id or nil.
func (s *Session) GetTorrent(id string) *Torrent {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.torrents[id]
}

func (s *Session) getTorrentByInfoHash(ih [20]byte) *Torrent {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.torrentsByInfoHash[ih]
}

// StartTorrent marks the torrent as started. It begins downloading when a download slot is free.
func (s *Session) StartTorrent(id string) error {
	t := s.GetTorrent(id)
	if t == nil {
		return ErrTorrentNotFound
	}
	return t.Start()
}

// PauseTorrent stops the torrent and keeps it out of the queue until it is started again.
func (s *Session) PauseTorrent(id string) error {
	t := s.GetTorrent(id)
	if t == nil {
		return ErrTorrentNotFound
	}
	return t.Pause()
}

// SetFilePriority changes the priority of the file at index in the file list of the torrent.
func (s *Session) SetFilePriority(id string, file int, p Priority) error {
	t := s.GetTorrent(id)
	if t == nil {
		return ErrTorrentNotFound
	}
	return t.SetFilePriority(file, p)
}

// SetGlobalRateLimit changes the session-wide speed limits in bytes per second. Zero means no limit.
// The budget is shared equally by running torrents.
func (s *Session) SetGlobalRateLimit(download, upload int64) error {
	if download < 0 || upload < 0 {
		return errors.New("rate limit cannot be negative")
	}
	s.bandwidth.SetLimit(bandwidth.Download, download)
	s.bandwidth.SetLimit(bandwidth.Upload, upload)
	s.log.Infof("global speed limits set: download=%d upload=%d", download, upload)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if err := b.Put(speedLimitDownloadKey, []byte(strconv.FormatInt(download, 10))); err != nil {
			return err
		}
		return b.Put(speedLimitUploadKey, []byte(strconv.FormatInt(upload, 10)))
	})
}

// GlobalRateLimit returns the session-wide speed limits in bytes per second.
func (s *Session) GlobalRateLimit() (download, upload int64) {
	return s.bandwidth.Limit(bandwidth.Download), s.bandwidth.Limit(bandwidth.Upload)
}

// SubscribeEvents registers cb to be called for every event of every torrent.
// cb is called on a single goroutine and must not block. Call the returned function to unsubscribe.
func (s *Session) SubscribeEvents(cb func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(cb)
}

// Close stops every torrent, saves resume data and closes the database.
func (s *Session) Close() error {
	var result error
	close(s.closeC)

	if s.watcher != nil {
		s.watcher.Close()
	}
	if err := s.listener.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.wg.Wait()

	var wg sync.WaitGroup
	s.m.Lock()
	wg.Add(len(s.torrents))
	for _, t := range s.torrents {
		go func(t *Torrent) {
			t.torrent.Close()
			wg.Done()
		}(t)
	}
	wg.Wait()
	s.torrents = nil
	s.torrentsByInfoHash = nil
	s.m.Unlock()

	if s.rpc != nil {
		if err := s.rpc.Stop(s.config.RPCShutdownTimeout); err != nil {
			s.log.Errorln("cannot stop RPC server:", err.Error())
			result = multierror.Append(result, err)
		}
	}
	s.events.Close()
	s.metrics.Close()
	s.httpTransport.CloseIdleConnections()

	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
