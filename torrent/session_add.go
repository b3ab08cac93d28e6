package torrent

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/drizzle-bt/drizzle/internal/magnet"
	"github.com/drizzle-bt/drizzle/internal/metainfo"
	"github.com/drizzle-bt/drizzle/internal/resumer/boltdbresumer"
	"github.com/drizzle-bt/drizzle/internal/storage/filestorage"
	"github.com/gofrs/uuid"
)

var (
	// ErrTorrentNotFound is returned when there is no torrent with the given id.
	ErrTorrentNotFound = errors.New("torrent not found")
	// ErrTorrentExists is returned when a torrent with the same info hash is already in the session.
	ErrTorrentExists = errors.New("torrent already exists")
)

// AddTorrentOptions contains options for adding a new torrent.
type AddTorrentOptions struct {
	// Do not start the torrent automatically after adding.
	Stopped bool
	// Position in the download queue. Torrents with higher values start first when QueueOrder is "priority".
	QueuePriority int
}

// AddTorrent adds a new torrent to the session by reading .torrent metainfo from reader.
// Nil value can be passed as opt for default options.
func (s *Session) AddTorrent(r io.Reader, opt *AddTorrentOptions) (*Torrent, error) {
	mi, err := metainfo.New(io.LimitReader(r, s.config.MaxTorrentSize))
	if err != nil {
		return nil, newDescriptorParseError(err)
	}
	return s.add(opt, addSpec{
		InfoHash: mi.Info.Hash,
		Name:     mi.Info.Name,
		Info:     mi.Info,
		Trackers: mi.AnnounceList,
	})
}

// AddURI adds a new torrent to the session from a magnet link, an http(s) URL of a .torrent file or a local file path.
// Nil value can be passed as opt for default options.
func (s *Session) AddURI(uri string, opt *AddTorrentOptions) (*Torrent, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, newDescriptorParseError(err)
	}
	switch u.Scheme {
	case "http", "https":
		return s.addURL(uri, opt)
	case "magnet":
		return s.addMagnet(uri, opt)
	case "file":
		return s.addFile(u.Path, opt)
	case "":
		return s.addFile(uri, opt)
	default:
		return nil, newDescriptorParseError(errors.New("unsupported uri scheme: " + u.Scheme))
	}
}

func (s *Session) addURL(u string, opt *AddTorrentOptions) (*Torrent, error) {
	client := http.Client{
		Timeout:   s.config.TorrentAddHTTPTimeout,
		Transport: s.httpTransport,
	}
	resp, err := client.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cannot download torrent file: %s", resp.Status)
	}
	if resp.ContentLength > s.config.MaxTorrentSize {
		return nil, newDescriptorParseError(fmt.Errorf("torrent too large: %d", resp.ContentLength))
	}
	return s.AddTorrent(resp.Body, opt)
}

func (s *Session) addFile(path string, opt *AddTorrentOptions) (*Torrent, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.AddTorrent(f, opt)
}

func (s *Session) addMagnet(link string, opt *AddTorrentOptions) (*Torrent, error) {
	ma, err := magnet.New(link)
	if err != nil {
		return nil, newDescriptorParseError(err)
	}
	name := ma.Name
	if name == "" {
		name = hexInfoHash(ma.InfoHash)
	}
	return s.add(opt, addSpec{
		InfoHash: ma.InfoHash,
		Name:     name,
		Trackers: filterTrackers(ma.Trackers),
		Peers:    ma.Peers,
	})
}

type addSpec struct {
	InfoHash [20]byte
	Name     string
	Info     *metainfo.Info
	Trackers [][]string
	Peers    []string
}

func (s *Session) add(opt *AddTorrentOptions, as addSpec) (*Torrent, error) {
	if opt == nil {
		opt = &AddTorrentOptions{}
	}
	u1, err := uuid.NewV1()
	if err != nil {
		return nil, err
	}
	id := base64.RawURLEncoding.EncodeToString(u1[:])
	sto, err := filestorage.New(filepath.Join(s.config.DataDir, id))
	if err != nil {
		return nil, err
	}
	addedAt := s.nextAddedAt(time.Now())
	rspec := &boltdbresumer.Spec{
		InfoHash:      as.InfoHash[:],
		Dest:          sto.Dest(),
		Name:          as.Name,
		Trackers:      as.Trackers,
		Peers:         as.Peers,
		AddedAt:       addedAt,
		QueuePriority: opt.QueuePriority,
		Started:       !opt.Stopped,
	}
	if as.Info != nil {
		rspec.Info = as.Info.Bytes
	}

	s.m.Lock()
	if s.torrents == nil {
		s.m.Unlock()
		return nil, errors.New("session is closed")
	}
	if _, ok := s.torrentsByInfoHash[as.InfoHash]; ok {
		s.m.Unlock()
		return nil, ErrTorrentExists
	}
	if err = s.resumer.Write(id, rspec); err != nil {
		s.m.Unlock()
		return nil, err
	}
	t := newTorrent(s, options{
		ID:       id,
		AddedAt:  addedAt,
		Name:     as.Name,
		InfoHash: as.InfoHash,
		Info:     as.Info,
		Trackers: as.Trackers,
		Peers:    resolvePeers(as.Peers),
		Storage:  sto,
		Resumer:  boltdbresumer.TorrentResumer{Resumer: s.resumer, ID: id},
	})
	t2 := s.insertTorrent(t, rspec)
	s.m.Unlock()

	t.log.Infof("added torrent %q", as.Name)
	s.schedule()
	return t2, nil
}

// insertTorrent must be called with s.m held.
func (s *Session) insertTorrent(t *torrent, rspec *boltdbresumer.Spec) *Torrent {
	t2 := &Torrent{
		session:       s,
		torrent:       t,
		started:       rspec.Started,
		queuePriority: rspec.QueuePriority,
		downloadLimit: rspec.DownloadLimit,
		uploadLimit:   rspec.UploadLimit,
	}
	s.torrents[t.id] = t2
	s.torrentsByInfoHash[t.infoHash] = t2
	go t.run()
	return t2
}

// filterTrackers drops the tracker URLs this client cannot announce to and the empty tiers.
func filterTrackers(tiers [][]string) [][]string {
	var ret [][]string
	for _, tier := range tiers {
		var kept []string
		for _, tr := range tier {
			if metainfo.IsTrackerSupported(tr) {
				kept = append(kept, tr)
			}
		}
		if len(kept) > 0 {
			ret = append(ret, kept)
		}
	}
	return ret
}

func resolvePeers(peers []string) []*net.TCPAddr {
	var addrs []*net.TCPAddr
	for _, p := range peers {
		addr, err := net.ResolveTCPAddr("tcp", p)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

// nextAddedAt returns now in UTC, moved forward if needed so it is later than the
// added time of every other torrent. Queue order by added time then never ties.
func (s *Session) nextAddedAt(now time.Time) time.Time {
	now = now.UTC()
	s.m.Lock()
	defer s.m.Unlock()
	if !now.After(s.lastAddedAt) {
		now = s.lastAddedAt.Add(time.Nanosecond)
	}
	s.lastAddedAt = now
	return now
}
