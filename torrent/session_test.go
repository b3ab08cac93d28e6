package torrent

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPieceLength = 16 << 10
	testTimeout     = 30 * time.Second
	testTick        = 50 * time.Millisecond
)

func init() {
	logger.Discard()
}

func newTestConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := DefaultConfig
	cfg.Database = filepath.Join(dir, "session.db")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.RPCEnabled = false
	cfg.ResumeWriteInterval = time.Second
	return cfg
}

func newTestSession(t *testing.T) *Session {
	return newTestSessionConfig(t, newTestConfig(t))
}

func newTestSessionConfig(t *testing.T, cfg Config) *Session {
	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type testFile struct {
	path []string
	data []byte
}

// newTestDescriptor returns a bencoded descriptor for files with random content.
// A single file creates a single file torrent named name.
func newTestDescriptor(t *testing.T, name string, sizes ...int) ([]byte, []testFile) {
	rnd := rand.New(rand.NewSource(int64(len(name) + len(sizes))))
	files := make([]testFile, len(sizes))
	var all bytes.Buffer
	var dicts []metainfo.FileDict
	for i, size := range sizes {
		data := make([]byte, size)
		_, _ = rnd.Read(data)
		all.Write(data)
		files[i].data = data
		if len(sizes) == 1 {
			files[i].path = []string{name}
			continue
		}
		files[i].path = []string{name, fmt.Sprintf("file%d.bin", i)}
		dicts = append(dicts, metainfo.FileDict{Length: int64(size), Path: files[i].path[1:]})
	}
	info, err := metainfo.CreateInfo(name, testPieceLength, dicts, int64(all.Len()), bytes.NewReader(all.Bytes()))
	require.NoError(t, err)
	desc, err := metainfo.Encode(info, nil, "", "drizzle test")
	require.NoError(t, err)
	return desc, files
}

// writeTestFiles places the content of a torrent where the session expects it.
func writeTestFiles(t *testing.T, s *Session, tor *Torrent, files []testFile) {
	for _, f := range files {
		p := filepath.Join(append([]string{s.config.DataDir, tor.ID()}, f.path...)...)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
		require.NoError(t, os.WriteFile(p, f.data, 0640))
	}
}

func waitStatus(t *testing.T, tor *Torrent, status Status) {
	t.Helper()
	require.Eventually(t, func() bool { return tor.Status() == status }, testTimeout, testTick,
		"torrent status is %s, expected %s", tor.Status(), status)
}

func TestInvalidTorrentData(t *testing.T) {
	s := newTestSession(t)

	_, err := s.AddTorrent(bytes.NewReader([]byte("some garbage data")), nil)

	var perr *DescriptorParseError
	assert.True(t, errors.As(err, &perr))
	assert.Empty(t, s.ListTorrents())
}

func TestAddTorrentDuplicate(t *testing.T) {
	s := newTestSession(t)
	desc, _ := newTestDescriptor(t, "dup.bin", 40000)

	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	assert.Equal(t, "dup.bin", tor.Name())
	assert.False(t, tor.Started())

	_, err = s.AddTorrent(bytes.NewReader(desc), nil)
	assert.True(t, errors.Is(err, ErrTorrentExists))
	assert.Len(t, s.ListTorrents(), 1)
}

func TestAddMagnet(t *testing.T) {
	s := newTestSession(t)
	link := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=magnet-name"

	tor, err := s.AddURI(link, &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	assert.Equal(t, "magnet-name", tor.Name())
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", tor.InfoHash().String())
	assert.Equal(t, Paused, tor.Status())

	_, err = s.AddURI("magnet:?xt=urn:btih:bad", nil)
	var perr *DescriptorParseError
	assert.True(t, errors.As(err, &perr))

	_, err = s.AddURI("ftp://example.com/a.torrent", nil)
	assert.True(t, errors.As(err, &perr))
}

func TestRemoveTorrentDeletesFiles(t *testing.T) {
	s := newTestSession(t)
	desc, files := newTestDescriptor(t, "remove.bin", 3*testPieceLength)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	writeTestFiles(t, s, tor, files)
	dest := filepath.Join(s.config.DataDir, tor.ID())

	require.NoError(t, s.RemoveTorrent(tor.ID(), true))

	assert.Nil(t, s.GetTorrent(tor.ID()))
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, errors.Is(s.RemoveTorrent(tor.ID(), false), ErrTorrentNotFound))

	// The same torrent can be added again after it is removed.
	_, err = s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	assert.NoError(t, err)
}

func TestRemoveTorrentKeepsFiles(t *testing.T) {
	s := newTestSession(t)
	desc, files := newTestDescriptor(t, "keep.bin", testPieceLength)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	writeTestFiles(t, s, tor, files)

	require.NoError(t, s.RemoveTorrent(tor.ID(), false))

	b, err := os.ReadFile(filepath.Join(s.config.DataDir, tor.ID(), "keep.bin"))
	require.NoError(t, err)
	assert.Equal(t, files[0].data, b)
}

func TestExistingDataIsSeeded(t *testing.T) {
	s := newTestSession(t)
	desc, files := newTestDescriptor(t, "seed.bin", 5*testPieceLength+100)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	writeTestFiles(t, s, tor, files)

	require.NoError(t, tor.Start())
	waitStatus(t, tor, Seeding)

	stats := tor.Stats()
	assert.EqualValues(t, 6, stats.Pieces.Total)
	assert.EqualValues(t, 6, stats.Pieces.Verified)
	assert.EqualValues(t, 0, stats.Bytes.Incomplete)
	assert.Nil(t, stats.ETA)
	require.Len(t, stats.Files, 1)
	assert.EqualValues(t, len(files[0].data), stats.Files[0].Completed)
}

func TestSessionReload(t *testing.T) {
	cfg := newTestConfig(t)
	s, err := NewSession(cfg)
	require.NoError(t, err)

	desc, files := newTestDescriptor(t, "reload.bin", 4*testPieceLength)
	seeded, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	writeTestFiles(t, s, seeded, files)
	require.NoError(t, seeded.Start())
	waitStatus(t, seeded, Seeding)

	link := "magnet:?xt=urn:btih:89abcdef0123456789abcdef0123456789abcdef&dn=waiting"
	paused, err := s.AddURI(link, &AddTorrentOptions{Stopped: true, QueuePriority: 3})
	require.NoError(t, err)
	require.NoError(t, s.SetGlobalRateLimit(1000, 2000))
	require.NoError(t, seeded.SetSpeedLimits(300, 400))
	require.NoError(t, s.Close())

	s = newTestSessionConfig(t, cfg)
	require.Len(t, s.ListTorrents(), 2)

	down, up := s.GlobalRateLimit()
	assert.EqualValues(t, 1000, down)
	assert.EqualValues(t, 2000, up)

	p := s.GetTorrent(paused.ID())
	require.NotNil(t, p)
	assert.Equal(t, "waiting", p.Name())
	assert.Equal(t, 3, p.QueuePriority())
	assert.False(t, p.Started())
	assert.Equal(t, Paused, p.Status())

	r := s.GetTorrent(seeded.ID())
	require.NotNil(t, r)
	assert.True(t, r.Started())
	assert.True(t, seeded.AddedAt().Equal(r.AddedAt()))
	down, up = r.SpeedLimits()
	assert.EqualValues(t, 300, down)
	assert.EqualValues(t, 400, up)
	waitStatus(t, r, Seeding)
	assert.EqualValues(t, 4, r.Stats().Pieces.Verified)
}

func TestSetGlobalRateLimit(t *testing.T) {
	s := newTestSession(t)

	assert.Error(t, s.SetGlobalRateLimit(-1, 0))
	require.NoError(t, s.SetGlobalRateLimit(10<<10, 0))

	stats := s.Stats()
	assert.EqualValues(t, 10<<10, stats.LimitDownload)
	assert.EqualValues(t, 0, stats.LimitUpload)
}

func TestSetFilePriorityInvalid(t *testing.T) {
	s := newTestSession(t)
	desc, _ := newTestDescriptor(t, "multi", testPieceLength, testPieceLength)
	tor, err := s.AddTorrent(bytes.NewReader(desc), &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)

	var ierr *InputError
	assert.True(t, errors.As(s.SetFilePriority(tor.ID(), 2, PriorityHigh), &ierr))
	assert.True(t, errors.Is(s.SetFilePriority("missing", 0, PriorityHigh), ErrTorrentNotFound))
	require.NoError(t, s.SetFilePriority(tor.ID(), 1, PrioritySkip))
	assert.Equal(t, PrioritySkip, tor.Stats().Files[1].Priority)

	link := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567"
	m, err := s.AddURI(link, &AddTorrentOptions{Stopped: true})
	require.NoError(t, err)
	assert.True(t, errors.Is(m.SetFilePriority(0, PriorityHigh), errNoInfo))
}

func TestSessionLocked(t *testing.T) {
	cfg := newTestConfig(t)
	newTestSessionConfig(t, cfg)

	_, err := NewSession(cfg)
	assert.Error(t, err)
}

func TestInvalidQueueOrder(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.QueueOrder = "random"
	_, err := NewSession(cfg)
	assert.Error(t, err)
}
