package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/torrent"
	"github.com/dustin/go-humanize"
	"github.com/gosuri/uiprogress"
	"github.com/urfave/cli"
)

const progressInterval = 500 * time.Millisecond

func handleDownload(c *cli.Context) error {
	uri := c.Args().Get(0)
	if uri == "" {
		return errors.New("give a torrent file, magnet link or URL as first argument")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dest, err := filepath.Abs(c.String("dest"))
	if err != nil {
		return err
	}
	// The session is private to this process and forgotten after exit.
	tmp, err := os.MkdirTemp("", "drizzle-download-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	cfg.Database = filepath.Join(tmp, "session.db")
	cfg.DataDir = dest
	cfg.RPCEnabled = false
	cfg.WatchDir = ""
	cfg.MaxActiveDownloads = 0
	cfg.Port = 0

	// The progress bar owns the terminal.
	if !cfg.Debug {
		logger.Discard()
	}

	ses, err := torrent.NewSession(*cfg)
	if err != nil {
		return err
	}
	defer ses.Close()

	// Events are read by the loop below. The callback must not block.
	eventC := make(chan torrent.Event, 100)
	unsubscribe := ses.SubscribeEvents(func(e torrent.Event) {
		if e.Type != torrent.EventCompleted && e.Type != torrent.EventError {
			return
		}
		select {
		case eventC <- e:
		default:
		}
	})
	defer unsubscribe()

	t, err := ses.AddURI(uri, nil)
	if err != nil {
		return err
	}

	bar := newProgressBar()
	uiprogress.Start()
	defer uiprogress.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s := t.Stats()
			bar.Update(s)
			// Covers a completion event dropped by a full buffer.
			if s.Status == torrent.Seeding && !c.Bool("seed") {
				return nil
			}
		case e := <-eventC:
			if e.TorrentID != t.ID() {
				continue
			}
			if e.Type == torrent.EventError {
				return fmt.Errorf("torrent stopped: %s", e.Error)
			}
			bar.Update(t.Stats())
			if !c.Bool("seed") {
				return nil
			}
		case <-sig:
			return nil
		}
	}
}

// Bar resolution. Magnet links don't have a piece count before metadata is downloaded.
const progressScale = 1000

type progressBar struct {
	*uiprogress.Bar

	m     sync.Mutex
	stats torrent.Stats
}

func newProgressBar() *progressBar {
	p := &progressBar{Bar: uiprogress.AddBar(progressScale)}
	p.Width = 40
	p.PrependFunc(func(b *uiprogress.Bar) string {
		s := p.getStats()
		return fmt.Sprintf("%-11s", s.Status)
	})
	p.AppendCompleted()
	p.AppendFunc(func(b *uiprogress.Bar) string {
		s := p.getStats()
		return fmt.Sprintf("%s/%s  down: %s/s  up: %s/s  peers: %d  eta: %s",
			humanize.IBytes(uint64(s.Bytes.Completed)),
			humanize.IBytes(uint64(s.Bytes.Total)),
			humanize.IBytes(uint64(s.Speed.Download)),
			humanize.IBytes(uint64(s.Speed.Upload)),
			s.Peers.Total,
			formatETA(s.ETA))
	})
	p.AppendElapsed()
	return p
}

func (p *progressBar) getStats() torrent.Stats {
	p.m.Lock()
	defer p.m.Unlock()
	return p.stats
}

func (p *progressBar) Update(s torrent.Stats) {
	p.m.Lock()
	p.stats = s
	p.m.Unlock()
	if s.Bytes.Total == 0 {
		return
	}
	_ = p.Set(int(s.Bytes.Completed * progressScale / s.Bytes.Total))
}

func formatETA(eta *time.Duration) string {
	if eta == nil {
		return "∞"
	}
	return eta.Round(time.Second).String()
}
