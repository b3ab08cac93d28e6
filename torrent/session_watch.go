package torrent

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/fsnotify/fsnotify"
)

const (
	// A file is added after no write event is seen for this long.
	watchSettleTime = time.Second
	watchTick       = 250 * time.Millisecond

	addedSuffix   = ".added"
	invalidSuffix = ".invalid"
)

// dirWatcher adds .torrent files dropped into a directory. Processed files are renamed
// so they are not added again after a restart.
type dirWatcher struct {
	session *Session
	dir     string
	w       *fsnotify.Watcher
	log     logger.Logger
	// Last event time of files not processed yet.
	pending map[string]time.Time
	closeC  chan struct{}
	doneC   chan struct{}
}

func newDirWatcher(s *Session, dir string) (*dirWatcher, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err = w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	d := &dirWatcher{
		session: s,
		dir:     dir,
		w:       w,
		log:     logger.New("watcher"),
		pending: make(map[string]time.Time),
		closeC:  make(chan struct{}),
		doneC:   make(chan struct{}),
	}
	names, err := filepath.Glob(filepath.Join(dir, "*.torrent"))
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, name := range names {
		d.pending[name] = time.Time{}
	}
	d.log.Infoln("watching directory", dir)
	go d.run()
	return d, nil
}

func (d *dirWatcher) run() {
	defer close(d.doneC)
	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-d.w.Events:
			if !ok {
				return
			}
			if filepath.Ext(e.Name) != ".torrent" {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				d.pending[e.Name] = time.Now()
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(d.pending, e.Name)
			}
		case err, ok := <-d.w.Errors:
			if !ok {
				return
			}
			d.log.Errorln("watch error:", err)
		case now := <-ticker.C:
			for name, last := range d.pending {
				if now.Sub(last) < watchSettleTime {
					continue
				}
				delete(d.pending, name)
				d.addFile(name)
			}
		case <-d.closeC:
			return
		}
	}
}

func (d *dirWatcher) addFile(name string) {
	t, err := d.session.AddURI(name, nil)
	var perr *DescriptorParseError
	switch {
	case err == nil:
		d.log.Infof("added %s as torrent %s", filepath.Base(name), t.ID())
		d.rename(name, addedSuffix)
	case errors.Is(err, ErrTorrentExists):
		d.log.Infof("%s is already in the session", filepath.Base(name))
		d.rename(name, addedSuffix)
	case errors.As(err, &perr):
		d.log.Warningf("cannot add %s: %s", filepath.Base(name), err)
		d.rename(name, invalidSuffix)
	case os.IsNotExist(err):
	default:
		d.log.Errorf("cannot add %s: %s", filepath.Base(name), err)
	}
}

func (d *dirWatcher) rename(name, suffix string) {
	if err := os.Rename(name, name+suffix); err != nil {
		d.log.Warningln("cannot rename watched file:", err)
	}
}

func (d *dirWatcher) Close() {
	close(d.closeC)
	d.w.Close()
	<-d.doneC
}
