package torrent

import (
	"errors"
	"fmt"
	"time"

	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/metainfo"
	"github.com/drizzle-bt/drizzle/internal/piecepicker"
	"github.com/drizzle-bt/drizzle/internal/resumer"
	"github.com/drizzle-bt/drizzle/internal/resumer/boltdbresumer"
	"github.com/drizzle-bt/drizzle/internal/storage/filestorage"
)

func (s *Session) loadExistingTorrents() {
	ids, err := s.resumer.List()
	if err != nil {
		s.log.Errorln("cannot list torrents in resume db:", err)
		return
	}
	var loaded int
	for _, id := range ids {
		if err = s.loadExistingTorrent(id); err != nil {
			s.log.Errorf("cannot load torrent %s: %s", id, err)
			continue
		}
		loaded++
	}
	s.log.Infof("loaded %d existing torrents", loaded)
}

func (s *Session) loadExistingTorrent(id string) error {
	spec, err := s.resumer.Read(id)
	if err != nil {
		return err
	}
	if len(spec.InfoHash) != 20 {
		return errors.New("invalid info hash in resume data")
	}
	var ih [20]byte
	copy(ih[:], spec.InfoHash)
	opt := options{
		ID:       id,
		AddedAt:  spec.AddedAt,
		Name:     spec.Name,
		InfoHash: ih,
		Trackers: spec.Trackers,
		Peers:    resolvePeers(spec.Peers),
		Resumer:  boltdbresumer.TorrentResumer{Resumer: s.resumer, ID: id},
		Stats: resumer.Stats{
			BytesDownloaded: spec.BytesDownloaded,
			BytesUploaded:   spec.BytesUploaded,
			BytesWasted:     spec.BytesWasted,
			SeededFor:       int64(spec.SeededFor / time.Second),
		},
		DownloadLimit: spec.DownloadLimit,
		UploadLimit:   spec.UploadLimit,
	}
	if len(spec.Info) > 0 {
		info, err2 := metainfo.NewInfo(spec.Info)
		if err2 != nil {
			return err2
		}
		if info.Hash != ih {
			return errors.New("info dict does not match info hash")
		}
		opt.Info = info
		if len(spec.Bitfield) > 0 {
			bf, err3 := bitfield.FromWire(spec.Bitfield, info.NumPieces)
			if err3 != nil {
				return fmt.Errorf("invalid bitfield: %w", err3)
			}
			opt.Bitfield = bf
			opt.Partial = spec.Partial
		}
		if len(spec.Priorities) == len(info.GetFiles()) {
			opt.Priorities = make([]piecepicker.Priority, len(spec.Priorities))
			for i, p := range spec.Priorities {
				opt.Priorities[i] = piecepicker.Priority(p)
			}
		}
	}
	sto, err := filestorage.New(spec.Dest)
	if err != nil {
		return err
	}
	opt.Storage = sto

	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.torrentsByInfoHash[ih]; ok {
		return ErrTorrentExists
	}
	if spec.AddedAt.After(s.lastAddedAt) {
		s.lastAddedAt = spec.AddedAt
	}
	t := newTorrent(s, opt)
	s.insertTorrent(t, spec)
	t.log.Debugf("loaded existing torrent %q", spec.Name)
	return nil
}
