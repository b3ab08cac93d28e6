package torrent

import (
	"os"

	"github.com/hashicorp/go-multierror"
)

// RemoveTorrent stops the torrent and deletes its resume data.
// When deleteFiles is set, downloaded files are deleted too.
func (s *Session) RemoveTorrent(id string, deleteFiles bool) error {
	s.m.Lock()
	t, ok := s.torrents[id]
	if !ok {
		s.m.Unlock()
		return ErrTorrentNotFound
	}
	delete(s.torrents, id)
	delete(s.torrentsByInfoHash, t.torrent.infoHash)
	s.m.Unlock()

	var result error
	if deleteFiles {
		if err := t.torrent.RemoveData(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.torrent.Close()
	if deleteFiles {
		if d, ok := t.torrent.storage.(interface{ Dest() string }); ok {
			if err := os.RemoveAll(d.Dest()); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := s.resumer.Delete(id); err != nil {
		result = multierror.Append(result, err)
	}
	t.torrent.log.Infoln("torrent removed")
	s.schedule()
	return result
}
