// Package metainfo reads and writes .torrent descriptors.
package metainfo

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

// MaxSize is the largest descriptor accepted by New.
const MaxSize = 10 << 20

// ErrNoInfo is returned when the descriptor has no info dictionary.
var ErrNoInfo = errors.New("no info dict in torrent file")

// MetaInfo is the decoded top-level dictionary of a .torrent file.
type MetaInfo struct {
	Info         *Info
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
	CreationDate time.Time
}

// New decodes a descriptor from r.
func New(r io.Reader) (*MetaInfo, error) {
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
		Comment      string             `bencode:"comment"`
		CreatedBy    string             `bencode:"created by"`
		CreationDate int64              `bencode:"creation date"`
	}
	if err := bencode.NewDecoder(io.LimitReader(r, MaxSize)).Decode(&t); err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, ErrNoInfo
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	m := &MetaInfo{
		Info:      info,
		Comment:   t.Comment,
		CreatedBy: t.CreatedBy,
	}
	if t.CreationDate > 0 {
		m.CreationDate = time.Unix(t.CreationDate, 0)
	}
	// Malformed tracker lists are ignored rather than rejecting the whole descriptor.
	if len(t.AnnounceList) > 0 {
		var ll [][]string
		if bencode.DecodeBytes(t.AnnounceList, &ll) == nil {
			for _, tier := range ll {
				var ti []string
				for _, s := range tier {
					if IsTrackerSupported(s) {
						ti = append(ti, s)
					}
				}
				if len(ti) > 0 {
					m.AnnounceList = append(m.AnnounceList, ti)
				}
			}
		}
	}
	if len(m.AnnounceList) == 0 && len(t.Announce) > 0 {
		var s string
		if bencode.DecodeBytes(t.Announce, &s) == nil && IsTrackerSupported(s) {
			m.AnnounceList = [][]string{{s}}
		}
	}
	return m, nil
}

// IsTrackerSupported reports whether the announce URL has a scheme the engine can talk to.
func IsTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Encode returns a bencoded descriptor built from raw info bytes and trackers.
func Encode(info []byte, trackers [][]string, comment, createdBy string) ([]byte, error) {
	mi := struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce,omitempty"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
		Comment      string             `bencode:"comment,omitempty"`
		CreatedBy    string             `bencode:"created by,omitempty"`
		CreationDate int64              `bencode:"creation date"`
	}{
		Info:         info,
		Comment:      comment,
		CreatedBy:    createdBy,
		CreationDate: time.Now().UTC().Unix(),
	}
	if len(trackers) > 0 && len(trackers[0]) > 0 {
		mi.Announce = trackers[0][0]
	}
	if len(trackers) > 1 || (len(trackers) == 1 && len(trackers[0]) > 1) {
		mi.AnnounceList = trackers
	}
	return bencode.EncodeBytes(mi)
}
