// Package boltdbresumer provides a Resumer implementation that uses a Bolt database file as storage.
package boltdbresumer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/drizzle-bt/drizzle/internal/resumer"
	bolt "go.etcd.io/bbolt"
)

// Keys for the persistent storage.
var Keys = struct {
	InfoHash        []byte
	Name            []byte
	Trackers        []byte
	Peers           []byte
	Dest            []byte
	Info            []byte
	Bitfield        []byte
	Partial         []byte
	Priorities      []byte
	AddedAt         []byte
	QueuePriority   []byte
	DownloadLimit   []byte
	UploadLimit     []byte
	BytesDownloaded []byte
	BytesUploaded   []byte
	BytesWasted     []byte
	SeededFor       []byte
	Started         []byte
}{
	InfoHash:        []byte("info_hash"),
	Name:            []byte("name"),
	Trackers:        []byte("trackers"),
	Peers:           []byte("peers"),
	Dest:            []byte("dest"),
	Info:            []byte("info"),
	Bitfield:        []byte("bitfield"),
	Partial:         []byte("partial"),
	Priorities:      []byte("priorities"),
	AddedAt:         []byte("added_at"),
	QueuePriority:   []byte("queue_priority"),
	DownloadLimit:   []byte("download_limit"),
	UploadLimit:     []byte("upload_limit"),
	BytesDownloaded: []byte("bytes_downloaded"),
	BytesUploaded:   []byte("bytes_uploaded"),
	BytesWasted:     []byte("bytes_wasted"),
	SeededFor:       []byte("seeded_for"),
	Started:         []byte("started"),
}

// Resumer contains methods for saving/loading resume information of a torrent to a BoltDB database.
type Resumer struct {
	db     *bolt.DB
	bucket []byte
}

// New returns a new Resumer.
func New(db *bolt.DB, bucket []byte) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(bucket)
		return err2
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{
		db:     db,
		bucket: bucket,
	}, nil
}

// Write the torrent spec for torrent with `torrentID`.
func (r *Resumer) Write(torrentID string, spec *Spec) error {
	trackers, err := json.Marshal(spec.Trackers)
	if err != nil {
		return err
	}
	peers, err := json.Marshal(spec.Peers)
	if err != nil {
		return err
	}
	partial, err := json.Marshal(spec.Partial)
	if err != nil {
		return err
	}
	priorities, err := json.Marshal(spec.Priorities)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(r.bucket).CreateBucketIfNotExists([]byte(torrentID))
		if err != nil {
			return err
		}
		for _, kv := range []struct {
			key, value []byte
		}{
			{Keys.InfoHash, spec.InfoHash},
			{Keys.Name, []byte(spec.Name)},
			{Keys.Trackers, trackers},
			{Keys.Peers, peers},
			{Keys.Dest, []byte(spec.Dest)},
			{Keys.Info, spec.Info},
			{Keys.Bitfield, spec.Bitfield},
			{Keys.Partial, partial},
			{Keys.Priorities, priorities},
			{Keys.AddedAt, []byte(spec.AddedAt.Format(time.RFC3339Nano))},
			{Keys.QueuePriority, []byte(strconv.Itoa(spec.QueuePriority))},
			{Keys.DownloadLimit, []byte(strconv.FormatInt(spec.DownloadLimit, 10))},
			{Keys.UploadLimit, []byte(strconv.FormatInt(spec.UploadLimit, 10))},
			{Keys.BytesDownloaded, []byte(strconv.FormatInt(spec.BytesDownloaded, 10))},
			{Keys.BytesUploaded, []byte(strconv.FormatInt(spec.BytesUploaded, 10))},
			{Keys.BytesWasted, []byte(strconv.FormatInt(spec.BytesWasted, 10))},
			{Keys.SeededFor, []byte(spec.SeededFor.String())},
			{Keys.Started, []byte(strconv.FormatBool(spec.Started))},
		} {
			if kv.value == nil {
				continue
			}
			if err = b.Put(kv.key, kv.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Resumer) put(torrentID string, values ...[]byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		for i := 0; i+1 < len(values); i += 2 {
			if err := b.Put(values[i], values[i+1]); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteInfo writes only the info dict of a torrent.
func (r *Resumer) WriteInfo(torrentID string, value []byte) error {
	return r.put(torrentID, Keys.Info, value)
}

// WriteBitfield writes the verified pieces and the blocks of partially downloaded pieces.
func (r *Resumer) WriteBitfield(torrentID string, value []byte, partial map[uint32][]byte) error {
	p, err := json.Marshal(partial)
	if err != nil {
		return err
	}
	return r.put(torrentID, Keys.Bitfield, value, Keys.Partial, p)
}

// WritePriorities writes the file priorities of a torrent.
func (r *Resumer) WritePriorities(torrentID string, value []int8) error {
	p, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.put(torrentID, Keys.Priorities, p)
}

// WriteStarted writes the start status of a torrent.
func (r *Resumer) WriteStarted(torrentID string, value bool) error {
	return r.put(torrentID, Keys.Started, []byte(strconv.FormatBool(value)))
}

// WriteQueuePriority writes the position of a torrent in the download queue.
func (r *Resumer) WriteQueuePriority(torrentID string, value int) error {
	return r.put(torrentID, Keys.QueuePriority, []byte(strconv.Itoa(value)))
}

// WriteLimits writes the per-torrent rate limits.
func (r *Resumer) WriteLimits(torrentID string, download, upload int64) error {
	return r.put(torrentID,
		Keys.DownloadLimit, []byte(strconv.FormatInt(download, 10)),
		Keys.UploadLimit, []byte(strconv.FormatInt(upload, 10)))
}

// WriteStats writes the transfer counters of a torrent.
func (r *Resumer) WriteStats(torrentID string, s resumer.Stats) error {
	return r.put(torrentID,
		Keys.BytesDownloaded, []byte(strconv.FormatInt(s.BytesDownloaded, 10)),
		Keys.BytesUploaded, []byte(strconv.FormatInt(s.BytesUploaded, 10)),
		Keys.BytesWasted, []byte(strconv.FormatInt(s.BytesWasted, 10)),
		Keys.SeededFor, []byte((time.Duration(s.SeededFor) * time.Second).String()))
}

// Delete removes the resume data of a torrent.
func (r *Resumer) Delete(torrentID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(r.bucket).DeleteBucket([]byte(torrentID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// List returns the ids of all saved torrents.
func (r *Resumer) List() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// Read the spec of torrent with `torrentID`.
func (r *Resumer) Read(torrentID string) (*Spec, error) {
	var spec *Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return fmt.Errorf("bucket not found: %q", torrentID)
		}

		value := b.Get(Keys.InfoHash)
		if value == nil {
			return fmt.Errorf("key not found: %q", string(Keys.InfoHash))
		}

		spec = new(Spec)
		spec.InfoHash = clone(value)
		spec.Name = string(b.Get(Keys.Name))
		spec.Dest = string(b.Get(Keys.Dest))
		spec.Info = clone(b.Get(Keys.Info))
		spec.Bitfield = clone(b.Get(Keys.Bitfield))

		for _, f := range []struct {
			key []byte
			v   interface{}
		}{
			{Keys.Trackers, &spec.Trackers},
			{Keys.Peers, &spec.Peers},
			{Keys.Partial, &spec.Partial},
			{Keys.Priorities, &spec.Priorities},
		} {
			if value = b.Get(f.key); value != nil {
				if err := json.Unmarshal(value, f.v); err != nil {
					return fmt.Errorf("cannot parse %s: %w", f.key, err)
				}
			}
		}

		var err error
		if value = b.Get(Keys.AddedAt); value != nil {
			if spec.AddedAt, err = time.Parse(time.RFC3339Nano, string(value)); err != nil {
				return err
			}
		}
		if value = b.Get(Keys.QueuePriority); value != nil {
			if spec.QueuePriority, err = strconv.Atoi(string(value)); err != nil {
				return err
			}
		}
		for _, f := range []struct {
			key []byte
			v   *int64
		}{
			{Keys.DownloadLimit, &spec.DownloadLimit},
			{Keys.UploadLimit, &spec.UploadLimit},
			{Keys.BytesDownloaded, &spec.BytesDownloaded},
			{Keys.BytesUploaded, &spec.BytesUploaded},
			{Keys.BytesWasted, &spec.BytesWasted},
		} {
			if value = b.Get(f.key); value != nil {
				if *f.v, err = strconv.ParseInt(string(value), 10, 64); err != nil {
					return err
				}
			}
		}
		if value = b.Get(Keys.SeededFor); value != nil {
			if spec.SeededFor, err = time.ParseDuration(string(value)); err != nil {
				return err
			}
		}
		if value = b.Get(Keys.Started); value != nil {
			if spec.Started, err = strconv.ParseBool(string(value)); err != nil {
				return err
			}
		}
		return nil
	})
	return spec, err
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// TorrentResumer binds a Resumer to one torrent.
type TorrentResumer struct {
	*Resumer
	ID string
}

var _ resumer.Resumer = TorrentResumer{}

// WriteInfo writes the info dict.
func (r TorrentResumer) WriteInfo(value []byte) error { return r.Resumer.WriteInfo(r.ID, value) }

// WriteBitfield writes verified pieces and partial blocks.
func (r TorrentResumer) WriteBitfield(value []byte, partial map[uint32][]byte) error {
	return r.Resumer.WriteBitfield(r.ID, value, partial)
}

// WritePriorities writes file priorities.
func (r TorrentResumer) WritePriorities(value []int8) error {
	return r.Resumer.WritePriorities(r.ID, value)
}

// WriteStarted writes the start status.
func (r TorrentResumer) WriteStarted(value bool) error { return r.Resumer.WriteStarted(r.ID, value) }

// WriteStats writes transfer counters.
func (r TorrentResumer) WriteStats(s resumer.Stats) error { return r.Resumer.WriteStats(r.ID, s) }
