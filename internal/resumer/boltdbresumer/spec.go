package boltdbresumer

import "time"

// Spec contains everything needed to restore a torrent.
type Spec struct {
	InfoHash []byte
	Dest     string
	Name     string
	Trackers [][]string
	Peers    []string
	Info     []byte
	Bitfield []byte
	// Partial maps a piece index to the bitfield of its blocks written to disk.
	Partial         map[uint32][]byte
	Priorities      []int8
	AddedAt         time.Time
	QueuePriority   int
	Started         bool
	DownloadLimit   int64
	UploadLimit     int64
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
}
