// Package resumer contains an interface that is used by torrent package for resuming an existing download.
package resumer

// Resumer provides operations to save resume info for a Torrent.
type Resumer interface {
	WriteInfo([]byte) error
	WriteBitfield(bitfield []byte, partial map[uint32][]byte) error
	WritePriorities([]int8) error
	WriteStarted(bool) error
	WriteStats(Stats) error
}

// Stats are the counters that survive restarts.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       int64 // seconds
}
