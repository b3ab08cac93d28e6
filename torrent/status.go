package torrent

// Status of a Torrent.
type Status int

const (
	// Queued torrents wait for a download slot.
	Queued Status = iota
	// Checking means existing data on disk is being hashed.
	Checking
	// Metadata means the info dictionary of a magnet link is being downloaded from peers.
	Metadata
	// Downloading pieces from peers.
	Downloading
	// Seeding means every wanted piece is verified. Pieces are uploaded to peers.
	Seeding
	// Paused by the user.
	Paused
	// Error is entered on disk failure or too much corruption. Start must be called to retry.
	Error
)

var statusNames = [...]string{
	"queued",
	"checking",
	"metadata",
	"downloading",
	"seeding",
	"paused",
	"error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// running statuses keep peer connections open.
func (s Status) running() bool {
	switch s {
	case Checking, Metadata, Downloading, Seeding:
		return true
	}
	return false
}
