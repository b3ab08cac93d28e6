// Package peersource names where a peer address came from.
package peersource

// Source of a peer address.
type Source int

const (
	// Tracker addresses come from announce responses.
	Tracker Source = iota
	// Manual addresses are added through the session API.
	Manual
	// Incoming peers connected to our listener.
	Incoming
	// Magnet addresses are the x.pe params of a magnet link.
	Magnet
)

var names = [...]string{"tracker", "manual", "incoming", "magnet"}

func (s Source) String() string {
	if s < 0 || int(s) >= len(names) {
		return "unknown"
	}
	return names[s]
}

// Rank orders sources when choosing the next address to dial. Higher is dialed first.
func (s Source) Rank() int {
	switch s {
	case Manual:
		return 3
	case Magnet:
		return 2
	case Tracker:
		return 1
	default:
		return 0
	}
}
