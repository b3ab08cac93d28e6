package peer

import (
	"strings"
	"unicode"
)

// clientID returns the client prefix of a peer id, e.g. "-DZ0100-".
func clientID(id [20]byte) string {
	s := string(id[:])
	// Azureus style, BEP 20.
	if s[0] == '-' && s[7] == '-' {
		return s[:8]
	}
	// Shadow style: a letter followed by version characters, padded with dashes.
	if unicode.IsLetter(rune(s[0])) {
		if i := strings.Index(s, "---"); i > 0 {
			return s[:i]
		}
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
}
