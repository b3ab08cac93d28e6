package piecepicker

import (
	"fmt"
	"strings"
)

// Priority is the download weight of a file or piece.
type Priority int8

const (
	// Skip pieces are never requested.
	Skip Priority = iota
	Low
	Normal
	High
)

var priorityStrings = [...]string{"skip", "low", "normal", "high"}

func (p Priority) String() string {
	if p < Skip || p > High {
		return fmt.Sprintf("Priority(%d)", int8(p))
	}
	return priorityStrings[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority parses the name of a priority level.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityStrings {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return Normal, fmt.Errorf("invalid priority: %q", s)
}
