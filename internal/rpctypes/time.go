package rpctypes

import (
	"bytes"
	"encoding/json"
	"time"
)

// Time is serialized as an RFC3339 string in UTC. The zero time is serialized as null.
type Time struct {
	time.Time
}

var (
	_ json.Marshaler   = (*Time)(nil)
	_ json.Unmarshaler = (*Time)(nil)
)

var null = []byte("null")

// MarshalJSON converts the time into RFC3339 string.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return null, nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON sets the time from a RFC3339 string.
func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, null) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t2, err := time.Parse(time.RFC3339, s)
	t.Time = t2
	return err
}
