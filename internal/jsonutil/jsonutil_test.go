package jsonutil

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var colors = regexp.MustCompile("\x1b\\[[0-9;]*m")

type sample struct {
	Name  string
	Count int
	Bytes struct {
		Total     int64
		Completed int64
	}
}

func TestMarshalCompactPretty(t *testing.T) {
	var s sample
	s.Name = "ubuntu.iso"
	s.Count = 3
	s.Bytes.Total = 100
	s.Bytes.Completed = 40

	b, err := MarshalCompactPretty(s)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(colors.ReplaceAllString(string(b), "")), "\n")
	assert.Equal(t, []string{
		"Bytes.Completed: 40",
		"Bytes.Total: 100",
		"Count: 3",
		`Name: "ubuntu.iso"`,
	}, lines)
}

func TestMarshalPretty(t *testing.T) {
	b, err := MarshalPretty([]string{"a", "b"})
	require.NoError(t, err)
	out := colors.ReplaceAllString(string(b), "")
	assert.Contains(t, out, "\n  \"a\",")
	assert.True(t, strings.HasSuffix(out, "]\n"))
}
