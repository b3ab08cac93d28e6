// Package jsonutil formats RPC responses for the terminal.
package jsonutil

import (
	"bytes"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var compact, indented *prettyjson.Formatter

func init() {
	compact = prettyjson.NewFormatter()
	compact.Indent = 0
	compact.Newline = ""

	indented = prettyjson.NewFormatter()
	indented.Indent = 2
}

// MarshalCompactPretty prints each field of struct v on its own line with colors.
// Fields of nested structs are flattened into dotted names like "Bytes.Total".
// Fields are sorted by name.
func MarshalCompactPretty(v any) ([]byte, error) {
	flat := make(map[string]any)
	flatten("", structs.Map(v), flat)
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	for _, name := range names {
		b, err := compact.Marshal(flat[name])
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}

// MarshalPretty formats v as indented JSON with colors. It is used for values that are not structs, like lists.
func MarshalPretty(v any) ([]byte, error) {
	b, err := indented.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(name, sub, out)
			continue
		}
		out[name] = v
	}
}
