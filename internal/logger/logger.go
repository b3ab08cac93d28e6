// Package logger provides named loggers that share a single process-wide handler.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
}

// SetHandler replaces the handler used by every Logger created afterwards.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(formatter{})
}

// SetLevel sets the minimum level written by the handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// SetDebug switches the handler between DEBUG and INFO levels.
func SetDebug(debug bool) {
	if debug {
		SetLevel(log.DEBUG)
	} else {
		SetLevel(log.INFO)
	}
}

// Discard silences all output. Used by tests and by the download command
// while a progress bar owns the terminal.
func Discard() {
	SetHandler(log.NewWriterHandler(io.Discard))
}

// Logger writes leveled messages tagged with a component name.
type Logger log.Logger

// New returns a Logger whose messages are prefixed with name.
func New(name string) Logger {
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // filtering happens in the handler
	l.SetHandler(handler)
	return l
}

type formatter struct{}

// Format renders a record as "2006-01-02 15:04:05 INFO     [session] session.go:42 message".
func (formatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s %s",
		rec.Time.Format("2006-01-02 15:04:05"),
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
