// Package filesection maps a contiguous byte range of a torrent onto the files that hold it.
package filesection

import (
	"errors"
	"io"
)

// ReadWriterAt is random-access file data.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Section is a range of one file.
type Section struct {
	File   ReadWriterAt
	Offset int64
	Length int64
}

// Sections is a contiguous range of the torrent split at file boundaries.
type Sections []Section

var errOutOfRange = errors.New("filesection: range out of bounds")

// Length returns the total length of s.
func (s Sections) Length() int64 {
	var n int64
	for _, sec := range s {
		n += sec.Length
	}
	return n
}

// ReadAt reads len(p) bytes at off, crossing file boundaries as needed.
func (s Sections) ReadAt(p []byte, off int64) (int, error) {
	return s.do(p, off, func(sec Section, b []byte, o int64) (int, error) {
		return sec.File.ReadAt(b, sec.Offset+o)
	})
}

// WriteAt writes p at off, crossing file boundaries as needed.
func (s Sections) WriteAt(p []byte, off int64) (int, error) {
	return s.do(p, off, func(sec Section, b []byte, o int64) (int, error) {
		return sec.File.WriteAt(b, sec.Offset+o)
	})
}

func (s Sections) do(p []byte, off int64, fn func(Section, []byte, int64) (int, error)) (int, error) {
	if off < 0 || off+int64(len(p)) > s.Length() {
		return 0, errOutOfRange
	}
	var done int
	for _, sec := range s {
		if len(p) == 0 {
			break
		}
		if off >= sec.Length {
			off -= sec.Length
			continue
		}
		n := min(int64(len(p)), sec.Length-off)
		m, err := fn(sec, p[:n], off)
		done += m
		if err != nil {
			return done, err
		}
		p = p[n:]
		off = 0
	}
	return done, nil
}
