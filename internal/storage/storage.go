// Package storage defines where torrent data is kept.
package storage

import "io"

// Storage opens and removes the files of a torrent.
type Storage interface {
	// Open returns the file with the given relative name, created and sized if missing.
	// exists reports whether the file was already there.
	Open(name string, size int64) (f File, exists bool, err error)
	// Remove deletes the file with the given relative name and any directories left empty.
	Remove(name string) error
}

// File is random-access torrent data.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
}
