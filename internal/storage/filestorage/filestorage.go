// Package filestorage implements storage.Storage with files under a directory.
package filestorage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/drizzle-bt/drizzle/internal/storage"
)

const (
	dirMode  = 0750
	fileMode = 0640
)

var errOutsideDest = errors.New("file path is outside of destination directory")

// FileStorage keeps files under dest.
type FileStorage struct {
	dest string
}

var _ storage.Storage = (*FileStorage)(nil)

// New returns a FileStorage rooted at dest.
func New(dest string) (*FileStorage, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

// Dest returns the absolute root directory.
func (s *FileStorage) Dest() string { return s.dest }

func (s *FileStorage) path(name string) (string, error) {
	p := filepath.Join(s.dest, filepath.Clean(name))
	if p != s.dest && !strings.HasPrefix(p, s.dest+string(filepath.Separator)) {
		return "", errOutsideDest
	}
	return p, nil
}

func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	p, err := s.path(name)
	if err != nil {
		return nil, false, err
	}
	if err = os.MkdirAll(filepath.Dir(p), os.ModeDir|dirMode); err != nil {
		return nil, false, err
	}
	var of *os.File
	defer func() {
		if err != nil && of != nil {
			_ = of.Close()
		}
	}()
	of, err = os.OpenFile(p, os.O_RDWR, fileMode) // nolint: gosec
	if os.IsNotExist(err) {
		of, err = os.OpenFile(p, os.O_RDWR|os.O_CREATE, fileMode) // nolint: gosec
		if err != nil {
			return nil, false, err
		}
		if err = of.Truncate(size); err != nil {
			return nil, false, err
		}
		return of, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fi, err := of.Stat()
	if err != nil {
		return nil, false, err
	}
	if fi.Size() != size {
		if err = of.Truncate(size); err != nil {
			return nil, false, err
		}
	}
	return of, true, nil
}

func (s *FileStorage) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Remove parents left empty, up to dest.
	for dir := filepath.Dir(p); dir != s.dest && strings.HasPrefix(dir, s.dest); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}
