package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData = errors.New("invalid piece data")
	errZeroPieceLength  = errors.New("piece length must be positive")
	errNoName           = errors.New("missing name")
)

// Info is the "info" dictionary of a torrent. Its SHA-1 is the info hash.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length,omitempty"` // single file mode
	Files       []FileDict `bencode:"files,omitempty"`  // multiple file mode
	Private     int64      `bencode:"private,omitempty"`

	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
}

// FileDict is an entry in the "files" list.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// File is a file of the torrent with its offset in the torrent's byte stream.
type File struct {
	Path   string
	Length int64
	Offset int64
}

// NewInfo decodes and validates raw info dictionary bytes.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errZeroPieceLength
	}
	if len(i.Pieces)%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if strings.TrimSpace(i.Name) == "" {
		return nil, errNoName
	}
	for _, f := range i.Files {
		if len(f.Path) == 0 {
			return nil, errors.New("empty file path")
		}
		for _, p := range f.Path {
			if p = strings.TrimSpace(p); p == ".." || p == "." || strings.ContainsAny(p, "/\\") {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(f.Path...))
			}
		}
		if f.Length < 0 {
			return nil, errors.New("negative file length")
		}
	}
	i.NumPieces = uint32(len(i.Pieces) / sha1.Size)
	if i.MultiFile() {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	} else {
		i.TotalLength = i.Length
	}
	delta := int64(i.PieceLength)*int64(i.NumPieces) - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

// MultiFile reports whether the torrent uses the "files" list.
func (i *Info) MultiFile() bool { return len(i.Files) != 0 }

// IsPrivate reports whether the private flag is set.
func (i *Info) IsPrivate() bool { return i != nil && i.Private == 1 }

// HashOf returns the expected SHA-1 of piece index.
func (i *Info) HashOf(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// PieceSize returns the length of piece index. Only the last piece may be shorter.
func (i *Info) PieceSize(index uint32) uint32 {
	if index == i.NumPieces-1 {
		if mod := uint32(i.TotalLength % int64(i.PieceLength)); mod != 0 {
			return mod
		}
	}
	return i.PieceLength
}

// GetFiles returns the files as a flat list, even in single file mode.
// Paths are relative and include the torrent name as first component in multi file mode.
func (i *Info) GetFiles() []File {
	if !i.MultiFile() {
		return []File{{Path: i.Name, Length: i.Length}}
	}
	ret := make([]File, len(i.Files))
	var offset int64
	for j, f := range i.Files {
		ret[j] = File{
			Path:   filepath.Join(append([]string{i.Name}, f.Path...)...),
			Length: f.Length,
			Offset: offset,
		}
		offset += f.Length
	}
	return ret
}

// CreateInfo hashes the content read from r and returns the bencoded info dictionary.
// files must describe exactly the bytes in r, in order. A nil files means single file mode.
func CreateInfo(name string, pieceLength uint32, files []FileDict, length int64, r io.Reader) ([]byte, error) {
	if pieceLength == 0 {
		return nil, errZeroPieceLength
	}
	var pieces []byte
	buf := make([]byte, pieceLength)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n]) // nolint: gosec
			pieces = append(pieces, sum[:]...)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	info := Info{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Name:        name,
		Files:       files,
	}
	if files == nil {
		info.Length = length
	}
	return bencode.EncodeBytes(info)
}
