// Package piece splits a torrent into pieces and blocks and maps them onto files.
package piece

import (
	"bytes"
	"crypto/sha1" // nolint: gosec

	"github.com/drizzle-bt/drizzle/internal/filesection"
	"github.com/drizzle-bt/drizzle/internal/metainfo"
)

// BlockSize is the size of a block request. Only the last block of a piece may be shorter.
const BlockSize = 16 * 1024

// Block is a part of a piece that is requested in one message.
type Block struct {
	Index  uint32 // index in piece
	Begin  uint32 // offset in piece
	Length uint32
}

// Piece of a torrent.
type Piece struct {
	Index  uint32
	Length uint32
	Hash   []byte
	// Data is where the piece lives on disk.
	Data filesection.Sections
	// Files lists the indexes of non-empty files overlapping the piece.
	Files []int
}

// NewPieces lays the pieces of info over files, which must be in the order of info.GetFiles().
func NewPieces(info *metainfo.Info, files []filesection.ReadWriterAt) []Piece {
	fs := info.GetFiles()
	pieces := make([]Piece, info.NumPieces)
	var fi int
	var fileOffset int64
	for i := range pieces {
		p := &pieces[i]
		p.Index = uint32(i)
		p.Length = info.PieceSize(p.Index)
		p.Hash = info.HashOf(p.Index)
		for left := int64(p.Length); left > 0; {
			for fileOffset == fs[fi].Length {
				fi++
				fileOffset = 0
			}
			n := min(left, fs[fi].Length-fileOffset)
			p.Data = append(p.Data, filesection.Section{File: files[fi], Offset: fileOffset, Length: n})
			p.Files = append(p.Files, fi)
			fileOffset += n
			left -= n
		}
	}
	return pieces
}

// NumBlocks returns the number of blocks in the piece.
func (p *Piece) NumBlocks() uint32 { return NumBlocks(p.Length) }

// NumBlocks returns the number of blocks in a piece of the given length.
func NumBlocks(length uint32) uint32 { return (length + BlockSize - 1) / BlockSize }

// Block returns block i of the piece.
func (p *Piece) Block(i uint32) Block {
	begin := i * BlockSize
	return Block{Index: i, Begin: begin, Length: min(BlockSize, p.Length-begin)}
}

// FindBlock returns the block exactly matching begin and length.
func (p *Piece) FindBlock(begin, length uint32) (Block, bool) {
	if begin%BlockSize != 0 || begin >= p.Length {
		return Block{}, false
	}
	b := p.Block(begin / BlockSize)
	return b, b.Length == length
}

// VerifyHash reports whether buf matches the piece hash.
func (p *Piece) VerifyHash(buf []byte) bool {
	if uint32(len(buf)) != p.Length {
		return false
	}
	sum := sha1.Sum(buf) // nolint: gosec
	return bytes.Equal(sum[:], p.Hash)
}

// Verify reads the piece from disk into buf and checks its hash. buf must hold at least p.Length bytes.
func (p *Piece) Verify(buf []byte) (bool, error) {
	buf = buf[:p.Length]
	if _, err := p.Data.ReadAt(buf, 0); err != nil {
		return false, err
	}
	return p.VerifyHash(buf), nil
}

// ReadAt reads block data for uploading.
func (p *Piece) ReadAt(b []byte, off int64) (int, error) { return p.Data.ReadAt(b, off) }
