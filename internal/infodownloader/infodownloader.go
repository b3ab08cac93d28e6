// Package infodownloader fetches the info dictionary of a magnet link from a peer (BEP 9).
package infodownloader

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
)

const blockSize = 16 * 1024

// MaxMetadataSize is the largest info dictionary accepted from a peer.
const MaxMetadataSize = 10 << 20

// ErrRejected is returned by Rejected when the peer refuses to send metadata.
var ErrRejected = errors.New("peer rejected metadata request")

// InfoDownloader downloads all blocks of the info dictionary from a peer.
type InfoDownloader struct {
	Peer  Peer
	Bytes []byte

	blocks         []block
	pending        int // in-flight requests
	nextBlockIndex uint32
}

type block struct {
	size      uint32
	requested bool
	received  bool
}

// Peer that has the metadata.
type Peer interface {
	MetadataSize() uint32
	RequestMetadataPiece(index uint32)
}

// New returns a downloader for pe. pe.MetadataSize must be between 1 and MaxMetadataSize.
func New(pe Peer) *InfoDownloader {
	d := &InfoDownloader{
		Peer:  pe,
		Bytes: make([]byte, pe.MetadataSize()),
	}
	d.blocks = d.createBlocks()
	return d
}

// ValidSize reports whether a size announced in an extension handshake can be downloaded.
func ValidSize(size int) bool {
	return size > 0 && size <= MaxMetadataSize
}

// GotBlock saves a received block.
func (d *InfoDownloader) GotBlock(index uint32, data []byte) error {
	if index >= uint32(len(d.blocks)) {
		return fmt.Errorf("peer sent invalid metadata piece index: %d", index)
	}
	b := &d.blocks[index]
	if !b.requested || b.received {
		return fmt.Errorf("peer sent unrequested index for metadata message: %d", index)
	}
	if uint32(len(data)) != b.size {
		return fmt.Errorf("peer sent invalid size for metadata message: %d", len(data))
	}
	b.received = true
	d.pending--
	begin := index * blockSize
	copy(d.Bytes[begin:begin+b.size], data)
	return nil
}

// Rejected handles a reject message. The download from this peer cannot continue.
func (d *InfoDownloader) Rejected(index uint32) error {
	if index >= uint32(len(d.blocks)) || !d.blocks[index].requested {
		return fmt.Errorf("peer rejected unrequested metadata piece: %d", index)
	}
	return ErrRejected
}

func (d *InfoDownloader) createBlocks() []block {
	numBlocks := d.Peer.MetadataSize() / blockSize
	mod := d.Peer.MetadataSize() % blockSize
	if mod != 0 {
		numBlocks++
	}
	blocks := make([]block, numBlocks)
	for i := range blocks {
		blocks[i] = block{
			size: blockSize,
		}
	}
	if mod != 0 && len(blocks) > 0 {
		blocks[len(blocks)-1].size = mod
	}
	return blocks
}

// RequestBlocks keeps up to queueLength requests in flight.
func (d *InfoDownloader) RequestBlocks(queueLength int) {
	for ; d.nextBlockIndex < uint32(len(d.blocks)) && d.pending < queueLength; d.nextBlockIndex++ {
		d.Peer.RequestMetadataPiece(d.nextBlockIndex)
		d.blocks[d.nextBlockIndex].requested = true
		d.pending++
	}
}

// Done reports whether every block is received.
func (d *InfoDownloader) Done() bool {
	return d.nextBlockIndex == uint32(len(d.blocks)) && d.pending == 0
}

// Verify reports whether the downloaded bytes hash to infoHash.
func (d *InfoDownloader) Verify(infoHash [20]byte) bool {
	sum := sha1.Sum(d.Bytes) // nolint: gosec
	return bytes.Equal(sum[:], infoHash[:])
}
