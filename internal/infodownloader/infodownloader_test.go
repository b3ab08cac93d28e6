package infodownloader

import (
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
)

type TestPeer struct {
	size      uint32
	requested []uint32
}

func (p *TestPeer) MetadataSize() uint32 { return p.size }
func (p *TestPeer) RequestMetadataPiece(index uint32) {
	p.requested = append(p.requested, index)
}

func TestInfoDownloader(t *testing.T) {
	p := &TestPeer{size: 10*16*1024 + 42}
	d := New(p)
	assert.Equal(t, 11, len(d.blocks))
	assert.False(t, d.Done())

	d.RequestBlocks(4)
	assert.Equal(t, 4, d.pending)
	assert.False(t, d.Done())
	assert.Equal(t, []uint32{0, 1, 2, 3}, p.requested)

	d.RequestBlocks(4)
	assert.Equal(t, 4, d.pending)
	assert.Equal(t, []uint32{0, 1, 2, 3}, p.requested)

	assert.NoError(t, d.GotBlock(0, make([]byte, blockSize)))
	assert.Error(t, d.GotBlock(0, make([]byte, blockSize)), "duplicate")
	assert.Equal(t, 3, d.pending)
	d.RequestBlocks(4)
	assert.Equal(t, 4, d.pending)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, p.requested)

	for i := uint32(1); i <= 4; i++ {
		assert.NoError(t, d.GotBlock(i, make([]byte, blockSize)))
	}
	assert.Equal(t, 0, d.pending)
	d.RequestBlocks(4)
	assert.Equal(t, 4, d.pending)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8}, p.requested)

	for i := uint32(5); i <= 8; i++ {
		assert.NoError(t, d.GotBlock(i, make([]byte, blockSize)))
	}
	d.RequestBlocks(4)
	assert.Equal(t, 2, d.pending)
	assert.False(t, d.Done())

	assert.Error(t, d.GotBlock(10, make([]byte, blockSize)), "wrong size")
	assert.NoError(t, d.GotBlock(9, make([]byte, blockSize)))
	assert.NoError(t, d.GotBlock(10, make([]byte, 42)))
	assert.True(t, d.Done())
}

func TestVerify(t *testing.T) {
	info := []byte("d4:name1:ae")
	p := &TestPeer{size: uint32(len(info))}
	d := New(p)
	d.RequestBlocks(1)
	assert.Equal(t, ErrRejected, d.Rejected(0))
	assert.NoError(t, d.GotBlock(0, info))
	assert.True(t, d.Verify(sha1.Sum(info))) // nolint: gosec
	assert.False(t, d.Verify([20]byte{}))
	assert.False(t, ValidSize(0))
	assert.False(t, ValidSize(MaxMetadataSize+1))
}
