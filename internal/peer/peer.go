// Package peer holds the per-connection state a torrent keeps for a remote peer.
package peer

import (
	"net"
	"time"

	"github.com/drizzle-bt/drizzle/internal/bitfield"
	"github.com/drizzle-bt/drizzle/internal/peerconn"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
	"github.com/drizzle-bt/drizzle/internal/peersource"
	"github.com/rcrowley/go-metrics"
)

// Peer is a connected peer of a torrent. All fields are owned by the torrent's run loop.
type Peer struct {
	*peerconn.Conn

	// Index is the slot of the peer in the torrent's peer table.
	Index uint32
	ID    [20]byte
	// Source of the address we connected to.
	Source      peersource.Source
	ConnectedAt time.Time

	FastEnabled       bool
	ExtensionsEnabled bool

	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	optimistic bool

	// Snubbed means peer keeps missing request deadlines.
	Snubbed bool

	// HashFailures counts failed pieces this peer contributed blocks to.
	HashFailures int
	unreliable   bool

	// Bitfield of the remote peer. Nil until the torrent has its info dictionary.
	Bitfield *bitfield.Bitfield

	// Messages received while we don't have info yet are saved here.
	Messages []interface{}

	ExtensionHandshake *peerprotocol.ExtensionHandshakeMessage

	AllowedFastPieces map[uint32]struct{}

	BytesDownloaded int64
	BytesUploaded   int64
	downloadSpeed   metrics.Meter
	uploadSpeed     metrics.Meter

	closeC chan struct{}
	doneC  chan struct{}
}

// Message is a message received from a peer.
type Message struct {
	*Peer
	Message interface{}
}

// New returns a Peer for an established connection.
func New(conn *peerconn.Conn, index uint32, id [20]byte, source peersource.Source, fast, extensions bool) *Peer {
	return &Peer{
		Conn:              conn,
		Index:             index,
		ID:                id,
		Source:            source,
		ConnectedAt:       time.Now(),
		FastEnabled:       fast,
		ExtensionsEnabled: extensions,
		AmChoking:         true,
		PeerChoking:       true,
		AllowedFastPieces: make(map[uint32]struct{}),
		downloadSpeed:     metrics.NewMeter(),
		uploadSpeed:       metrics.NewMeter(),
		closeC:            make(chan struct{}),
		doneC:             make(chan struct{}),
	}
}

// Close the connection and wait for Run to return.
func (p *Peer) Close() {
	close(p.closeC)
	p.Conn.Close()
	<-p.doneC
	p.downloadSpeed.Stop()
	p.uploadSpeed.Stop()
}

// Run forwards messages of the connection to messages.
// When the connection ends the peer is sent to disconnect.
func (p *Peer) Run(messages chan Message, disconnect chan *Peer) {
	defer close(p.doneC)
	go p.Conn.Run()
	for {
		select {
		case pm, ok := <-p.Conn.Messages():
			if !ok {
				select {
				case disconnect <- p:
				case <-p.closeC:
				}
				return
			}
			select {
			case messages <- Message{Peer: p, Message: pm}:
			case <-p.closeC:
				return
			}
		case <-p.closeC:
			return
		}
	}
}

// IP of the remote peer.
func (p *Peer) IP() net.IP {
	if a, ok := p.Addr().(*net.TCPAddr); ok {
		return a.IP
	}
	return nil
}

// Client returns the client prefix of the peer id.
func (p *Peer) Client() string {
	return clientID(p.ID)
}

// Has reports whether the peer announced piece i.
func (p *Peer) Has(i uint32) bool {
	return p.Bitfield != nil && i < p.Bitfield.Len() && p.Bitfield.Test(i)
}

// Choke the peer. Queued piece replies are dropped by the connection.
func (p *Peer) Choke() {
	p.AmChoking = true
	p.SendMessage(peerprotocol.ChokeMessage{})
}

// Unchoke the peer.
func (p *Peer) Unchoke() {
	p.AmChoking = false
	p.SendMessage(peerprotocol.UnchokeMessage{})
}

// Choking returns whether we choke the peer.
func (p *Peer) Choking() bool { return p.AmChoking }

// Interested returns whether the peer is interested in our pieces.
func (p *Peer) Interested() bool { return p.PeerInterested }

// SetOptimistic marks the peer as optimistically unchoked.
func (p *Peer) SetOptimistic(value bool) { p.optimistic = value }

// Optimistic returns the value previously set by SetOptimistic.
func (p *Peer) Optimistic() bool { return p.optimistic }

// Unreliable peers have contributed to too many corrupt pieces.
func (p *Peer) Unreliable() bool { return p.unreliable }

// SetUnreliable marks the peer as unreliable.
func (p *Peer) SetUnreliable() { p.unreliable = true }

// Downloaded records n bytes of block payload received from the peer.
func (p *Peer) Downloaded(n int64) {
	p.BytesDownloaded += n
	p.downloadSpeed.Mark(n)
}

// Uploaded records n bytes of block payload sent to the peer.
func (p *Peer) Uploaded(n int64) {
	p.BytesUploaded += n
	p.uploadSpeed.Mark(n)
}

// DownloadSpeed in bytes per second.
func (p *Peer) DownloadSpeed() int { return int(p.downloadSpeed.Rate1()) }

// UploadSpeed in bytes per second.
func (p *Peer) UploadSpeed() int { return int(p.uploadSpeed.Rate1()) }

// MetadataSize returns the size of the info dictionary announced in the extension handshake.
func (p *Peer) MetadataSize() uint32 {
	if p.ExtensionHandshake == nil {
		return 0
	}
	return uint32(p.ExtensionHandshake.MetadataSize)
}

// SupportsMetadata reports whether the peer can send the info dictionary.
func (p *Peer) SupportsMetadata() bool {
	if p.ExtensionHandshake == nil {
		return false
	}
	_, ok := p.ExtensionHandshake.M[peerprotocol.ExtensionKeyMetadata]
	return ok
}

// RequestMetadataPiece asks the peer for piece index of the info dictionary.
func (p *Peer) RequestMetadataPiece(index uint32) {
	p.SendMessage(p.metadataMessage(peerprotocol.ExtensionMetadataMessage{
		Type:  peerprotocol.ExtensionMetadataMessageTypeRequest,
		Piece: index,
	}))
}

// SendMetadataPiece replies to a metadata request. Nil data rejects the request.
func (p *Peer) SendMetadataPiece(index uint32, totalSize int, data []byte) {
	msg := peerprotocol.ExtensionMetadataMessage{
		Type:  peerprotocol.ExtensionMetadataMessageTypeReject,
		Piece: index,
	}
	if data != nil {
		msg.Type = peerprotocol.ExtensionMetadataMessageTypeData
		msg.TotalSize = totalSize
		msg.Data = data
	}
	p.SendMessage(p.metadataMessage(msg))
}

func (p *Peer) metadataMessage(msg peerprotocol.ExtensionMetadataMessage) peerprotocol.ExtensionMessage {
	return peerprotocol.ExtensionMessage{
		ExtendedMessageID: p.ExtensionHandshake.M[peerprotocol.ExtensionKeyMetadata],
		Payload:           msg,
	}
}
