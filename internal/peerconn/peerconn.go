// Package peerconn runs the reader and writer of an established peer connection.
package peerconn

import (
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/peerconn/peerreader"
	"github.com/drizzle-bt/drizzle/internal/peerconn/peerwriter"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
)

// State of a peer connection. Connecting and Handshaking are tracked by the dialer
// with a Phase; a Conn starts in Established.
type State int32

const (
	Connecting State = iota
	Handshaking
	Established
	Closing
	Closed
)

var stateStrings = [...]string{"connecting", "handshaking", "established", "closing", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateStrings) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateStrings[s]
}

// Phase holds a State. Safe for concurrent use.
type Phase struct {
	v atomic.Int32
}

// Load returns the current state. The zero Phase is Connecting.
func (p *Phase) Load() State { return State(p.v.Load()) }

// Store sets the state.
func (p *Phase) Store(s State) { p.v.Store(int32(s)) }

// CompareAndSwap sets the state to s if it is old.
func (p *Phase) CompareAndSwap(old, s State) bool { return p.v.CompareAndSwap(int32(old), int32(s)) }

// Conn is an established peer connection. Received messages are delivered on
// Messages; sending never blocks the caller.
type Conn struct {
	conn     net.Conn
	reader   *peerreader.PeerReader
	writer   *peerwriter.PeerWriter
	messages chan interface{}
	state    Phase
	err      error
	log      logger.Logger
	closeC   chan struct{}
	doneC    chan struct{}
}

// Config of a connection.
type Config struct {
	// Timeout for receiving a block once its header has arrived.
	PieceReadTimeout time.Duration
	// Maximum number of piece replies queued for the peer.
	MaxQueuedPieces int
	// Peer supports the fast extension.
	FastEnabled bool
	// Throttles for incoming and outgoing block payloads. May be nil.
	Download, Upload peerreader.Throttle
}

// New wraps a handshaked net.Conn. Call Run to start exchanging messages.
func New(conn net.Conn, l logger.Logger, cfg Config) *Conn {
	c := &Conn{
		conn:     conn,
		reader:   peerreader.New(conn, l, cfg.PieceReadTimeout, cfg.Download),
		writer:   peerwriter.New(conn, l, cfg.MaxQueuedPieces, cfg.FastEnabled, cfg.Upload),
		messages: make(chan interface{}),
		log:      l,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
	c.state.Store(Established)
	return c
}

// Addr returns the remote address.
func (p *Conn) Addr() net.Addr { return p.conn.RemoteAddr() }

// String returns the remote address as string.
func (p *Conn) String() string { return p.conn.RemoteAddr().String() }

// State returns the current state. Safe for concurrent use.
func (p *Conn) State() State { return p.state.Load() }

// Logger returns the logger of the connection.
func (p *Conn) Logger() logger.Logger { return p.log }

// Messages returns the channel of received messages. It is closed when the connection ends.
func (p *Conn) Messages() <-chan interface{} { return p.messages }

// Err returns why the connection ended. Only valid after Messages is closed.
// A nil error means the connection was closed locally or by a clean EOF.
func (p *Conn) Err() error { return p.err }

// SendMessage queues a message for sending.
func (p *Conn) SendMessage(msg peerprotocol.Message) { p.writer.SendMessage(msg) }

// SendPiece queues a block reply. Data is read from pi when the message is written.
func (p *Conn) SendPiece(msg peerprotocol.RequestMessage, pi io.ReaderAt) { p.writer.SendPiece(msg, pi) }

// CancelRequest removes a queued block reply.
func (p *Conn) CancelRequest(msg peerprotocol.CancelMessage) { p.writer.CancelRequest(msg) }

// Close stops the connection and waits for Run to return.
func (p *Conn) Close() {
	p.state.CompareAndSwap(Established, Closing)
	select {
	case <-p.closeC:
	default:
		close(p.closeC)
	}
	<-p.doneC
}

// Run exchanges messages until the connection fails or Close is called.
// Any read or write error closes the underlying net.Conn.
func (p *Conn) Run() {
	defer close(p.doneC)
	defer close(p.messages)
	defer p.state.Store(Closed)

	go p.reader.Run()
	go p.writer.Run()

	defer p.conn.Close()
	for {
		select {
		case msg := <-p.reader.Messages():
			select {
			case p.messages <- msg:
			case <-p.closeC:
			}
		case msg := <-p.writer.Messages():
			select {
			case p.messages <- msg:
			case <-p.closeC:
			}
		case <-p.closeC:
			p.stop()
			return
		case <-p.reader.Done():
			p.state.Store(Closing)
			if err := p.reader.Err(); err != io.EOF {
				p.err = err
			}
			p.stop()
			return
		case <-p.writer.Done():
			p.state.Store(Closing)
			p.err = p.writer.Err()
			p.stop()
			return
		}
	}
}

func (p *Conn) stop() {
	select {
	case <-p.reader.Done():
	default:
		p.reader.Stop()
	}
	select {
	case <-p.writer.Done():
	default:
		p.writer.Stop()
	}
	p.conn.Close()
	<-p.reader.Done()
	<-p.writer.Done()
}
