// Package peerreader decodes messages from a peer connection.
package peerreader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
)

const (
	// Peer must send something, at least a keep-alive, within this duration.
	readTimeout = 2 * time.Minute
	// length + msgid + request message
	readBufferSize = 4 + 1 + 12
)

// ErrInvalidMessage is wrapped by every error caused by a malformed or out of order message.
var ErrInvalidMessage = errors.New("invalid peer message")

// Throttle delays the caller until n bytes may be transferred.
type Throttle interface {
	Wait(n int64, stopC <-chan struct{}) error
}

// Piece is a block received from the peer.
type Piece struct {
	peerprotocol.PieceMessage
}

// PeerReader reads messages on its own goroutine and sends them to Messages.
type PeerReader struct {
	conn         net.Conn
	r            io.Reader
	log          logger.Logger
	pieceTimeout time.Duration
	throttle     Throttle
	messages     chan interface{}
	err          error
	stopC        chan struct{}
	doneC        chan struct{}
}

// New returns a reader for conn. throttle may be nil.
func New(conn net.Conn, l logger.Logger, pieceTimeout time.Duration, throttle Throttle) *PeerReader {
	return &PeerReader{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, readBufferSize),
		log:          l,
		pieceTimeout: pieceTimeout,
		throttle:     throttle,
		messages:     make(chan interface{}),
		stopC:        make(chan struct{}),
		doneC:        make(chan struct{}),
	}
}

func (p *PeerReader) Messages() <-chan interface{} { return p.messages }

func (p *PeerReader) Stop() { close(p.stopC) }

func (p *PeerReader) Done() <-chan struct{} { return p.doneC }

// Err returns the error that stopped the reader. Only valid after Done is closed.
func (p *PeerReader) Err() error { return p.err }

func (p *PeerReader) Run() {
	defer close(p.doneC)
	p.err = p.run()
	if p.err == nil || p.err == io.EOF || p.err == errStopped {
		return
	}
	select {
	case <-p.stopC:
	default:
		var nerr net.Error
		if errors.As(p.err, &nerr) {
			p.log.Debugln("read error:", p.err)
		} else {
			p.log.Warningln("closing peer:", p.err)
		}
	}
}

var errStopped = errors.New("peer reader stopped")

func (p *PeerReader) run() error {
	first := true
	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		var length uint32
		if err := binary.Read(p.r, binary.BigEndian, &length); err != nil {
			return err
		}
		if length == 0 {
			continue // keep-alive
		}
		if length > peerprotocol.MaxMessageLength {
			return fmt.Errorf("%w: message length %d exceeds limit", ErrInvalidMessage, length)
		}
		var id peerprotocol.MessageID
		if err := binary.Read(p.r, binary.BigEndian, &id); err != nil {
			return err
		}
		length--

		var msg interface{}
		switch id {
		case peerprotocol.Piece:
			if length < 8 {
				return fmt.Errorf("%w: short piece message", ErrInvalidMessage)
			}
			pm, err := p.readPiece(length - 8)
			if err != nil {
				return err
			}
			msg = pm
		default:
			payload := make([]byte, length)
			if _, err := io.ReadFull(p.r, payload); err != nil {
				return err
			}
			m, err := peerprotocol.ParseMessage(id, payload)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidMessage, err)
			}
			switch mm := m.(type) {
			case peerprotocol.BitfieldMessage, peerprotocol.HaveAllMessage, peerprotocol.HaveNoneMessage:
				if !first {
					return fmt.Errorf("%w: %s must be the first message", ErrInvalidMessage, id)
				}
			case peerprotocol.RequestMessage:
				if mm.Length > peerprotocol.MaxBlockSize || mm.Length == 0 {
					return fmt.Errorf("%w: request of %d bytes", ErrInvalidMessage, mm.Length)
				}
			case peerprotocol.PortMessage:
				continue
			}
			msg = m
		}
		// Only messages defined in BEP 3 end the window for a bitfield.
		if id <= peerprotocol.Port {
			first = false
		}
		select {
		case p.messages <- msg:
		case <-p.stopC:
			return errStopped
		}
	}
}

func (p *PeerReader) readPiece(length uint32) (Piece, error) {
	var pm Piece
	if length > peerprotocol.MaxBlockSize {
		return pm, fmt.Errorf("%w: piece block of %d bytes", ErrInvalidMessage, length)
	}
	var hdr [8]byte
	if _, err := io.ReadFull(p.r, hdr[:]); err != nil {
		return pm, err
	}
	pm.Index = binary.BigEndian.Uint32(hdr[0:4])
	pm.Begin = binary.BigEndian.Uint32(hdr[4:8])
	if p.throttle != nil {
		if err := p.throttle.Wait(int64(length), p.stopC); err != nil {
			return pm, errStopped
		}
	}
	pm.Data = make([]byte, length)
	var m int
	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.pieceTimeout)); err != nil {
			return pm, err
		}
		n, err := io.ReadFull(p.r, pm.Data[m:])
		m += n
		if err == nil {
			return pm, nil
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() && n > 0 {
			// Slow but alive; keep reading the rest of the block.
			continue
		}
		return pm, err
	}
}
