// Package peerwriter queues and writes messages to a peer connection.
package peerwriter

import (
	"container/list"
	"errors"
	"io"
	"net"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/peerconn/peerreader"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
)

const keepAlivePeriod = 2 * time.Minute

// BlockUploaded is sent to Messages after a block is written to the peer.
type BlockUploaded struct {
	Length uint32
}

// Piece is a queued reply to a request. Data is read just before writing.
type Piece struct {
	Data io.ReaderAt
	peerprotocol.RequestMessage
}

func (p Piece) ID() peerprotocol.MessageID { return peerprotocol.Piece }

// AppendPayload must not be called; the writer reads the block itself.
func (p Piece) AppendPayload(b []byte) []byte { panic("peerwriter: Piece must be loaded before writing") }

type PeerWriter struct {
	conn            net.Conn
	queueC          chan peerprotocol.Message
	cancelC         chan peerprotocol.CancelMessage
	writeQueue      *list.List
	writeC          chan peerprotocol.Message
	messages        chan interface{}
	maxQueuedPieces int
	fastEnabled     bool
	throttle        peerreader.Throttle
	log             logger.Logger
	stopC           chan struct{}
	doneC           chan struct{}
	writerDoneC     chan struct{}
	err             error
}

// New returns a writer. Requests beyond maxQueuedPieces are dropped, with a
// reject message if the peer supports the fast extension.
func New(conn net.Conn, l logger.Logger, maxQueuedPieces int, fastEnabled bool, throttle peerreader.Throttle) *PeerWriter {
	return &PeerWriter{
		conn:            conn,
		queueC:          make(chan peerprotocol.Message),
		cancelC:         make(chan peerprotocol.CancelMessage),
		writeQueue:      list.New(),
		writeC:          make(chan peerprotocol.Message),
		messages:        make(chan interface{}),
		maxQueuedPieces: maxQueuedPieces,
		fastEnabled:     fastEnabled,
		throttle:        throttle,
		log:             l,
		stopC:           make(chan struct{}),
		doneC:           make(chan struct{}),
		writerDoneC:     make(chan struct{}),
	}
}

func (p *PeerWriter) Messages() <-chan interface{} { return p.messages }

// SendMessage queues msg. Does not wait for the write.
func (p *PeerWriter) SendMessage(msg peerprotocol.Message) {
	select {
	case p.queueC <- msg:
	case <-p.doneC:
	}
}

// SendPiece queues a reply to req with block data read from data at req.Begin.
func (p *PeerWriter) SendPiece(req peerprotocol.RequestMessage, data io.ReaderAt) {
	p.SendMessage(Piece{Data: data, RequestMessage: req})
}

// CancelRequest removes a queued reply matching the cancel.
func (p *PeerWriter) CancelRequest(msg peerprotocol.CancelMessage) {
	select {
	case p.cancelC <- msg:
	case <-p.doneC:
	}
}

func (p *PeerWriter) Stop() { close(p.stopC) }

func (p *PeerWriter) Done() <-chan struct{} { return p.doneC }

// Err returns the write error, if any. Only valid after Done is closed.
func (p *PeerWriter) Err() error { return p.err }

func (p *PeerWriter) Run() {
	defer close(p.doneC)
	go p.messageWriter()
	defer func() { <-p.writerDoneC }()

	for {
		var (
			e      *list.Element
			msg    peerprotocol.Message
			writeC chan peerprotocol.Message
		)
		if p.writeQueue.Len() > 0 {
			e = p.writeQueue.Front()
			msg = e.Value.(peerprotocol.Message)
			writeC = p.writeC
		}
		select {
		case m := <-p.queueC:
			p.queueMessage(m)
		case writeC <- msg:
			p.writeQueue.Remove(e)
		case cm := <-p.cancelC:
			p.cancelRequest(cm)
		case <-p.writerDoneC:
			return
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerWriter) queueMessage(msg peerprotocol.Message) {
	switch m := msg.(type) {
	case peerprotocol.ChokeMessage:
		p.cancelQueuedPieces()
	case Piece:
		if p.queuedPieces() >= p.maxQueuedPieces {
			p.log.Debugln("request queue full, dropping", m.RequestMessage)
			if !p.fastEnabled {
				return
			}
			msg = peerprotocol.RejectMessage{RequestMessage: m.RequestMessage}
		}
	}
	p.writeQueue.PushBack(msg)
}

func (p *PeerWriter) queuedPieces() int {
	var n int
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if _, ok := e.Value.(Piece); ok {
			n++
		}
	}
	return n
}

func (p *PeerWriter) cancelQueuedPieces() {
	var next *list.Element
	for e := p.writeQueue.Front(); e != nil; e = next {
		next = e.Next()
		if _, ok := e.Value.(Piece); ok {
			p.writeQueue.Remove(e)
		}
	}
}

func (p *PeerWriter) cancelRequest(cm peerprotocol.CancelMessage) {
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if pi, ok := e.Value.(Piece); ok && pi.RequestMessage == cm.RequestMessage {
			p.writeQueue.Remove(e)
			return
		}
	}
}

func (p *PeerWriter) messageWriter() {
	defer close(p.writerDoneC)
	defer p.conn.Close()

	keepAliveTicker := time.NewTicker(keepAlivePeriod / 2)
	defer keepAliveTicker.Stop()

	for {
		select {
		case msg := <-p.writeC:
			if err := p.write(msg); err != nil {
				p.err = err
				var nerr net.Error
				if errors.As(err, &nerr) {
					p.log.Debugf("cannot write message [%v]: %s", msg.ID(), err)
				} else {
					p.log.Errorf("cannot write message [%v]: %s", msg.ID(), err)
				}
				return
			}
		case <-keepAliveTicker.C:
			if err := peerprotocol.WriteKeepAlive(p.conn); err != nil {
				p.err = err
				return
			}
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerWriter) write(msg peerprotocol.Message) error {
	pi, ok := msg.(Piece)
	if !ok {
		return peerprotocol.WriteMessage(p.conn, msg)
	}
	if p.throttle != nil {
		if err := p.throttle.Wait(int64(pi.Length), p.stopC); err != nil {
			return nil
		}
	}
	data := make([]byte, pi.Length)
	if _, err := pi.Data.ReadAt(data, int64(pi.Begin)); err != nil {
		return err
	}
	err := peerprotocol.WriteMessage(p.conn, peerprotocol.PieceMessage{Index: pi.Index, Begin: pi.Begin, Data: data})
	if err != nil {
		return err
	}
	select {
	case p.messages <- BlockUploaded{Length: pi.Length}:
	case <-p.stopC:
	}
	return nil
}
