// Package peerprotocol defines the messages of the BitTorrent peer wire protocol and their encoding.
package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxBlockSize is the largest block a peer may request or send.
const MaxBlockSize = 16 * 1024

// MaxMessageLength bounds the length prefix of any non-piece message.
// Large enough for the bitfield of a torrent with 2^20 pieces.
const MaxMessageLength = 1<<17 + 1

var errShortPayload = errors.New("short message payload")

// Message is a typed peer wire message.
type Message interface {
	ID() MessageID
	// AppendPayload appends the bytes following the message id to b.
	AppendPayload(b []byte) []byte
}

// WriteMessage writes the length-prefixed frame of m to w.
func WriteMessage(w io.Writer, m Message) error {
	buf := make([]byte, 5, 5+16)
	buf[4] = byte(m.ID())
	buf = m.AppendPayload(buf)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(buf)-4))
	_, err := w.Write(buf)
	return err
}

// WriteKeepAlive writes a zero length frame.
func WriteKeepAlive(w io.Writer) error {
	_, err := w.Write([]byte{0, 0, 0, 0})
	return err
}

// ChokeMessage tells the peer its requests will not be served.
type ChokeMessage struct{}

// UnchokeMessage tells the peer it may request blocks.
type UnchokeMessage struct{}

// InterestedMessage tells the peer we want pieces it has.
type InterestedMessage struct{}

// NotInterestedMessage tells the peer we want nothing from it.
type NotInterestedMessage struct{}

// HaveAllMessage replaces a full bitfield when both sides support the fast extension.
type HaveAllMessage struct{}

// HaveNoneMessage replaces an empty bitfield.
type HaveNoneMessage struct{}

func (ChokeMessage) ID() MessageID         { return Choke }
func (UnchokeMessage) ID() MessageID       { return Unchoke }
func (InterestedMessage) ID() MessageID    { return Interested }
func (NotInterestedMessage) ID() MessageID { return NotInterested }
func (HaveAllMessage) ID() MessageID       { return HaveAll }
func (HaveNoneMessage) ID() MessageID      { return HaveNone }

func (ChokeMessage) AppendPayload(b []byte) []byte         { return b }
func (UnchokeMessage) AppendPayload(b []byte) []byte       { return b }
func (InterestedMessage) AppendPayload(b []byte) []byte    { return b }
func (NotInterestedMessage) AppendPayload(b []byte) []byte { return b }
func (HaveAllMessage) AppendPayload(b []byte) []byte       { return b }
func (HaveNoneMessage) AppendPayload(b []byte) []byte      { return b }

// HaveMessage announces a newly verified piece.
type HaveMessage struct {
	Index uint32
}

func (HaveMessage) ID() MessageID { return Have }

func (m HaveMessage) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.Index)
}

// AllowedFastMessage lets the peer request a piece while choked.
type AllowedFastMessage struct{ HaveMessage }

func (AllowedFastMessage) ID() MessageID { return AllowedFast }

// BitfieldMessage carries the sender's piece bitmap. Only valid as the first message.
type BitfieldMessage struct {
	Data []byte
}

func (BitfieldMessage) ID() MessageID { return Bitfield }

func (m BitfieldMessage) AppendPayload(b []byte) []byte { return append(b, m.Data...) }

// RequestMessage asks for a block.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (RequestMessage) ID() MessageID { return Request }

func (m RequestMessage) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Index)
	b = binary.BigEndian.AppendUint32(b, m.Begin)
	return binary.BigEndian.AppendUint32(b, m.Length)
}

func (m RequestMessage) String() string {
	return fmt.Sprintf("%d:%d+%d", m.Index, m.Begin, m.Length)
}

// CancelMessage withdraws a previous request.
type CancelMessage struct{ RequestMessage }

func (CancelMessage) ID() MessageID { return Cancel }

// RejectMessage tells the peer a request will not be served.
type RejectMessage struct{ RequestMessage }

func (RejectMessage) ID() MessageID { return Reject }

// PieceMessage carries a block of piece data.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

func (PieceMessage) ID() MessageID { return Piece }

func (m PieceMessage) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Index)
	b = binary.BigEndian.AppendUint32(b, m.Begin)
	return append(b, m.Data...)
}

// PortMessage announces a DHT port. It is parsed and ignored.
type PortMessage struct {
	Port uint16
}

func (PortMessage) ID() MessageID { return Port }

func (m PortMessage) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint16(b, m.Port)
}

// ParseMessage decodes the payload of a message with the given id.
// Piece messages are read separately by the connection so their payload can be rate limited.
func ParseMessage(id MessageID, payload []byte) (Message, error) {
	switch id {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%s message with payload", id)
		}
		switch id {
		case Choke:
			return ChokeMessage{}, nil
		case Unchoke:
			return UnchokeMessage{}, nil
		case Interested:
			return InterestedMessage{}, nil
		case NotInterested:
			return NotInterestedMessage{}, nil
		case HaveAll:
			return HaveAllMessage{}, nil
		default:
			return HaveNoneMessage{}, nil
		}
	case Have, AllowedFast:
		if len(payload) != 4 {
			return nil, errShortPayload
		}
		m := HaveMessage{Index: binary.BigEndian.Uint32(payload)}
		if id == AllowedFast {
			return AllowedFastMessage{m}, nil
		}
		return m, nil
	case Bitfield:
		return BitfieldMessage{Data: payload}, nil
	case Request, Cancel, Reject:
		if len(payload) != 12 {
			return nil, errShortPayload
		}
		m := RequestMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}
		switch id {
		case Cancel:
			return CancelMessage{m}, nil
		case Reject:
			return RejectMessage{m}, nil
		}
		return m, nil
	case Port:
		if len(payload) != 2 {
			return nil, errShortPayload
		}
		return PortMessage{Port: binary.BigEndian.Uint16(payload)}, nil
	case Extension:
		var m ExtensionMessage
		if err := m.UnmarshalBinary(payload); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message id: %d", id)
	}
}
