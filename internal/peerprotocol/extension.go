package peerprotocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/zeebo/bencode"
)

// Extended message ids. 0 is the extension handshake; the others are the ids we advertise.
const (
	ExtensionIDHandshake uint8 = iota
	ExtensionIDMetadata
)

// ExtensionKeyMetadata is the name of the metadata exchange extension.
const ExtensionKeyMetadata = "ut_metadata"

// Metadata extension message types.
const (
	ExtensionMetadataMessageTypeRequest = iota
	ExtensionMetadataMessageTypeData
	ExtensionMetadataMessageTypeReject
)

// ExtensionMessage wraps a message of the extension protocol.
type ExtensionMessage struct {
	ExtendedMessageID uint8
	Payload           interface{}
}

func (ExtensionMessage) ID() MessageID { return Extension }

// AppendPayload bencodes the payload. Metadata data messages are followed by the raw piece.
func (m ExtensionMessage) AppendPayload(b []byte) []byte {
	b = append(b, m.ExtendedMessageID)
	enc, err := bencode.EncodeBytes(m.Payload)
	if err != nil {
		// Payloads are built from fixed struct types that always encode.
		panic(err)
	}
	b = append(b, enc...)
	if mm, ok := m.Payload.(ExtensionMetadataMessage); ok {
		b = append(b, mm.Data...)
	}
	return b
}

// UnmarshalBinary parses an extension message. The id in data refers to our own
// advertised ids, so a metadata message always arrives as ExtensionIDMetadata.
func (m *ExtensionMessage) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty extension message")
	}
	m.ExtendedMessageID = data[0]
	payload := data[1:]
	dec := bencode.NewDecoder(bytes.NewReader(payload))
	switch m.ExtendedMessageID {
	case ExtensionIDHandshake:
		var hs ExtensionHandshakeMessage
		if err := dec.Decode(&hs); err != nil {
			return err
		}
		if hs.MetadataSize < 0 {
			hs.MetadataSize = 0
		}
		if hs.RequestQueue < 0 {
			hs.RequestQueue = 0
		}
		m.Payload = hs
	case ExtensionIDMetadata:
		var mm ExtensionMetadataMessage
		if err := dec.Decode(&mm); err != nil {
			return err
		}
		mm.Data = payload[dec.BytesParsed():]
		m.Payload = mm
	default:
		return fmt.Errorf("unknown extension message id: %d", m.ExtendedMessageID)
	}
	return nil
}

// ExtensionHandshakeMessage is exchanged right after the BitTorrent handshake.
type ExtensionHandshakeMessage struct {
	M            map[string]uint8 `bencode:"m"`
	V            string           `bencode:"v,omitempty"`
	MetadataSize int              `bencode:"metadata_size,omitempty"`
	RequestQueue int              `bencode:"reqq,omitempty"`
}

// NewExtensionHandshake returns our handshake. metadataSize is 0 while we do not have the info dict.
func NewExtensionHandshake(metadataSize uint32, version string, requestQueueLength int) ExtensionHandshakeMessage {
	return ExtensionHandshakeMessage{
		M:            map[string]uint8{ExtensionKeyMetadata: ExtensionIDMetadata},
		V:            version,
		MetadataSize: int(metadataSize),
		RequestQueue: requestQueueLength,
	}
}

// ExtensionMetadataMessage requests, sends or rejects a 16 KiB piece of the info dictionary.
type ExtensionMetadataMessage struct {
	Type      int    `bencode:"msg_type"`
	Piece     uint32 `bencode:"piece"`
	TotalSize int    `bencode:"total_size,omitempty"`
	Data      []byte `bencode:"-"`
}
