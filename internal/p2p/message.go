package p2p

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/shared/models"
)

const (
	// lengthPrefixSize is the size in bytes of the big-endian frame length.
	lengthPrefixSize = 4
	// MaxMessageLength is the largest frame (in bytes, id included) accepted
	// from a peer. It fits a 16 KiB block with room to spare and a bitfield
	// for several million pieces.
	MaxMessageLength = 1 << 20
)

// Message is one peer wire message. The set of implementations is closed:
// the nine message types of the base protocol.
type Message interface {
	ID() models.MessageID
	payloadLength() int
	appendPayload(b []byte) []byte
}

type ChokeMessage struct{}

type UnchokeMessage struct{}

type InterestedMessage struct{}

type NotInterestedMessage struct{}

type HaveMessage struct {
	Index uint32
}

type BitfieldMessage struct {
	Bitfield Bitfield
}

type RequestMessage struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

type PieceMessage struct {
	Index uint32
	Begin uint32
	Block []byte
}

type CancelMessage struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

func (ChokeMessage) ID() models.MessageID         { return models.MessageIDChoke }
func (UnchokeMessage) ID() models.MessageID       { return models.MessageIDUnchoke }
func (InterestedMessage) ID() models.MessageID    { return models.MessageIDInterested }
func (NotInterestedMessage) ID() models.MessageID { return models.MessageIDNotInterested }
func (HaveMessage) ID() models.MessageID          { return models.MessageIDHave }
func (BitfieldMessage) ID() models.MessageID      { return models.MessageIDBitfield }
func (RequestMessage) ID() models.MessageID       { return models.MessageIDRequest }
func (PieceMessage) ID() models.MessageID         { return models.MessageIDPiece }
func (CancelMessage) ID() models.MessageID        { return models.MessageIDCancel }

func (ChokeMessage) payloadLength() int         { return 0 }
func (UnchokeMessage) payloadLength() int       { return 0 }
func (InterestedMessage) payloadLength() int    { return 0 }
func (NotInterestedMessage) payloadLength() int { return 0 }
func (HaveMessage) payloadLength() int          { return 4 }
func (m BitfieldMessage) payloadLength() int    { return len(m.Bitfield) }
func (RequestMessage) payloadLength() int       { return 12 }
func (m PieceMessage) payloadLength() int       { return 8 + len(m.Block) }
func (CancelMessage) payloadLength() int        { return 12 }

func (ChokeMessage) appendPayload(b []byte) []byte         { return b }
func (UnchokeMessage) appendPayload(b []byte) []byte       { return b }
func (InterestedMessage) appendPayload(b []byte) []byte    { return b }
func (NotInterestedMessage) appendPayload(b []byte) []byte { return b }

func (m HaveMessage) appendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.Index)
}

func (m BitfieldMessage) appendPayload(b []byte) []byte {
	return append(b, m.Bitfield...)
}

func (m RequestMessage) appendPayload(b []byte) []byte {
	return appendTriple(b, m.Index, m.Begin, m.Length)
}

func (m PieceMessage) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Index)
	b = binary.BigEndian.AppendUint32(b, m.Begin)
	return append(b, m.Block...)
}

func (m CancelMessage) appendPayload(b []byte) []byte {
	return appendTriple(b, m.Index, m.Begin, m.Length)
}

func appendTriple(b []byte, index, begin, length uint32) []byte {
	b = binary.BigEndian.AppendUint32(b, index)
	b = binary.BigEndian.AppendUint32(b, begin)
	return binary.BigEndian.AppendUint32(b, length)
}

// Encode frames m: length prefix, id byte, payload. The length prefix always
// equals 1 plus the payload length.
func Encode(m Message) []byte {
	n := m.payloadLength()
	buf := make([]byte, lengthPrefixSize+1, lengthPrefixSize+1+n)
	binary.BigEndian.PutUint32(buf, uint32(1+n))
	buf[lengthPrefixSize] = byte(m.ID())
	return m.appendPayload(buf)
}

func WriteMessage(w io.Writer, m Message) error {
	if _, err := w.Write(Encode(m)); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrIO, m.ID(), err)
	}
	return nil
}

// WriteKeepAlive sends a zero length frame.
func WriteKeepAlive(w io.Writer) error {
	if _, err := w.Write(make([]byte, lengthPrefixSize)); err != nil {
		return fmt.Errorf("%w: send keep-alive: %w", ErrIO, err)
	}
	return nil
}

// ReadMessage reads one frame from r. A keep-alive frame yields a nil
// Message and a nil error.
func ReadMessage(r io.Reader) (Message, error) {
	prefix, err := decoder.ReadBytes(r, lengthPrefixSize)
	if err != nil {
		return nil, fmt.Errorf("%w: read message length: %w", ErrIO, err)
	}

	length := binary.BigEndian.Uint32(prefix)
	if length == 0 {
		return nil, nil
	}
	if length > MaxMessageLength {
		return nil, fmt.Errorf("%w: message length %d exceeds %d", ErrFraming, length, MaxMessageLength)
	}

	frame, err := decoder.ReadBytes(r, int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: read %d byte message: %w", ErrIO, length, err)
	}

	return Decode(frame)
}

// Decode parses a frame body: the id byte followed by the payload.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrFraming)
	}

	id := models.MessageID(frame[0])
	payload := frame[1:]

	switch id {
	case models.MessageIDChoke, models.MessageIDUnchoke, models.MessageIDInterested, models.MessageIDNotInterested:
		if len(payload) != 0 {
			return nil, malformed(id, len(payload), 0)
		}
		return [...]Message{ChokeMessage{}, UnchokeMessage{}, InterestedMessage{}, NotInterestedMessage{}}[id], nil
	case models.MessageIDHave:
		if len(payload) != 4 {
			return nil, malformed(id, len(payload), 4)
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case models.MessageIDBitfield:
		return BitfieldMessage{Bitfield: Bitfield(payload)}, nil
	case models.MessageIDRequest, models.MessageIDCancel:
		if len(payload) != 12 {
			return nil, malformed(id, len(payload), 12)
		}
		index := binary.BigEndian.Uint32(payload[0:4])
		begin := binary.BigEndian.Uint32(payload[4:8])
		length := binary.BigEndian.Uint32(payload[8:12])
		if id == models.MessageIDRequest {
			return RequestMessage{Index: index, Begin: begin, Length: length}, nil
		}
		return CancelMessage{Index: index, Begin: begin, Length: length}, nil
	case models.MessageIDPiece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("%w: malformed piece message: payload is %d bytes, want at least 8", ErrFraming, len(payload))
		}
		return PieceMessage{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Block: payload[8:],
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported message id %d", ErrProtocolViolation, frame[0])
	}
}

func malformed(id models.MessageID, got, want int) error {
	return fmt.Errorf("%w: malformed %s message: payload is %d bytes, want %d", ErrFraming, id, got, want)
}
