package p2p

import (
	"errors"
	"fmt"
	"io"

	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/shared/models"
)

const (
	ProtocolName = "BitTorrent protocol"
	// HandshakeLength is the size in bytes of a handshake carrying ProtocolName.
	HandshakeLength = 1 + len(ProtocolName) + reservedLength + 20 + 20

	reservedLength = 8
	// bytes after the protocol name: reserved, info hash and peer id
	handshakeTrailer = reservedLength + 20 + 20
)

type Handshake struct {
	Protocol string
	Reserved [reservedLength]byte
	InfoHash models.Hash
	PeerID   models.PeerID
}

func NewHandshake(infoHash models.Hash, peerID models.PeerID) Handshake {
	return Handshake{
		Protocol: ProtocolName,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Bytes serializes the handshake: name length, name, reserved bytes, info hash, peer id.
func (h Handshake) Bytes() []byte {
	buf := make([]byte, 0, 1+len(h.Protocol)+handshakeTrailer)
	buf = append(buf, byte(len(h.Protocol)))
	buf = append(buf, h.Protocol...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// DecodeHandshake parses a handshake received from a peer. The declared
// protocol name length decides where the fixed trailing fields start.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < HandshakeLength {
		return Handshake{}, fmt.Errorf("%w: handshake is %d bytes, want %d", ErrFraming, len(buf), HandshakeLength)
	}

	nameLen := int(buf[0])
	if 1+nameLen+handshakeTrailer > len(buf) {
		return Handshake{}, fmt.Errorf("%w: protocol name length %d overflows %d byte handshake", ErrFraming, nameLen, len(buf))
	}

	var h Handshake
	off := 1
	h.Protocol = string(buf[off : off+nameLen])
	off += nameLen
	off += copy(h.Reserved[:], buf[off:])
	off += copy(h.InfoHash[:], buf[off:])
	copy(h.PeerID[:], buf[off:])

	return h, nil
}

// ExchangeHandshake writes h and reads the peer's reply. It performs exactly
// one write and one read of HandshakeLength bytes.
func ExchangeHandshake(rw io.ReadWriter, h Handshake) (Handshake, error) {
	if _, err := rw.Write(h.Bytes()); err != nil {
		return Handshake{}, fmt.Errorf("%w: send handshake: %w", ErrIO, err)
	}

	resp, err := decoder.ReadBytes(rw, HandshakeLength)
	// any reply shorter than a full handshake, an empty one included
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Handshake{}, fmt.Errorf("%w: handshake truncated: %w", ErrFraming, err)
	}
	if err != nil {
		return Handshake{}, fmt.Errorf("%w: receive handshake: %w", ErrIO, err)
	}

	return DecodeHandshake(resp)
}
