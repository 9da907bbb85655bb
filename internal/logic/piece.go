package logic

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/shared/models"
)

// DefaultMaxBacklog is the number of block requests kept in flight when none is configured.
const DefaultMaxBacklog = 5

var (
	// ErrHashMismatch matches a *HashMismatchError.
	ErrHashMismatch = errors.New("piece hash mismatch")
	// ErrChoked reports a peer that choked us before a piece was complete.
	ErrChoked = errors.New("choked mid-transfer")
)

// HashMismatchError reports a fully assembled piece whose SHA-1 differs
// from the one in the metainfo. The data is discarded.
type HashMismatchError struct {
	Index    int
	Expected models.Hash
	Actual   models.Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s: piece %d: expected %s, got %s", ErrHashMismatch, e.Index, e.Expected, e.Actual)
}

func (e *HashMismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// PeerState is what we know about the remote peer from the messages it sent.
type PeerState struct {
	Choked   bool
	Bitfield p2p.Bitfield

	numPieces int
}

// NewPeerState returns the state of a freshly connected peer of a torrent
// with numPieces pieces: choked and holding nothing.
func NewPeerState(numPieces int) *PeerState {
	return &PeerState{Choked: true, Bitfield: p2p.NewBitfield(numPieces), numPieces: numPieces}
}

// Observe applies the state carried by msg. A Have for a piece the torrent
// does not contain is a protocol violation. A Bitfield is cut to the
// torrent's piece count.
func (s *PeerState) Observe(msg p2p.Message) error {
	switch m := msg.(type) {
	case p2p.ChokeMessage:
		s.Choked = true
	case p2p.UnchokeMessage:
		s.Choked = false
	case p2p.HaveMessage:
		if int64(m.Index) >= int64(s.numPieces) || !s.Bitfield.SetPiece(int(m.Index)) {
			return fmt.Errorf("%w: have for piece %d of %d", p2p.ErrProtocolViolation, m.Index, s.numPieces)
		}
	case p2p.BitfieldMessage:
		bf := p2p.NewBitfield(s.numPieces)
		copy(bf, m.Bitfield)
		s.Bitfield = bf
	}
	return nil
}

// MessageConn is the message stream the engine drives.
type MessageConn interface {
	ReadMessage() (p2p.Message, error)
	WriteMessage(msg p2p.Message) error
}

// PieceDownloader fetches one piece at a time over a single connection.
type PieceDownloader struct {
	conn       MessageConn
	peer       *PeerState
	log        *slog.Logger
	maxBacklog int
}

func NewPieceDownloader(conn MessageConn, peer *PeerState, logger *slog.Logger, maxBacklog int) *PieceDownloader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if maxBacklog <= 0 {
		maxBacklog = DefaultMaxBacklog
	}
	return &PieceDownloader{conn: conn, peer: peer, log: logger, maxBacklog: maxBacklog}
}

// Download requests every block of piece, assembles the replies by offset
// and verifies the result. It waits for an unchoke first when the peer is
// choking us. At most maxBacklog requests are outstanding at once.
func (d *PieceDownloader) Download(piece models.Piece) ([]byte, error) {
	log := d.log.With(slog.Int("piece", piece.Index))

	plan := PlanBlocks(piece.Length, BlockSize)
	if len(plan) == 0 {
		return nil, fmt.Errorf("piece %d: invalid length %d", piece.Index, piece.Length)
	}

	if err := d.awaitUnchoke(log); err != nil {
		return nil, fmt.Errorf("piece %d: await unchoke: %w", piece.Index, err)
	}

	buf := NewPieceBuffer(plan)
	requested, backlog, received := 0, 0, 0
	for !buf.Complete() {
		for ; backlog < d.maxBacklog && requested < len(plan); requested++ {
			block := plan[requested]
			req := p2p.RequestMessage{Index: uint32(piece.Index), Begin: uint32(block.Begin), Length: uint32(block.Length)}
			if err := d.conn.WriteMessage(req); err != nil {
				return nil, fmt.Errorf("piece %d: request block at %d: %w", piece.Index, block.Begin, err)
			}
			backlog++
		}

		msg, err := d.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("piece %d: %d of %d blocks received: %w", piece.Index, received, len(plan), err)
		}
		if err := d.peer.Observe(msg); err != nil {
			return nil, fmt.Errorf("piece %d: %w", piece.Index, err)
		}

		switch m := msg.(type) {
		case p2p.ChokeMessage:
			return nil, fmt.Errorf("%w: piece %d: %d of %d blocks received", ErrChoked, piece.Index, received, len(plan))
		case p2p.PieceMessage:
			if int(m.Index) != piece.Index {
				return nil, fmt.Errorf("%w: piece %d: received block of piece %d", p2p.ErrProtocolViolation, piece.Index, m.Index)
			}
			if err := buf.Put(int(m.Begin), m.Block); err != nil {
				return nil, fmt.Errorf("piece %d: %w", piece.Index, err)
			}
			backlog--
			received++
		default:
			log.Debug("ignoring message while collecting", slog.String("type", msg.ID().String()))
		}
	}

	data := buf.Bytes()
	if actual := models.Hash(sha1.Sum(data)); actual != piece.Hash {
		return nil, &HashMismatchError{Index: piece.Index, Expected: piece.Hash, Actual: actual}
	}

	log.Debug("piece verified", slog.Int("length", len(data)))
	return data, nil
}

func (d *PieceDownloader) awaitUnchoke(log *slog.Logger) error {
	for d.peer.Choked {
		msg, err := d.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := d.peer.Observe(msg); err != nil {
			return err
		}
		if _, ok := msg.(p2p.PieceMessage); ok {
			log.Debug("dropping block received while choked")
		}
	}
	return nil
}
