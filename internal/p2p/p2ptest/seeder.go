// Package p2ptest provides an in-process seeding peer for tests.
package p2ptest

import (
	"crypto/sha1"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/shared/models"
)

// batchWindow is how long a seeder answering in reverse waits for more
// requests before flushing the ones it holds.
const batchWindow = 20 * time.Millisecond

// Seeder serves a fixed set of pieces to every connection it accepts. It
// unchokes a peer once the peer declares interest and answers requests from
// its pieces. Options script misbehavior.
type Seeder struct {
	infoHash models.Hash
	peerID   models.PeerID
	pieces   [][]byte

	sendBitfield bool
	reverse      bool
	keepAlives   bool
	stall        bool
	misalign     bool
	chokeAfter   int
	corrupt      map[int]int

	ln   net.Listener
	done chan struct{}

	mu       sync.Mutex
	requests []p2p.RequestMessage
	conns    int
}

type Option func(*Seeder)

// WithoutBitfield skips the bitfield message after the handshake.
func WithoutBitfield() Option {
	return func(s *Seeder) { s.sendBitfield = false }
}

// WithReversedBatches answers pipelined requests in reverse arrival order.
func WithReversedBatches() Option {
	return func(s *Seeder) { s.reverse = true }
}

// WithKeepAlives sends a keep-alive before every message.
func WithKeepAlives() Option {
	return func(s *Seeder) { s.keepAlives = true }
}

// WithStall completes the handshake and then never sends anything.
func WithStall() Option {
	return func(s *Seeder) { s.stall = true }
}

// WithMisalignedBlock answers the first request one byte past its offset.
func WithMisalignedBlock() Option {
	return func(s *Seeder) { s.misalign = true }
}

// WithChokeAfter chokes the peer once after n blocks have been served.
// Requests are dropped while choked; the peer is unchoked again when it
// next declares interest.
func WithChokeAfter(n int) Option {
	return func(s *Seeder) { s.chokeAfter = n }
}

// WithCorruptPiece flips a byte of the given piece the first times it is served.
// A negative times corrupts it forever.
func WithCorruptPiece(index, times int) Option {
	return func(s *Seeder) { s.corrupt[index] = times }
}

// WithInfoHash makes the seeder answer handshakes with hash.
func WithInfoHash(hash models.Hash) Option {
	return func(s *Seeder) { s.infoHash = hash }
}

// NewSeeder starts a seeder on a loopback port. It stops when the test ends.
func NewSeeder(t testing.TB, infoHash models.Hash, pieces [][]byte, opts ...Option) *Seeder {
	t.Helper()

	s := &Seeder{
		infoHash:     infoHash,
		pieces:       pieces,
		sendBitfield: true,
		corrupt:      make(map[int]int),
		done:         make(chan struct{}),
	}
	copy(s.peerID[:], "-SD0001-p2ptestseedr")
	for _, opt := range opts {
		opt(s)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("p2ptest: listen: %v", err)
	}
	s.ln = ln

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			s.mu.Unlock()
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serve(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		close(s.done)
		ln.Close()
		wg.Wait()
	})

	return s
}

// Addr is the address the seeder listens on.
func (s *Seeder) Addr() models.Addr {
	tcp := s.ln.Addr().(*net.TCPAddr)
	return models.Addr{IP: tcp.IP.To4(), Port: uint16(tcp.Port)}
}

// Requests returns every request received so far, in arrival order.
func (s *Seeder) Requests() []p2p.RequestMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]p2p.RequestMessage(nil), s.requests...)
}

// Connections returns the number of connections accepted so far.
func (s *Seeder) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Pieces splits content into pieceLength sized pieces.
func Pieces(content []byte, pieceLength int) [][]byte {
	var pieces [][]byte
	for begin := 0; begin < len(content); begin += pieceLength {
		pieces = append(pieces, content[begin:min(begin+pieceLength, len(content))])
	}
	return pieces
}

// Hashes returns the SHA-1 of every piece.
func Hashes(pieces [][]byte) []models.Hash {
	hashes := make([]models.Hash, len(pieces))
	for i, p := range pieces {
		hashes[i] = sha1.Sum(p)
	}
	return hashes
}

type session struct {
	*Seeder
	conn       net.Conn
	choked     bool
	chokedOnce bool
	served     int
	misaligned bool
}

func (s *Seeder) serve(conn net.Conn) {
	go func() {
		<-s.done
		conn.Close()
	}()
	defer conn.Close()

	buf, err := decoder.ReadBytes(conn, p2p.HandshakeLength)
	if err != nil {
		return
	}
	if _, err := p2p.DecodeHandshake(buf); err != nil {
		return
	}
	if _, err := conn.Write(p2p.NewHandshake(s.infoHash, s.peerID).Bytes()); err != nil {
		return
	}

	if s.stall {
		<-s.done
		return
	}

	ss := &session{Seeder: s, conn: conn, choked: true}
	if s.sendBitfield {
		bf := p2p.NewBitfield(len(s.pieces))
		for i := range s.pieces {
			bf.SetPiece(i)
		}
		if !ss.send(p2p.BitfieldMessage{Bitfield: bf}) {
			return
		}
	}

	var pending []p2p.RequestMessage
	for {
		deadline := time.Time{}
		if len(pending) > 0 {
			deadline = time.Now().Add(batchWindow)
		}
		_ = conn.SetReadDeadline(deadline)

		msg, err := p2p.ReadMessage(conn)
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			for i := len(pending) - 1; i >= 0; i-- {
				if !ss.answer(pending[i]) {
					return
				}
			}
			pending = nil
			continue
		}
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case p2p.InterestedMessage:
			if ss.choked {
				ss.choked = false
				if !ss.send(p2p.UnchokeMessage{}) {
					return
				}
			}
		case p2p.RequestMessage:
			s.mu.Lock()
			s.requests = append(s.requests, m)
			s.mu.Unlock()
			if ss.choked {
				continue
			}
			if s.reverse {
				pending = append(pending, m)
				continue
			}
			if !ss.answer(m) {
				return
			}
		}
	}
}

func (ss *session) send(msg p2p.Message) bool {
	if ss.keepAlives {
		if err := p2p.WriteKeepAlive(ss.conn); err != nil {
			return false
		}
	}
	return p2p.WriteMessage(ss.conn, msg) == nil
}

func (ss *session) answer(req p2p.RequestMessage) bool {
	if ss.choked {
		return true
	}
	index := int(req.Index)
	if index >= len(ss.pieces) {
		return true
	}
	piece := ss.pieces[index]
	end := int(req.Begin) + int(req.Length)
	if end > len(piece) {
		return true
	}

	block := append([]byte(nil), piece[req.Begin:end]...)
	begin := req.Begin
	if ss.misalign && !ss.misaligned {
		ss.misaligned = true
		begin++
	}
	if req.Begin == 0 {
		ss.mu.Lock()
		if n, ok := ss.corrupt[index]; ok && n != 0 {
			block[0] ^= 0xff
			ss.corrupt[index] = n - 1
		}
		ss.mu.Unlock()
	}

	if !ss.send(p2p.PieceMessage{Index: req.Index, Begin: begin, Block: block}) {
		return false
	}
	ss.served++

	if ss.chokeAfter > 0 && !ss.chokedOnce && ss.served >= ss.chokeAfter {
		ss.chokedOnce = true
		ss.choked = true
		return ss.send(p2p.ChokeMessage{})
	}
	return true
}
