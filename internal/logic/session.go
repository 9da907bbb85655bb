package logic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/WendelHime/btpeer/internal/config"
	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/storage"
	"github.com/schollz/progressbar/v3"
)

// Session drives one connection to one peer: handshake, interest, then
// piece downloads one after another. It owns the connection and is the
// only one closing it.
type Session struct {
	client   p2p.P2PClient
	meta     models.Metafile
	cfg      config.Config
	log      *slog.Logger
	peer     *PeerState
	engine   *PieceDownloader
	progress io.Writer
}

type SessionOption func(*Session)

// WithSessionProgress renders download progress to w.
func WithSessionProgress(w io.Writer) SessionOption {
	return func(s *Session) { s.progress = w }
}

func NewSession(client p2p.P2PClient, meta models.Metafile, cfg config.Config, logger *slog.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	peer := NewPeerState(meta.Info.NumPieces())
	s := &Session{
		client:   client,
		meta:     meta,
		cfg:      cfg,
		log:      logger,
		peer:     peer,
		engine:   NewPieceDownloader(client, peer, logger, cfg.MaxBacklog),
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to addr, exchanges handshakes and declares interest.
func (s *Session) Open(ctx context.Context, addr models.Addr) (p2p.Handshake, error) {
	log := s.log.With(slog.String("peer", addr.String()))

	if err := s.client.Connect(ctx, addr); err != nil {
		return p2p.Handshake{}, err
	}

	remote, err := s.client.Handshake(s.meta.InfoHash)
	if err != nil {
		s.Close()
		return p2p.Handshake{}, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	log.Info("handshake completed", slog.String("peer_id", remote.PeerID.String()))

	if err := s.client.WriteMessage(p2p.InterestedMessage{}); err != nil {
		s.Close()
		return p2p.Handshake{}, err
	}

	return remote, nil
}

// Peer is the state observed from the remote peer so far.
func (s *Session) Peer() PeerState {
	return *s.peer
}

// DownloadPiece fetches and verifies the piece at index. Hash mismatches and
// chokes are retried up to MaxPieceAttempts times in total; any other
// failure is returned at once.
func (s *Session) DownloadPiece(index int) ([]byte, error) {
	piece, err := s.meta.Info.Piece(index)
	if err != nil {
		return nil, err
	}
	log := s.log.With(slog.Int("piece", index))

	attempts := max(s.cfg.MaxPieceAttempts, 1)
	for attempt := 1; ; attempt++ {
		if !s.peer.Choked && s.peer.Bitfield.Count() > 0 && !s.peer.Bitfield.HasPiece(index) {
			log.Warn("peer did not advertise piece")
		}

		data, err := s.engine.Download(piece)
		if err == nil {
			return data, nil
		}
		if !retryable(err) || attempt >= attempts {
			return nil, fmt.Errorf("attempt %d of %d: %w", attempt, attempts, err)
		}
		log.Warn("retrying piece", slog.Int("attempt", attempt), slog.Any("error", err))

		if errors.Is(err, ErrChoked) {
			// ask to be unchoked again
			if err := s.client.WriteMessage(p2p.InterestedMessage{}); err != nil {
				return nil, err
			}
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrHashMismatch) || errors.Is(err, ErrChoked)
}

// Run opens the session, downloads indexes in order handing each verified
// piece to store, and closes the connection.
func (s *Session) Run(ctx context.Context, addr models.Addr, indexes []int, store storage.Storage) error {
	if _, err := s.Open(ctx, addr); err != nil {
		return err
	}
	defer s.Close()

	return s.Fetch(ctx, indexes, store)
}

// Fetch downloads indexes in order over an open session, handing each
// verified piece to store.
func (s *Session) Fetch(ctx context.Context, indexes []int, store storage.Storage) error {
	var total int64
	for _, index := range indexes {
		size, err := s.meta.Info.PieceSize(index)
		if err != nil {
			return err
		}
		total += int64(size)
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(s.progress),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
	)
	for _, index := range indexes {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := s.DownloadPiece(index)
		if err != nil {
			return fmt.Errorf("piece %d: %w", index, err)
		}
		if err := store.WritePiece(index, data); err != nil {
			return fmt.Errorf("store piece %d: %w", index, err)
		}
		_ = bar.Add(len(data))
		s.log.Info("piece saved", slog.Int("piece", index), slog.Int("pieces", len(indexes)))
	}
	_ = bar.Finish()

	return nil
}

func (s *Session) Close() error {
	return s.client.Disconnect()
}
