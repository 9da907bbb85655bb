package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

// P2PClient is a connection to a single remote peer.
type P2PClient interface {
	Connect(ctx context.Context, address models.Addr) error
	Connected() bool
	Disconnect() error
	Handshake(hash models.Hash) (Handshake, error)
	ReadMessage() (Message, error)
	WriteMessage(msg Message) error
}

type Options struct {
	// DialTimeout bounds establishing the TCP connection. Zero means no limit.
	DialTimeout time.Duration
	// IdleTimeout bounds every read and write on the connection. Zero means no limit.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

type client struct {
	peerID      models.PeerID
	conn        net.Conn
	dialTimeout time.Duration
	idleTimeout time.Duration
	log         *slog.Logger
	stopWatch   func() bool
}

func NewClient(peerID models.PeerID, opts Options) P2PClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &client{
		peerID:      peerID,
		dialTimeout: opts.DialTimeout,
		idleTimeout: opts.IdleTimeout,
		log:         logger,
	}
}

func (c *client) Connect(ctx context.Context, address models.Addr) error {
	if c.conn != nil {
		return fmt.Errorf("already connected to %s", c.conn.RemoteAddr())
	}

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrIO, address, err)
	}

	c.conn = conn
	// a blocked read returns as soon as ctx is cancelled
	c.stopWatch = context.AfterFunc(ctx, func() { conn.Close() })
	c.log.Debug("connected to peer", slog.String("peer", address.String()))

	return nil
}

func (c *client) Connected() bool {
	return c.conn != nil
}

func (c *client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Handshake exchanges handshakes and checks the peer serves the same torrent.
func (c *client) Handshake(hash models.Hash) (Handshake, error) {
	if c.conn == nil {
		return Handshake{}, ErrNotConnected
	}

	c.armDeadline(c.conn.SetDeadline)
	resp, err := ExchangeHandshake(c.conn, NewHandshake(hash, c.peerID))
	if err != nil {
		return Handshake{}, c.classify(err)
	}

	if resp.InfoHash != hash {
		return resp, fmt.Errorf("%w: info hash mismatch: sent %s, got %s", ErrProtocolViolation, hash, resp.InfoHash)
	}

	c.log.Debug("handshake completed", slog.String("peer_id", resp.PeerID.String()))
	return resp, nil
}

// ReadMessage returns the next message, reading past keep-alives. Each frame
// must arrive within the idle timeout.
func (c *client) ReadMessage() (Message, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	for {
		c.armDeadline(c.conn.SetReadDeadline)
		msg, err := ReadMessage(c.conn)
		if err != nil {
			return nil, c.classify(err)
		}
		if msg == nil {
			c.log.Debug("keep-alive received")
			continue
		}
		c.log.Debug("received message", slog.String("type", msg.ID().String()))
		return msg, nil
	}
}

func (c *client) WriteMessage(msg Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.armDeadline(c.conn.SetWriteDeadline)
	if err := WriteMessage(c.conn, msg); err != nil {
		return c.classify(err)
	}
	c.log.Debug("sent message", slog.String("type", msg.ID().String()))
	return nil
}

func (c *client) armDeadline(set func(time.Time) error) {
	if c.idleTimeout > 0 {
		_ = set(time.Now().Add(c.idleTimeout))
	}
}

func (c *client) classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w after %s: %w", ErrIdleTimeout, c.idleTimeout, err)
	}
	return err
}
