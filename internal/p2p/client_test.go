package p2p

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen accepts a single connection on loopback and hands it to serve.
func listen(t *testing.T, serve func(conn net.Conn)) models.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}()

	tcp := ln.Addr().(*net.TCPAddr)
	return models.Addr{IP: tcp.IP, Port: uint16(tcp.Port)}
}

// answerHandshake reads the client's handshake and replies with infoHash.
func answerHandshake(conn net.Conn, infoHash models.Hash) bool {
	buf := make([]byte, HandshakeLength)
	if _, err := conn.Read(buf); err != nil {
		return false
	}
	var remote models.PeerID
	copy(remote[:], "-SD0001-seeder000000")
	_, err := conn.Write(NewHandshake(infoHash, remote).Bytes())
	return err == nil
}

func TestClientHandshake(t *testing.T) {
	want := testHandshake().InfoHash
	var other models.Hash
	copy(other[:], "ffffffffffffffffffff")

	var tests = []struct {
		name   string
		reply  models.Hash
		assert func(t *testing.T, resp Handshake, err error)
	}{
		{
			name:  "matching info hash",
			reply: want,
			assert: func(t *testing.T, resp Handshake, err error) {
				assert.Nil(t, err)
				assert.Equal(t, "-SD0001-seeder000000", string(resp.PeerID[:]))
			},
		},
		{
			name:  "different info hash is a protocol violation",
			reply: other,
			assert: func(t *testing.T, resp Handshake, err error) {
				assert.ErrorIs(t, err, ErrProtocolViolation)
				assert.ErrorContains(t, err, "info hash mismatch")
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			addr := listen(t, func(conn net.Conn) {
				answerHandshake(conn, tt.reply)
			})

			c := NewClient(testHandshake().PeerID, Options{DialTimeout: time.Second, IdleTimeout: time.Second})
			require.Nil(t, c.Connect(context.Background(), addr))
			defer c.Disconnect()

			resp, err := c.Handshake(want)
			tt.assert(t, resp, err)
		})
	}
}

func TestClientReadMessage(t *testing.T) {
	var tests = []struct {
		name   string
		serve  func(conn net.Conn)
		idle   time.Duration
		assert func(t *testing.T, msg Message, err error)
	}{
		{
			name: "keep-alives are skipped",
			serve: func(conn net.Conn) {
				_ = WriteKeepAlive(conn)
				_ = WriteKeepAlive(conn)
				_ = WriteMessage(conn, UnchokeMessage{})
				time.Sleep(100 * time.Millisecond)
			},
			idle: time.Second,
			assert: func(t *testing.T, msg Message, err error) {
				assert.Nil(t, err)
				assert.Equal(t, UnchokeMessage{}, msg)
			},
		},
		{
			name: "silent peer hits the idle timeout",
			serve: func(conn net.Conn) {
				time.Sleep(500 * time.Millisecond)
			},
			idle: 50 * time.Millisecond,
			assert: func(t *testing.T, msg Message, err error) {
				assert.Nil(t, msg)
				assert.ErrorIs(t, err, ErrIdleTimeout)
				assert.ErrorIs(t, err, ErrIO)
			},
		},
		{
			name: "closed connection is an i/o failure",
			serve: func(conn net.Conn) {
				conn.Close()
			},
			idle: time.Second,
			assert: func(t *testing.T, msg Message, err error) {
				assert.ErrorIs(t, err, ErrIO)
				assert.NotErrorIs(t, err, ErrIdleTimeout)
			},
		},
		{
			name: "unknown message id",
			serve: func(conn net.Conn) {
				_, _ = conn.Write([]byte{0, 0, 0, 1, 99})
				time.Sleep(100 * time.Millisecond)
			},
			idle: time.Second,
			assert: func(t *testing.T, msg Message, err error) {
				assert.ErrorIs(t, err, ErrProtocolViolation)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			addr := listen(t, tt.serve)

			c := NewClient(testHandshake().PeerID, Options{IdleTimeout: tt.idle})
			require.Nil(t, c.Connect(context.Background(), addr))
			defer c.Disconnect()

			msg, err := c.ReadMessage()
			tt.assert(t, msg, err)
		})
	}
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient(models.PeerID{}, Options{})

	assert.False(t, c.Connected())
	_, err := c.ReadMessage()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.WriteMessage(InterestedMessage{}), ErrNotConnected)
	_, err = c.Handshake(models.Hash{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, c.Disconnect())
}

func TestClientContextCancelUnblocksRead(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		time.Sleep(time.Second)
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(models.PeerID{}, Options{})
	require.Nil(t, c.Connect(ctx, addr))
	defer c.Disconnect()

	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := c.ReadMessage()
	assert.ErrorIs(t, err, ErrIO)
}
