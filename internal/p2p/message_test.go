package p2p

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var tests = []struct {
		name       string
		msg        Message
		payloadLen int
	}{
		{name: "choke", msg: ChokeMessage{}, payloadLen: 0},
		{name: "unchoke", msg: UnchokeMessage{}, payloadLen: 0},
		{name: "interested", msg: InterestedMessage{}, payloadLen: 0},
		{name: "not interested", msg: NotInterestedMessage{}, payloadLen: 0},
		{name: "have", msg: HaveMessage{Index: 0xdeadbeef}, payloadLen: 4},
		{name: "bitfield", msg: BitfieldMessage{Bitfield: Bitfield{0xff, 0x00, 0x81}}, payloadLen: 3},
		{name: "request", msg: RequestMessage{Index: 3, Begin: 16384, Length: 16384}, payloadLen: 12},
		{name: "piece", msg: PieceMessage{Index: 7, Begin: 32768, Block: []byte{0, 1, 2, 3, 254, 255}}, payloadLen: 14},
		{name: "cancel", msg: CancelMessage{Index: 1, Begin: 2, Length: 3}, payloadLen: 12},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.msg)

			require.Len(t, encoded, 4+1+tt.payloadLen)
			assert.Equal(t, uint32(1+tt.payloadLen), binary.BigEndian.Uint32(encoded))
			assert.Equal(t, byte(tt.msg.ID()), encoded[4])

			decoded, err := ReadMessage(bytes.NewReader(encoded))
			assert.Nil(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestEncodeRequestWireFormat(t *testing.T) {
	expected := []byte{
		0, 0, 0, 13, 6,
		0, 0, 0, 1,
		0, 0, 0x40, 0,
		0, 0, 0x40, 0,
	}
	assert.Equal(t, expected, Encode(RequestMessage{Index: 1, Begin: 16384, Length: 16384}))
}

func TestReadMessage(t *testing.T) {
	var tests = []struct {
		name   string
		input  []byte
		assert func(t *testing.T, actual Message, err error)
	}{
		{
			name:  "keep-alive yields no message",
			input: []byte{0, 0, 0, 0},
			assert: func(t *testing.T, actual Message, err error) {
				assert.Nil(t, err)
				assert.Nil(t, actual)
			},
		},
		{
			name:  "unknown message id is a protocol violation",
			input: []byte{0, 0, 0, 1, 20},
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrProtocolViolation)
				assert.ErrorContains(t, err, "unsupported message id 20")
			},
		},
		{
			name:  "have with a short payload is malformed",
			input: []byte{0, 0, 0, 3, 4, 0, 1},
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrFraming)
				assert.ErrorContains(t, err, "malformed have message")
			},
		},
		{
			name:  "choke with a payload is malformed",
			input: []byte{0, 0, 0, 2, 0, 9},
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrFraming)
			},
		},
		{
			name:  "request with 8 byte payload is malformed",
			input: []byte{0, 0, 0, 9, 6, 0, 0, 0, 1, 0, 0, 0, 2},
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrFraming)
			},
		},
		{
			name:  "piece without index and begin is malformed",
			input: []byte{0, 0, 0, 5, 7, 0, 0, 0, 1},
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrFraming)
			},
		},
		{
			name:  "oversized length prefix is rejected before reading",
			input: []byte{0xff, 0xff, 0xff, 0xff, 7},
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrFraming)
			},
		},
		{
			name:  "truncated body is an i/o failure",
			input: []byte{0, 0, 0, 5, 4, 0},
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrIO)
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
		{
			name:  "closed stream reports EOF",
			input: nil,
			assert: func(t *testing.T, actual Message, err error) {
				assert.ErrorIs(t, err, ErrIO)
				assert.ErrorIs(t, err, io.EOF)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			actual, err := ReadMessage(bytes.NewReader(tt.input))
			tt.assert(t, actual, err)
		})
	}
}

func TestReadMessageAfterKeepAlive(t *testing.T) {
	var buf bytes.Buffer
	require.Nil(t, WriteKeepAlive(&buf))
	require.Nil(t, WriteMessage(&buf, HaveMessage{Index: 4}))

	msg, err := ReadMessage(&buf)
	assert.Nil(t, err)
	assert.Nil(t, msg)

	msg, err = ReadMessage(&buf)
	assert.Nil(t, err)
	assert.Equal(t, HaveMessage{Index: 4}, msg)
}

func TestMessageIDString(t *testing.T) {
	assert.Equal(t, "piece", PieceMessage{}.ID().String())
	assert.Equal(t, "not_interested", NotInterestedMessage{}.ID().String())
	assert.Equal(t, "unknown(42)", models.MessageID(42).String())
}
