package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitfield(t *testing.T) {
	bf := Bitfield{0b10100000, 0b00000001}

	assert.True(t, bf.HasPiece(0))
	assert.False(t, bf.HasPiece(1))
	assert.True(t, bf.HasPiece(2))
	assert.True(t, bf.HasPiece(15))
	assert.False(t, bf.HasPiece(16))
	assert.False(t, bf.HasPiece(-1))
	assert.Equal(t, 3, bf.Count())
}

func TestBitfieldSetPiece(t *testing.T) {
	bf := NewBitfield(10)
	assert.Len(t, bf, 2)

	assert.True(t, bf.SetPiece(9))
	assert.True(t, bf.HasPiece(9))
	assert.Equal(t, Bitfield{0x00, 0x40}, bf)

	assert.False(t, bf.SetPiece(16))
	assert.False(t, bf.SetPiece(0xffffffff))
	assert.False(t, bf.SetPiece(-1))
	assert.Len(t, bf, 2)
	assert.Equal(t, 1, bf.Count())
}
