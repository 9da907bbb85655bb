package p2p

// Bitfield records which pieces a peer has. Bit i is set when the peer has
// piece i; the first byte holds pieces 0-7 from the high bit down.
type Bitfield []byte

func NewBitfield(numPieces int) Bitfield {
	return make(Bitfield, (numPieces+7)/8)
}

func (bf Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8
	if index < 0 || byteIndex >= len(bf) {
		return false
	}
	return bf[byteIndex]>>(7-uint(index%8))&1 == 1
}

// SetPiece marks index as present. It reports false, leaving the bitfield
// untouched, when index is outside it.
func (bf Bitfield) SetPiece(index int) bool {
	byteIndex := index / 8
	if index < 0 || byteIndex >= len(bf) {
		return false
	}
	bf[byteIndex] |= 1 << (7 - uint(index%8))
	return true
}

// Count returns the number of pieces present.
func (bf Bitfield) Count() int {
	n := 0
	for _, b := range bf {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}
