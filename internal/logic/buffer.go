package logic

import (
	"fmt"

	"github.com/WendelHime/btpeer/internal/p2p"
)

// PieceBuffer assembles the blocks of one piece by offset. Blocks may arrive
// in any order; each planned block is accepted exactly once.
type PieceBuffer struct {
	data    []byte
	lengths map[int]int
	filled  map[int]bool
}

func NewPieceBuffer(plan BlockPlan) *PieceBuffer {
	lengths := make(map[int]int, len(plan))
	for _, b := range plan {
		lengths[b.Begin] = b.Length
	}
	return &PieceBuffer{
		data:    make([]byte, plan.Length()),
		lengths: lengths,
		filled:  make(map[int]bool, len(plan)),
	}
}

// Put copies block into the buffer at begin.
func (b *PieceBuffer) Put(begin int, block []byte) error {
	want, ok := b.lengths[begin]
	if !ok {
		return fmt.Errorf("%w: block offset %d is not in the plan", p2p.ErrProtocolViolation, begin)
	}
	if len(block) != want {
		return fmt.Errorf("%w: block at offset %d is %d bytes, want %d", p2p.ErrProtocolViolation, begin, len(block), want)
	}
	if b.filled[begin] {
		return fmt.Errorf("%w: duplicate block at offset %d", p2p.ErrProtocolViolation, begin)
	}

	copy(b.data[begin:], block)
	b.filled[begin] = true
	return nil
}

func (b *PieceBuffer) Has(begin int) bool {
	return b.filled[begin]
}

// Complete reports whether every planned block has been received.
func (b *PieceBuffer) Complete() bool {
	return len(b.filled) == len(b.lengths)
}

// Bytes returns the assembled piece. It is only meaningful once Complete.
func (b *PieceBuffer) Bytes() []byte {
	return b.data
}
