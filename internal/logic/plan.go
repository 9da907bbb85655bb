package logic

import "github.com/WendelHime/btpeer/internal/shared/models"

// BlockSize is the length of every requested block except possibly the last
// block of a piece.
const BlockSize = 16 * 1024

// BlockPlan lists the blocks of one piece in ascending offset order. The
// blocks are contiguous and their lengths add up to the piece length.
type BlockPlan []models.Block

// PlanBlocks splits a piece into blockSize blocks, the last one holding the
// remainder.
func PlanBlocks(pieceLength, blockSize int) BlockPlan {
	if pieceLength <= 0 || blockSize <= 0 {
		return nil
	}
	plan := make(BlockPlan, 0, (pieceLength+blockSize-1)/blockSize)
	for begin := 0; begin < pieceLength; begin += blockSize {
		plan = append(plan, models.Block{Begin: begin, Length: min(blockSize, pieceLength-begin)})
	}
	return plan
}

// Length is the piece length the plan covers.
func (p BlockPlan) Length() int {
	if len(p) == 0 {
		return 0
	}
	last := p[len(p)-1]
	return last.Begin + last.Length
}
