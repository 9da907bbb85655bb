package models

// Block is a span of a piece: the unit requested over the wire.
type Block struct {
	Begin  int
	Length int
}

// Piece describes one piece to fetch and the hash it must match.
type Piece struct {
	Index  int
	Length int
	Hash   Hash
}
