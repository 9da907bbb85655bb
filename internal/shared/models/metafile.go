package models

import (
	"encoding/hex"
	"fmt"
)

type Metafile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         Info       `bencode:"info"`
	InfoHash     Hash       `bencode:"-"`
}

type Info struct {
	Name         string `bencode:"name"`
	Length       int    `bencode:"length"`
	PieceLength  int    `bencode:"piece length"`
	Pieces       string `bencode:"pieces"`
	PiecesHashes []Hash `bencode:"-"`
	Files        []File `bencode:"files,omitempty"`
}

type File struct {
	Length int      `bencode:"length"`
	Path   []string `bencode:"path"`
}

// TotalLength is the sum of all file lengths, or Length for a single-file torrent.
func (i Info) TotalLength() int {
	if len(i.Files) == 0 {
		return i.Length
	}
	total := 0
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}

func (i Info) NumPieces() int {
	return len(i.PiecesHashes)
}

// PieceSize returns the byte length of the piece at index. Every piece has
// PieceLength bytes except the last, which holds the remainder of the total
// length (or a full piece when the total is an exact multiple).
func (i Info) PieceSize(index int) (int, error) {
	if i.PieceLength <= 0 {
		return 0, fmt.Errorf("invalid piece length %d", i.PieceLength)
	}
	if index < 0 || index >= i.NumPieces() {
		return 0, fmt.Errorf("piece index %d out of range [0, %d)", index, i.NumPieces())
	}
	if index < i.NumPieces()-1 {
		return i.PieceLength, nil
	}
	rem := i.TotalLength() % i.PieceLength
	if rem == 0 {
		return i.PieceLength, nil
	}
	return rem, nil
}

// Piece builds the work item for the piece at index.
func (i Info) Piece(index int) (Piece, error) {
	size, err := i.PieceSize(index)
	if err != nil {
		return Piece{}, err
	}
	return Piece{Index: index, Length: size, Hash: i.PiecesHashes[index]}, nil
}

// Hash is a 20 byte SHA-1 digest: an info hash or a piece hash.
type Hash [20]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
