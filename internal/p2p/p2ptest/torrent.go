package p2ptest

import (
	"github.com/zeebo/bencode"
)

// Torrent encodes a single-file .torrent for content.
func Torrent(announce, name string, content []byte, pieceLength int) ([]byte, error) {
	var pieces []byte
	for _, h := range Hashes(Pieces(content, pieceLength)) {
		pieces = append(pieces, h[:]...)
	}

	return bencode.EncodeBytes(map[string]interface{}{
		"announce": announce,
		"info": map[string]interface{}{
			"name":         name,
			"length":       len(content),
			"piece length": pieceLength,
			"pieces":       string(pieces),
		},
	})
}

// Content returns n bytes of a repeating, non-trivial pattern.
func Content(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}
	return content
}
