package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PeerID identifies a client on the wire.
type PeerID [20]byte

func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// ParsePeerID accepts exactly 20 raw bytes.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	if len(s) != len(id) {
		return id, fmt.Errorf("peer id must be %d bytes, got %d", len(id), len(s))
	}
	copy(id[:], s)
	return id, nil
}

// NewPeerID returns a random peer id made of alphanumeric characters.
func NewPeerID() PeerID {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	var id PeerID
	// crypto/rand never fails on supported platforms
	_, _ = rand.Read(id[:])
	for i := range id {
		id[i] = charset[int(id[i])%len(charset)]
	}

	return id
}
