package p2p

import "errors"

// Error kinds reported by the peer connection. Callers classify failures
// with errors.Is; the wrapped message carries the details.
var (
	// ErrIO covers connection resets and failed reads or writes.
	ErrIO = errors.New("peer i/o failure")
	// ErrFraming reports a malformed handshake or message frame.
	ErrFraming = errors.New("framing error")
	// ErrProtocolViolation reports a well formed message the peer should not have sent.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrIdleTimeout reports a peer that sent nothing within the idle timeout.
	ErrIdleTimeout = errors.New("peer idle timeout")
	// ErrNotConnected reports use of a client before Connect or after Disconnect.
	ErrNotConnected = errors.New("not connected")
)
