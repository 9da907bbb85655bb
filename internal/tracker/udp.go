package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"time"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

// UDP tracker protocol, BEP 15.
const (
	protocolID = 0x41727101980

	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	eventStarted = 2
	numWant      = 100
)

type UDPGetter struct {
	peerID  models.PeerID
	port    uint16
	timeout time.Duration
}

func NewUDPGetter(peerID models.PeerID, port uint16, timeout time.Duration) PeersGetter {
	return UDPGetter{peerID: peerID, port: port, timeout: timeout}
}

func (u UDPGetter) GetPeers(ctx context.Context, announce string, metafile models.Metafile) ([]models.Addr, error) {
	tracker, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", tracker.Host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(u.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	connectionID, err := u.connect(conn)
	if err != nil {
		return nil, err
	}

	transactionID := rand.Uint32()
	buf := make([]byte, 98)
	binary.BigEndian.PutUint64(buf[0:8], connectionID)
	binary.BigEndian.PutUint32(buf[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	copy(buf[16:36], metafile.InfoHash[:])
	copy(buf[36:56], u.peerID[:])
	binary.BigEndian.PutUint64(buf[56:64], 0) // downloaded
	binary.BigEndian.PutUint64(buf[64:72], uint64(metafile.Info.TotalLength()))
	binary.BigEndian.PutUint64(buf[72:80], 0) // uploaded
	binary.BigEndian.PutUint32(buf[80:84], eventStarted)
	binary.BigEndian.PutUint32(buf[84:88], 0) // ip: use the sender's
	binary.BigEndian.PutUint32(buf[88:92], rand.Uint32())
	binary.BigEndian.PutUint32(buf[92:96], numWant)
	binary.BigEndian.PutUint16(buf[96:98], u.port)

	resp, err := roundTrip(conn, buf, transactionID, 20+numWant*6)
	if err != nil {
		return nil, err
	}
	if len(resp) < 20 {
		return nil, fmt.Errorf("%w: announce response is %d bytes", ErrInvalidResponse, len(resp))
	}
	if action := binary.BigEndian.Uint32(resp[0:4]); action != actionAnnounce {
		return nil, fmt.Errorf("%w: announce answered with action %d", ErrInvalidResponse, action)
	}

	return decodeCompactPeers(resp[20:])
}

func (u UDPGetter) connect(conn net.Conn) (uint64, error) {
	transactionID := rand.Uint32()
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], protocolID)
	binary.BigEndian.PutUint32(buf[8:12], actionConnect)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)

	resp, err := roundTrip(conn, buf, transactionID, 16)
	if err != nil {
		return 0, err
	}
	if len(resp) < 16 || binary.BigEndian.Uint32(resp[0:4]) != actionConnect {
		return 0, fmt.Errorf("%w: bad connect response", ErrInvalidResponse)
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

// roundTrip sends one datagram and reads the reply carrying transactionID.
func roundTrip(conn net.Conn, req []byte, transactionID uint32, size int) ([]byte, error) {
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	resp := buf[:n]
	if len(resp) < 8 {
		return nil, fmt.Errorf("%w: %d byte datagram", ErrInvalidResponse, len(resp))
	}
	if got := binary.BigEndian.Uint32(resp[4:8]); got != transactionID {
		return nil, fmt.Errorf("%w: transaction id %d, want %d", ErrInvalidResponse, got, transactionID)
	}
	if binary.BigEndian.Uint32(resp[0:4]) == actionError {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, resp[8:])
	}
	return resp, nil
}
