package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Addr is the IPv4 address and port of a remote peer.
type Addr struct {
	IP   net.IP
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

var ErrInvalidAddr = errors.New("invalid address")

// ReadFromBytes decodes the 6 byte compact form used by trackers.
func (a *Addr) ReadFromBytes(b []byte) error {
	if len(b) != 6 {
		return ErrInvalidAddr
	}

	a.IP = net.IPv4(b[0], b[1], b[2], b[3])
	a.Port = binary.BigEndian.Uint16(b[4:])

	return nil
}

// ParseAddr parses an "ip:port" pair. Only IPv4 addresses are accepted.
func ParseAddr(s string) (Addr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %w", ErrInvalidAddr, err)
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return Addr{}, fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidAddr, host)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: port %q: %w", ErrInvalidAddr, port, err)
	}
	return Addr{IP: ip, Port: uint16(p)}, nil
}
