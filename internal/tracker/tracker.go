package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported tracker scheme")
	// ErrTrackerFailure reports an announce the tracker answered with an error.
	ErrTrackerFailure  = errors.New("tracker failure")
	ErrInvalidResponse = errors.New("invalid tracker response")
)

type Tracker interface {
	GetPeers(ctx context.Context, metafile models.Metafile) ([]models.Addr, error)
	WithHTTPClient(client *http.Client) Tracker
}

type PeersGetter interface {
	GetPeers(ctx context.Context, announce string, metafile models.Metafile) ([]models.Addr, error)
}

type Options struct {
	// Port is the listening port reported to the tracker.
	Port    uint16
	Timeout time.Duration
	Logger  *slog.Logger
}

type tracker struct {
	AnnounceURL string
	PeerID      models.PeerID
	Port        uint16
	HTTPClient  PeersGetter
	UDPClient   PeersGetter
	log         *slog.Logger
}

func NewTracker(announceURL string, peerID models.PeerID, opts Options) Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &tracker{
		AnnounceURL: announceURL,
		PeerID:      peerID,
		Port:        opts.Port,
		HTTPClient:  NewHTTPGetter(&http.Client{Timeout: timeout}, peerID, opts.Port),
		UDPClient:   NewUDPGetter(peerID, opts.Port, timeout),
		log:         logger,
	}
}

func (t *tracker) WithHTTPClient(client *http.Client) Tracker {
	t.HTTPClient = NewHTTPGetter(client, t.PeerID, t.Port)
	return t
}

type peersResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

func (t *tracker) GetPeers(ctx context.Context, metafile models.Metafile) ([]models.Addr, error) {
	if t.AnnounceURL == "" {
		return nil, fmt.Errorf("announce url is empty")
	}

	t.log.Debug("announcing", slog.String("announce", t.AnnounceURL))
	switch {
	case strings.HasPrefix(t.AnnounceURL, "http"):
		return t.HTTPClient.GetPeers(ctx, t.AnnounceURL, metafile)
	case strings.HasPrefix(t.AnnounceURL, "udp"):
		return t.UDPClient.GetPeers(ctx, t.AnnounceURL, metafile)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, t.AnnounceURL)
	}
}

// decodeCompactPeers splits the compact peer list: 4 byte IPv4 address and
// 2 byte port per peer.
func decodeCompactPeers(peers []byte) ([]models.Addr, error) {
	if len(peers)%6 != 0 {
		return nil, fmt.Errorf("%w: compact peer list of %d bytes", ErrInvalidResponse, len(peers))
	}

	addrs := make([]models.Addr, 0, len(peers)/6)
	for i := 0; i < len(peers); i += 6 {
		var addr models.Addr
		if err := addr.ReadFromBytes(peers[i : i+6]); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
