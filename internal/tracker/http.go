package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/jackpal/bencode-go"
)

type HTTPGetter struct {
	client *http.Client
	peerID models.PeerID
	port   uint16
}

func NewHTTPGetter(client *http.Client, peerID models.PeerID, port uint16) PeersGetter {
	return &HTTPGetter{client: client, peerID: peerID, port: port}
}

func (h *HTTPGetter) GetPeers(ctx context.Context, announce string, metafile models.Metafile) ([]models.Addr, error) {
	tracker, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}

	query := tracker.Query()
	query.Add("info_hash", string(metafile.InfoHash[:]))
	query.Add("peer_id", string(h.peerID[:]))
	query.Add("port", strconv.Itoa(int(h.port)))
	query.Add("uploaded", "0")
	query.Add("downloaded", "0")
	query.Add("left", strconv.Itoa(metafile.Info.TotalLength()))
	query.Add("compact", "1")
	query.Add("event", "started")
	tracker.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tracker.String(), nil)
	if err != nil {
		return nil, err
	}
	response, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http error: %s", ErrTrackerFailure, response.Status)
	}

	return decodeHTTPResponse(response.Body)
}

func decodeHTTPResponse(response io.Reader) ([]models.Addr, error) {
	resp := peersResponse{}
	if err := bencode.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if resp.FailureReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, resp.FailureReason)
	}

	return decodeCompactPeers([]byte(resp.Peers))
}
