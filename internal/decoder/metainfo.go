package decoder

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/zeebo/bencode"
)

var (
	ErrInvalidPieces      = errors.New("pieces length is not a multiple of 20")
	ErrInvalidPieceLength = errors.New("piece length must be positive")
	ErrInvalidLayout      = errors.New("info must have either length or files")
)

type MetafileDecoder interface {
	Decode(io.Reader) (models.Metafile, error)
}

type decoder struct{}

func NewDecoder() MetafileDecoder {
	return decoder{}
}

// serialization struct the represents the structure of a .torrent file
// it is not immediately usable, so it can be converted to a Metafile struct
type bencodeTorrent struct {
	// URL of tracker server to get peers from
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	// Info is parsed as a RawMessage to ensure that the final info_hash is
	// correct even in the case of the info dictionary being an unexpected shape
	Info bencode.RawMessage `bencode:"info"`
}

func (decoder) Decode(torrent io.Reader) (models.Metafile, error) {
	var response models.Metafile
	var bt bencodeTorrent
	err := bencode.NewDecoder(torrent).Decode(&bt)
	if err != nil {
		return response, fmt.Errorf("decode torrent: %w", err)
	}
	if len(bt.Info) == 0 {
		return response, errors.New("decode torrent: missing info dictionary")
	}

	response.Announce = bt.Announce
	response.AnnounceList = bt.AnnounceList
	response.InfoHash = calculateInfoHash(bt.Info)
	err = bencode.NewDecoder(strings.NewReader(string(bt.Info))).Decode(&response.Info)
	if err != nil {
		return response, fmt.Errorf("decode torrent info: %w", err)
	}

	if response.Info.PieceLength <= 0 {
		return response, ErrInvalidPieceLength
	}
	if (response.Info.Length > 0) == (len(response.Info.Files) > 0) {
		return response, ErrInvalidLayout
	}

	response.Info.PiecesHashes, err = calculatePiecesHashes(response.Info.Pieces)
	if err != nil {
		return response, err
	}

	return response, nil
}

func calculateInfoHash(info []byte) models.Hash {
	return sha1.Sum(info)
}

func calculatePiecesHashes(pieces string) ([]models.Hash, error) {
	if len(pieces)%20 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPieces, len(pieces))
	}

	piecesHashes := make([]models.Hash, 0, len(pieces)/20)
	for i := 0; i < len(pieces); i += 20 {
		var h models.Hash
		copy(h[:], pieces[i:i+20])
		piecesHashes = append(piecesHashes, h)
	}

	return piecesHashes, nil
}
