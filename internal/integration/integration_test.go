package integration

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WendelHime/btpeer/internal/config"
	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/logic"
	"github.com/WendelHime/btpeer/internal/p2p/p2ptest"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/cucumber/godog"
	"github.com/jackpal/bencode-go"
)

var behaviors = map[string][]p2ptest.Option{
	"answers blocks in reverse":     {p2ptest.WithReversedBatches()},
	"sends no bitfield":             {p2ptest.WithoutBitfield()},
	"sends keep-alives":             {p2ptest.WithKeepAlives()},
	"chokes once mid-transfer":      {p2ptest.WithChokeAfter(2)},
	"corrupts the first piece once": {p2ptest.WithCorruptPiece(0, 1)},
	"stalls after the handshake":    {p2ptest.WithStall()},
	"always corrupts a piece":       {p2ptest.WithCorruptPiece(1, -1)},
	"misaligns a block":             {p2ptest.WithMisalignedBlock()},
	"serves another torrent":        {p2ptest.WithInfoHash(models.Hash{0xff})},
}

type IntegrationTest struct {
	t           *testing.T
	outputDir   string
	content     []byte
	pieceLength int
	torrent     []byte
	meta        models.Metafile
	peer        *models.Addr
	err         error
}

func (i *IntegrationTest) aTorrentOfBytesSplitIntoBytePieces(size, pieceLength int) error {
	i.content = p2ptest.Content(size)
	i.pieceLength = pieceLength
	return i.buildTorrent("")
}

func (i *IntegrationTest) buildTorrent(announce string) error {
	raw, err := p2ptest.Torrent(announce, "sample.txt", i.content, i.pieceLength)
	if err != nil {
		return err
	}
	i.torrent = raw
	i.meta, err = decoder.NewDecoder().Decode(bytes.NewReader(raw))
	return err
}

func (i *IntegrationTest) aSeedingPeerAnnouncedByTheTracker() error {
	seeder := p2ptest.NewSeeder(i.t, i.meta.InfoHash, p2ptest.Pieces(i.content, i.pieceLength))

	addr := seeder.Addr()
	peers := binary.BigEndian.AppendUint16(append([]byte(nil), addr.IP.To4()...), addr.Port)
	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = bencode.Marshal(w, map[string]interface{}{"interval": 1800, "peers": string(peers)})
	}))
	i.t.Cleanup(tracker.Close)

	return i.buildTorrent(tracker.URL + "/announce")
}

func (i *IntegrationTest) aSeedingPeerThat(behavior string) error {
	opts, ok := behaviors[behavior]
	if !ok {
		return fmt.Errorf("unknown behavior %q", behavior)
	}
	seeder := p2ptest.NewSeeder(i.t, i.meta.InfoHash, p2ptest.Pieces(i.content, i.pieceLength), opts...)
	addr := seeder.Addr()
	i.peer = &addr
	return nil
}

func (i *IntegrationTest) downloader() logic.Downloader {
	cfg := config.Default()
	cfg.DialTimeout = time.Second
	cfg.IdleTimeout = 500 * time.Millisecond

	var opts []logic.Option
	if i.peer != nil {
		opts = append(opts, logic.WithPeer(*i.peer))
	}
	return logic.NewDownloader(decoder.NewDecoder(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func (i *IntegrationTest) iDownloadTheFile() error {
	i.err = i.downloader().Download(context.Background(), bytes.NewReader(i.torrent), i.outputDir)
	return nil
}

func (i *IntegrationTest) iDownloadPiece(index int) error {
	i.err = i.downloader().DownloadPiece(context.Background(), bytes.NewReader(i.torrent), index, filepath.Join(i.outputDir, "piece"))
	return nil
}

func (i *IntegrationTest) theOutputShouldMatchTheOriginalContent() error {
	if i.err != nil {
		return i.err
	}
	output, err := os.ReadFile(filepath.Join(i.outputDir, "sample.txt"))
	if err != nil {
		return err
	}
	if !bytes.Equal(output, i.content) {
		return fmt.Errorf("output differs from the original content")
	}
	return nil
}

func (i *IntegrationTest) thePieceShouldMatchPieceOfTheOriginalContent(index int) error {
	if i.err != nil {
		return i.err
	}
	output, err := os.ReadFile(filepath.Join(i.outputDir, "piece"))
	if err != nil {
		return err
	}
	if want := p2ptest.Pieces(i.content, i.pieceLength)[index]; !bytes.Equal(output, want) {
		return fmt.Errorf("piece %d differs: got %d bytes, want %d", index, len(output), len(want))
	}
	return nil
}

func (i *IntegrationTest) theDownloadShouldFailWith(message string) error {
	if i.err == nil {
		return fmt.Errorf("download succeeded, want failure %q", message)
	}
	if !strings.Contains(i.err.Error(), message) {
		return fmt.Errorf("download failed with %q, want %q", i.err, message)
	}
	return nil
}

func initializeScenario(t *testing.T) func(ctx *godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		i := &IntegrationTest{t: t, outputDir: t.TempDir()}
		ctx.Step(`^a torrent of (\d+) bytes split into (\d+) byte pieces$`, i.aTorrentOfBytesSplitIntoBytePieces)
		ctx.Step(`^a seeding peer announced by the tracker$`, i.aSeedingPeerAnnouncedByTheTracker)
		ctx.Step(`^a seeding peer that (.+)$`, i.aSeedingPeerThat)
		ctx.Step(`^I download the file$`, i.iDownloadTheFile)
		ctx.Step(`^I download piece (\d+)$`, i.iDownloadPiece)
		ctx.Step(`^the output should match the original content$`, i.theOutputShouldMatchTheOriginalContent)
		ctx.Step(`^the piece should match piece (\d+) of the original content$`, i.thePieceShouldMatchPieceOfTheOriginalContent)
		ctx.Step(`^the download should fail with "([^"]*)"$`, i.theDownloadShouldFailWith)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t, // Testing instance that will run subtests.
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
