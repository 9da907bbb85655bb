package logic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/WendelHime/btpeer/internal/config"
	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/WendelHime/btpeer/internal/storage"
	"github.com/WendelHime/btpeer/internal/tracker"
)

var ErrNoPeers = errors.New("no peers found")

type Downloader interface {
	// Download fetches every piece into outputDir.
	Download(ctx context.Context, metafile io.Reader, outputDir string) error
	// DownloadPiece fetches a single piece into outputPath.
	DownloadPiece(ctx context.Context, metafile io.Reader, index int, outputPath string) error
	// Peers lists the candidate peers for meta, in the order they are tried.
	Peers(ctx context.Context, meta models.Metafile) ([]models.Addr, error)
}

type downloader struct {
	peerID   models.PeerID
	d        decoder.MetafileDecoder
	cfg      config.Config
	log      *slog.Logger
	peer     *models.Addr
	progress io.Writer
}

type Option func(*downloader)

// WithPeer skips the trackers and downloads from addr.
func WithPeer(addr models.Addr) Option {
	return func(d *downloader) { d.peer = &addr }
}

// WithProgressOutput renders a progress bar to w.
func WithProgressOutput(w io.Writer) Option {
	return func(d *downloader) { d.progress = w }
}

func NewDownloader(d decoder.MetafileDecoder, cfg config.Config, logger *slog.Logger, opts ...Option) Downloader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dl := &downloader{
		peerID:   cfg.ClientPeerID(),
		d:        d,
		cfg:      cfg,
		log:      logger,
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(dl)
	}
	return dl
}

func (d *downloader) Download(ctx context.Context, metafile io.Reader, outputDir string) error {
	d.log.Info("creating output directory", slog.String("output_dir", outputDir))
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	d.log.Info("decoding metafile")
	meta, err := d.d.Decode(metafile)
	if err != nil {
		return err
	}

	store, err := storage.NewFileStorage(meta.Info, outputDir)
	if err != nil {
		return err
	}

	indexes := make([]int, meta.Info.NumPieces())
	for i := range indexes {
		indexes[i] = i
	}
	return d.fetch(ctx, meta, indexes, store)
}

func (d *downloader) DownloadPiece(ctx context.Context, metafile io.Reader, index int, outputPath string) error {
	meta, err := d.d.Decode(metafile)
	if err != nil {
		return err
	}
	if _, err := meta.Info.PieceSize(index); err != nil {
		return err
	}

	return d.fetch(ctx, meta, []int{index}, storage.PieceFile{Path: outputPath})
}

// fetch downloads indexes from the first peer that accepts our handshake.
func (d *downloader) fetch(ctx context.Context, meta models.Metafile, indexes []int, store storage.Storage) error {
	peers, err := d.Peers(ctx, meta)
	if err != nil {
		return err
	}

	var errs []error
	for _, addr := range peers {
		client := p2p.NewClient(d.peerID, p2p.Options{
			DialTimeout: d.cfg.DialTimeout,
			IdleTimeout: d.cfg.IdleTimeout,
			Logger:      d.log,
		})
		session := NewSession(client, meta, d.cfg, d.log, WithSessionProgress(d.progress))
		if _, err := session.Open(ctx, addr); err != nil {
			d.log.Warn("peer unreachable", slog.String("peer", addr.String()), slog.Any("error", err))
			errs = append(errs, err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		err := session.Fetch(ctx, indexes, store)
		session.Close()
		return err
	}

	return fmt.Errorf("%w: none of %d peers reachable: %w", ErrNoPeers, len(peers), errors.Join(errs...))
}

func (d *downloader) Peers(ctx context.Context, meta models.Metafile) ([]models.Addr, error) {
	if d.peer != nil {
		return []models.Addr{*d.peer}, nil
	}

	peers := d.retrievePeers(ctx, meta)

	seen := make(map[string]struct{})
	unique := make([]models.Addr, 0, len(peers))
	for _, peer := range peers {
		if peer.IP.IsUnspecified() || peer.Port == 0 {
			continue
		}
		addr := peer.String()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		unique = append(unique, peer)
	}

	if len(unique) == 0 {
		return nil, ErrNoPeers
	}
	return unique, nil
}

// retrievePeers announces to the main tracker and every tier of the
// announce list at once. Peers from the main tracker come first.
func (d *downloader) retrievePeers(ctx context.Context, meta models.Metafile) []models.Addr {
	announces := []string{meta.Announce}
	for _, tier := range meta.AnnounceList {
		for _, announce := range tier {
			if announce != meta.Announce {
				announces = append(announces, announce)
			}
		}
	}

	results := make([][]models.Addr, len(announces))
	var wg sync.WaitGroup
	for i, announce := range announces {
		if announce == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.log.Info("retrieving peers from tracker", slog.String("announce", announce))
			t := tracker.NewTracker(announce, d.peerID, tracker.Options{
				Port:    d.cfg.Port,
				Timeout: d.cfg.TrackerTimeout,
				Logger:  d.log,
			})
			p, err := t.GetPeers(ctx, meta)
			if err != nil {
				d.log.Warn("failed to get peers", slog.String("announce", announce), slog.Any("error", err))
				return
			}
			results[i] = p
		}()
	}
	wg.Wait()

	var peers []models.Addr
	for _, p := range results {
		peers = append(peers, p...)
	}
	d.log.Info("retrieved peers", slog.Int("peers", len(peers)))
	return peers
}
