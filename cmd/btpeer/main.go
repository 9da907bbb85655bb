package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/WendelHime/btpeer/internal/config"
	"github.com/WendelHime/btpeer/internal/decoder"
	"github.com/WendelHime/btpeer/internal/logic"
	"github.com/WendelHime/btpeer/internal/p2p"
	"github.com/WendelHime/btpeer/internal/shared/models"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

const usage = `usage: btpeer <command> [arguments]

commands:
  decode <bencoded value>
  info <torrent>
  peers <torrent>
  handshake <torrent> <ip:port>
  download_piece -o <output file> [-peer ip:port] <torrent> <piece index>
  download -o <output dir> [-peer ip:port] <torrent>
`

var errUsage = errors.New("invalid arguments")

func main() {
	cfg, err := config.FromEnv(os.Environ())
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, os.Args[1:], cfg, logger, os.Stdout)
	stop()
	if err != nil {
		logger.Error("command failed", slog.Any("error", err))
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

// newLogger writes JSON lines to cfg.LogFile when set, and colored console
// output through zap otherwise.
func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}

	if cfg.LogFile != "" {
		logOut, err := os.Create(cfg.LogFile)
		if err != nil {
			return nil, nil, err
		}
		logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
		return logger, func() { logOut.Close() }, nil
	}

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel(level))
	zl, err := zapConfig.Build()
	if err != nil {
		return nil, nil, err
	}
	return slog.New(zapslog.NewHandler(zl.Core())), func() { _ = zl.Sync() }, nil
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level <= slog.LevelDebug:
		return zapcore.DebugLevel
	case level < slog.LevelWarn:
		return zapcore.InfoLevel
	case level < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func run(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	command, args := args[0], args[1:]
	switch command {
	case "decode":
		return handleDecode(args, stdout)
	case "info":
		return handleInfo(args, stdout)
	case "peers":
		return handlePeers(ctx, args, cfg, logger, stdout)
	case "handshake":
		return handleHandshake(ctx, args, cfg, logger, stdout)
	case "download_piece":
		return handleDownloadPiece(ctx, args, cfg, logger)
	case "download":
		return handleDownload(ctx, args, cfg, logger)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func handleDecode(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: decode takes one bencoded value", errUsage)
	}
	value, err := decoder.DecodeString(args[0])
	if err != nil {
		return err
	}
	out, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}

func readMetafile(path string) (models.Metafile, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Metafile{}, err
	}
	defer f.Close()
	return decoder.NewDecoder().Decode(f)
}

func handleInfo(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: info takes a torrent path", errUsage)
	}
	meta, err := readMetafile(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Tracker URL: %s\n", meta.Announce)
	fmt.Fprintf(stdout, "Length: %d\n", meta.Info.TotalLength())
	fmt.Fprintf(stdout, "Info Hash: %s\n", meta.InfoHash)
	fmt.Fprintf(stdout, "Piece Length: %d\n", meta.Info.PieceLength)
	fmt.Fprintln(stdout, "Piece Hashes:")
	for _, h := range meta.Info.PiecesHashes {
		fmt.Fprintln(stdout, h)
	}
	return nil
}

func handlePeers(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: peers takes a torrent path", errUsage)
	}
	meta, err := readMetafile(args[0])
	if err != nil {
		return err
	}

	peers, err := logic.NewDownloader(decoder.NewDecoder(), cfg, logger).Peers(ctx, meta)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		fmt.Fprintln(stdout, peer)
	}
	return nil
}

func handleHandshake(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger, stdout io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: handshake takes a torrent path and a peer address", errUsage)
	}
	meta, err := readMetafile(args[0])
	if err != nil {
		return err
	}
	addr, err := models.ParseAddr(args[1])
	if err != nil {
		return err
	}

	client := p2p.NewClient(cfg.ClientPeerID(), p2p.Options{
		DialTimeout: cfg.DialTimeout,
		IdleTimeout: cfg.IdleTimeout,
		Logger:      logger,
	})
	session := logic.NewSession(client, meta, cfg, logger)
	remote, err := session.Open(ctx, addr)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintf(stdout, "Peer ID: %s\n", remote.PeerID)
	return nil
}

// downloadFlags parses the flags shared by both download commands.
func downloadFlags(name string, args []string) (output string, opts []logic.Option, rest []string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&output, "o", "", "output path")
	peer := fs.String("peer", "", "download from this peer instead of asking the trackers")
	if err := fs.Parse(args); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if output == "" {
		return "", nil, nil, fmt.Errorf("%w: -o is required", errUsage)
	}

	opts = append(opts, logic.WithProgressOutput(os.Stderr))
	if *peer != "" {
		addr, err := models.ParseAddr(*peer)
		if err != nil {
			return "", nil, nil, err
		}
		opts = append(opts, logic.WithPeer(addr))
	}
	return output, opts, fs.Args(), nil
}

func handleDownloadPiece(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger) error {
	output, opts, rest, err := downloadFlags("download_piece", args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("%w: download_piece takes a torrent path and a piece index", errUsage)
	}
	index, err := strconv.Atoi(rest[1])
	if err != nil {
		return fmt.Errorf("%w: piece index %q", errUsage, rest[1])
	}

	f, err := os.Open(rest[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := logic.NewDownloader(decoder.NewDecoder(), cfg, logger, opts...).DownloadPiece(ctx, f, index, output); err != nil {
		return err
	}
	logger.Info("piece downloaded", slog.Int("piece", index), slog.String("output", output))
	return nil
}

func handleDownload(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger) error {
	output, opts, rest, err := downloadFlags("download", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("%w: download takes a torrent path", errUsage)
	}

	f, err := os.Open(rest[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := logic.NewDownloader(decoder.NewDecoder(), cfg, logger, opts...).Download(ctx, f, output); err != nil {
		return err
	}
	logger.Info("download completed", slog.String("output_dir", output))
	return nil
}
