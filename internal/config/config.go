// Package config holds the runtime settings of the client.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WendelHime/btpeer/internal/shared/models"
	"github.com/go-viper/mapstructure/v2"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "BTPEER_"

type Config struct {
	// PeerID is the 20 byte id sent in handshakes and announces. A random one
	// is used when empty.
	PeerID string `mapstructure:"peer_id"`
	// Port is the port reported to trackers.
	Port uint16 `mapstructure:"port"`
	// MaxBacklog is the number of block requests kept in flight.
	MaxBacklog int `mapstructure:"max_backlog"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// IdleTimeout bounds the wait for every message from a peer.
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	TrackerTimeout time.Duration `mapstructure:"tracker_timeout"`
	// MaxPieceAttempts is how many times a piece is tried before giving up
	// on hash mismatches or chokes.
	MaxPieceAttempts int    `mapstructure:"max_piece_attempts"`
	LogLevel         string `mapstructure:"log_level"`
	// LogFile switches logging to JSON lines written to this file.
	LogFile string `mapstructure:"log_file"`
}

func Default() Config {
	return Config{
		Port:             6881,
		MaxBacklog:       5,
		DialTimeout:      5 * time.Second,
		IdleTimeout:      30 * time.Second,
		TrackerTimeout:   15 * time.Second,
		MaxPieceAttempts: 3,
		LogLevel:         "info",
	}
}

// FromEnv overlays BTPEER_* variables from environ (as returned by
// os.Environ) on the defaults. BTPEER_IDLE_TIMEOUT sets IdleTimeout.
func FromEnv(environ []string) (Config, error) {
	values := make(map[string]interface{})
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(key, EnvPrefix))] = value
	}

	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(values); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.PeerID != "" && len(c.PeerID) != len(models.PeerID{}) {
		errs = append(errs, fmt.Errorf("peer_id must be %d bytes, got %d", len(models.PeerID{}), len(c.PeerID)))
	}
	if c.MaxBacklog <= 0 {
		errs = append(errs, fmt.Errorf("max_backlog must be positive, got %d", c.MaxBacklog))
	}
	if c.MaxPieceAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max_piece_attempts must be positive, got %d", c.MaxPieceAttempts))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout))
	}
	if c.DialTimeout < 0 || c.TrackerTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClientPeerID returns the configured peer id, or a random one.
func (c Config) ClientPeerID() models.PeerID {
	if id, err := models.ParsePeerID(c.PeerID); err == nil {
		return id
	}
	return models.NewPeerID()
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
