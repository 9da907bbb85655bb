package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv(t *testing.T) {
	var tests = []struct {
		name    string
		environ []string
		assert  func(t *testing.T, cfg Config, err error)
	}{
		{
			name:    "defaults when nothing is set",
			environ: []string{"HOME=/root", "PATH=/usr/bin"},
			assert: func(t *testing.T, cfg Config, err error) {
				assert.Nil(t, err)
				assert.Equal(t, Default(), cfg)
				assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
				assert.Equal(t, 5, cfg.MaxBacklog)
			},
		},
		{
			name: "overrides from prefixed variables",
			environ: []string{
				"BTPEER_IDLE_TIMEOUT=1m30s",
				"BTPEER_MAX_BACKLOG=10",
				"BTPEER_PORT=51413",
				"BTPEER_PEER_ID=-BT0001-abcdefghijkl",
				"BTPEER_LOG_LEVEL=debug",
				"BTPEER_LOG_FILE=/tmp/btpeer.log",
			},
			assert: func(t *testing.T, cfg Config, err error) {
				assert.Nil(t, err)
				assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
				assert.Equal(t, 10, cfg.MaxBacklog)
				assert.Equal(t, uint16(51413), cfg.Port)
				id := cfg.ClientPeerID()
				assert.Equal(t, "-BT0001-abcdefghijkl", string(id[:]))
				assert.Equal(t, "/tmp/btpeer.log", cfg.LogFile)
				level, _ := cfg.Level()
				assert.Equal(t, slog.LevelDebug, level)
			},
		},
		{
			name:    "unknown variable",
			environ: []string{"BTPEER_BACKLOG=3"},
			assert: func(t *testing.T, cfg Config, err error) {
				assert.ErrorContains(t, err, "backlog")
			},
		},
		{
			name:    "malformed duration",
			environ: []string{"BTPEER_DIAL_TIMEOUT=soon"},
			assert: func(t *testing.T, cfg Config, err error) {
				assert.ErrorContains(t, err, "invalid duration")
			},
		},
		{
			name:    "invalid values fail validation",
			environ: []string{"BTPEER_MAX_PIECE_ATTEMPTS=0", "BTPEER_PEER_ID=short"},
			assert: func(t *testing.T, cfg Config, err error) {
				assert.ErrorContains(t, err, "max_piece_attempts must be positive")
				assert.ErrorContains(t, err, "peer_id must be 20 bytes, got 5")
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv(tt.environ)
			tt.assert(t, cfg, err)
		})
	}
}

func TestClientPeerIDIsRandomWhenUnset(t *testing.T) {
	cfg := Default()
	assert.NotEqual(t, cfg.ClientPeerID(), cfg.ClientPeerID())
}
