package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: "file::memory:"
auction:
  snipe_window: 90s
  max_extension: 30m
sweeper:
  interval: 5s
admin:
  token: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "file::memory:", cfg.Database.DSN)
	require.Equal(t, 90*time.Second, cfg.Auction.SnipeWindow)
	require.Equal(t, 30*time.Minute, cfg.Auction.MaxExtension)
	require.Equal(t, 5*time.Second, cfg.Sweeper.Interval)
	require.Equal(t, "secret", cfg.Admin.Token)

	// 未配置的字段取默认值
	require.Equal(t, 3, cfg.Auction.MaxBidRetries)
	require.Equal(t, 100, cfg.Sweeper.BatchSize)
	require.Equal(t, "local", cfg.Lock.Backend)
	require.Equal(t, "kafka", cfg.Notify.Transport)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FANBID_ADMIN_TOKEN", "from-env")
	t.Setenv("FANBID_SWEEPER_BATCH_SIZE", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Admin.Token)
	require.Equal(t, 7, cfg.Sweeper.BatchSize)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown server mode", "server:\n  mode: verbose\n"},
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"unknown lock backend", "lock:\n  backend: zookeeper\n"},
		{"unknown transport", "notify:\n  transport: smtp\n"},
		{"zero retries", "auction:\n  max_bid_retries: 0\n"},
		{"zero sweep interval", "sweeper:\n  interval: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadMemoryDriver(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  driver: memory\n"))
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoadFromFlags(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := LoadFromFlags([]string{"--config", path})
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
}
