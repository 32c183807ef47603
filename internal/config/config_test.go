package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3c4s/alohomora/internal/manager"
	"github.com/n3c4s/alohomora/internal/smartsync"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "alohomora.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Vault.Storage.Backend)
	assert.Equal(t, uint32(64*1024), cfg.Vault.KDF.M)
	assert.Equal(t, "aes-256-gcm", cfg.Cipher().String())
	assert.Equal(t, 30*time.Second, cfg.Discovery.AnnounceInterval)
	assert.Equal(t, "_alohopass._tcp", cfg.Discovery.Service)
	assert.Len(t, cfg.P2P.ICEServers, 2)
	assert.Equal(t, 15*time.Minute, cfg.Server.TokenTTL)

	mc, err := cfg.ManagerConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, mc.SyncInterval)
	assert.Equal(t, manager.MethodHybrid, mc.Method)
	assert.Equal(t, smartsync.LatestWins, mc.Engine.Strategy)
	assert.Equal(t, 100, mc.Engine.MaxBatchSize)
	assert.Equal(t, 300*time.Second, mc.DiscoveryMaxAge)
	assert.Equal(t, 600*time.Second, mc.ConnectedMaxAge)
}

func TestLoadFileOverrides(t *testing.T) {
	p := writeConfig(t, `
vault:
  cipher: chacha20-poly1305
  storage:
    backend: bolt
    path: /tmp/vault
sync:
  auto_sync: false
  interval: 10m
  method: p2p
  strategy: ask_user
  discovery_enabled: false
  trusted_devices: ["phone-1", "laptop-2"]
p2p:
  ice_servers: ["stun:stun.example.org:3478"]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Vault.Storage.Backend)
	assert.Equal(t, "chacha20-poly1305", cfg.Cipher().String())

	mc, err := cfg.ManagerConfig()
	require.NoError(t, err)
	assert.False(t, mc.AutoSync)
	assert.Equal(t, 10*time.Minute, mc.SyncInterval)
	assert.Equal(t, manager.MethodP2P, mc.Method)
	assert.Equal(t, []string{"phone-1", "laptop-2"}, mc.TrustedDevices)
	assert.Equal(t, smartsync.AskUser, mc.Engine.Strategy)
	assert.False(t, mc.DiscoveryEnabled)
	assert.False(t, mc.Discovery.Enabled)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, mc.P2P.ICEServers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ALOHOMORA_SYNC_STRATEGY", "remote_wins")
	t.Setenv("ALOHOMORA_SERVER_ADDR", "127.0.0.1:9000")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "remote_wins", cfg.Sync.Strategy)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"cipher", "vault:\n  cipher: rot13\n"},
		{"method", "sync:\n  method: carrier_pigeon\n"},
		{"strategy", "sync:\n  strategy: coin_flip\n"},
		{"kdf", "vault:\n  kdf:\n    iterations: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
