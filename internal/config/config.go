// Package config loads settings from defaults, an optional yaml file and
// ALOHOMORA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/discovery"
	"github.com/n3c4s/alohomora/internal/manager"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
	"github.com/n3c4s/alohomora/internal/storage"
)

const EnvPrefix = "ALOHOMORA"

type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	Device    DeviceConfig     `mapstructure:"device"`
	Vault     VaultConfig      `mapstructure:"vault"`
	Sync      SyncConfig       `mapstructure:"sync"`
	Discovery discovery.Config `mapstructure:"discovery"`
	P2P       p2p.Config       `mapstructure:"p2p"`
	Server    ServerConfig     `mapstructure:"server"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeviceConfig overrides the detected local device. Empty fields keep the
// detected values.
type DeviceConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

type VaultConfig struct {
	Cipher  string          `mapstructure:"cipher"`
	KDF     cr.KDFParams    `mapstructure:"kdf"`
	Storage storage.Options `mapstructure:"storage"`
}

type SyncConfig struct {
	AutoSync         bool          `mapstructure:"auto_sync"`
	Interval         time.Duration `mapstructure:"interval"`
	DiscoveryEnabled bool          `mapstructure:"discovery_enabled"`
	AllowIncoming    bool          `mapstructure:"allow_incoming"`
	Method           string        `mapstructure:"method"`
	Strategy         string        `mapstructure:"strategy"`
	AutoResolve      bool          `mapstructure:"auto_resolve"`
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	DiscoveryMaxAge  time.Duration `mapstructure:"discovery_max_age"`
	ConnectedMaxAge  time.Duration `mapstructure:"connected_max_age"`
	ChangeRetention  time.Duration `mapstructure:"change_retention"`
	TrustedDevices   []string      `mapstructure:"trusted_devices"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	JWTIssuer   string        `mapstructure:"jwt_issuer"`
	UnlockRate  float64       `mapstructure:"unlock_rate"`
	UnlockBurst int           `mapstructure:"unlock_burst"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configPath, or alohomora.yaml from the usual locations when it
// is empty. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("alohomora")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.alohomora")
		v.AddConfigPath("/etc/alohomora")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	kdf := cr.DefaultDesktopKDF()
	v.SetDefault("vault.cipher", cr.AES256GCM.String())
	v.SetDefault("vault.kdf.memory_kib", kdf.M)
	v.SetDefault("vault.kdf.iterations", kdf.T)
	v.SetDefault("vault.kdf.parallelism", kdf.P)
	v.SetDefault("vault.storage.backend", "file")
	v.SetDefault("vault.storage.path", defaultDataDir())
	v.SetDefault("vault.storage.mongo_db", "alohomora")
	v.SetDefault("vault.storage.mongo_collection", "blobs")

	m := manager.DefaultConfig()
	v.SetDefault("sync.auto_sync", m.AutoSync)
	v.SetDefault("sync.interval", m.SyncInterval)
	v.SetDefault("sync.discovery_enabled", m.DiscoveryEnabled)
	v.SetDefault("sync.allow_incoming", m.AllowIncoming)
	v.SetDefault("sync.method", m.Method.String())
	v.SetDefault("sync.strategy", m.Engine.Strategy.String())
	v.SetDefault("sync.auto_resolve", m.Engine.AutoResolve)
	v.SetDefault("sync.max_batch_size", m.Engine.MaxBatchSize)
	v.SetDefault("sync.timeout", m.Engine.SyncTimeout)
	v.SetDefault("sync.cleanup_interval", m.CleanupInterval)
	v.SetDefault("sync.discovery_max_age", m.DiscoveryMaxAge)
	v.SetDefault("sync.connected_max_age", m.ConnectedMaxAge)
	v.SetDefault("sync.change_retention", m.ChangeRetention)

	d := discovery.DefaultConfig()
	v.SetDefault("discovery.enabled", d.Enabled)
	v.SetDefault("discovery.service", d.Service)
	v.SetDefault("discovery.domain", d.Domain)
	v.SetDefault("discovery.port", 7474)
	v.SetDefault("discovery.announce_interval", d.AnnounceInterval)
	v.SetDefault("discovery.ttl", d.TTL)

	p := p2p.DefaultConfig()
	v.SetDefault("p2p.ice_servers", p.ICEServers)
	v.SetDefault("p2p.connection_timeout", p.ConnectionTimeout)
	v.SetDefault("p2p.max_buffer_size", p.MaxBufferSize)

	v.SetDefault("server.addr", ":7474")
	v.SetDefault("server.token_ttl", 15*time.Minute)
	v.SetDefault("server.jwt_issuer", "alohomora")
	v.SetDefault("server.unlock_rate", 0.2)
	v.SetDefault("server.unlock_burst", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".alohomora", "vault")
	}
	return filepath.Join(home, ".alohomora", "vault")
}

// Validate checks the fields that are parsed into typed values later.
func (c *Config) Validate() error {
	if _, err := cr.ParseAlgorithm(c.Vault.Cipher); err != nil {
		return err
	}
	if _, err := manager.ParseMethod(c.Sync.Method); err != nil {
		return err
	}
	if _, err := smartsync.ParseStrategy(c.Sync.Strategy); err != nil {
		return err
	}
	if c.Vault.KDF.M == 0 || c.Vault.KDF.T == 0 || c.Vault.KDF.P == 0 {
		return errors.New("config: vault.kdf parameters must be positive")
	}
	return nil
}

func (c *Config) Cipher() cr.Algorithm {
	a, _ := cr.ParseAlgorithm(c.Vault.Cipher)
	return a
}

// ManagerConfig assembles the sync manager settings from the sync,
// discovery and p2p sections.
func (c *Config) ManagerConfig() (manager.Config, error) {
	method, err := manager.ParseMethod(c.Sync.Method)
	if err != nil {
		return manager.Config{}, err
	}
	strategy, err := smartsync.ParseStrategy(c.Sync.Strategy)
	if err != nil {
		return manager.Config{}, err
	}
	disc := c.Discovery
	disc.Enabled = disc.Enabled && c.Sync.DiscoveryEnabled
	return manager.Config{
		AutoSync:         c.Sync.AutoSync,
		SyncInterval:     c.Sync.Interval,
		DiscoveryEnabled: disc.Enabled,
		AllowIncoming:    c.Sync.AllowIncoming,
		Method:           method,
		CleanupInterval:  c.Sync.CleanupInterval,
		DiscoveryMaxAge:  c.Sync.DiscoveryMaxAge,
		ConnectedMaxAge:  c.Sync.ConnectedMaxAge,
		ChangeRetention:  c.Sync.ChangeRetention,
		TrustedDevices:   c.Sync.TrustedDevices,
		Discovery:        disc,
		P2P:              c.P2P,
		Engine: smartsync.Config{
			MaxBatchSize: c.Sync.MaxBatchSize,
			Strategy:     strategy,
			AutoResolve:  c.Sync.AutoResolve,
			SyncTimeout:  c.Sync.Timeout,
		},
	}, nil
}
