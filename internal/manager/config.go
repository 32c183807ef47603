package manager

import (
	"time"

	"github.com/n3c4s/alohomora/internal/discovery"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
)

const (
	DefaultSyncInterval    = 5 * time.Minute
	DefaultCleanupInterval = 60 * time.Second
	DefaultDiscoveryMaxAge = 300 * time.Second
	DefaultConnectedMaxAge = 600 * time.Second
	DefaultChangeRetention = 24 * time.Hour
	DefaultEventBuffer     = 100
)

type Config struct {
	AutoSync         bool          `mapstructure:"auto_sync" json:"auto_sync"`
	SyncInterval     time.Duration `mapstructure:"sync_interval" json:"sync_interval"`
	DiscoveryEnabled bool          `mapstructure:"discovery_enabled" json:"discovery_enabled"`
	AllowIncoming    bool          `mapstructure:"allow_incoming" json:"allow_incoming_connections"`
	Method           Method        `mapstructure:"method" json:"sync_method"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"`
	DiscoveryMaxAge  time.Duration `mapstructure:"discovery_max_age" json:"discovery_max_age"`
	ConnectedMaxAge  time.Duration `mapstructure:"connected_max_age" json:"connected_max_age"`
	ChangeRetention  time.Duration `mapstructure:"change_retention" json:"change_retention"`
	EventBuffer      int           `mapstructure:"event_buffer" json:"event_buffer"`
	// TrustedDevices are trusted on sight, on top of TrustDevice calls.
	TrustedDevices []string `mapstructure:"trusted_devices" json:"trusted_devices,omitempty"`

	Discovery discovery.Config `mapstructure:"discovery" json:"-"`
	P2P       p2p.Config       `mapstructure:"p2p" json:"-"`
	Engine    smartsync.Config `mapstructure:"engine" json:"-"`
}

func DefaultConfig() Config {
	return Config{
		AutoSync:         true,
		SyncInterval:     DefaultSyncInterval,
		DiscoveryEnabled: true,
		AllowIncoming:    true,
		Method:           MethodHybrid,
		CleanupInterval:  DefaultCleanupInterval,
		DiscoveryMaxAge:  DefaultDiscoveryMaxAge,
		ConnectedMaxAge:  DefaultConnectedMaxAge,
		ChangeRetention:  DefaultChangeRetention,
		EventBuffer:      DefaultEventBuffer,
		Discovery:        discovery.DefaultConfig(),
		P2P:              p2p.DefaultConfig(),
		Engine:           smartsync.DefaultConfig(),
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.DiscoveryMaxAge <= 0 {
		c.DiscoveryMaxAge = d.DiscoveryMaxAge
	}
	if c.ConnectedMaxAge <= 0 {
		c.ConnectedMaxAge = d.ConnectedMaxAge
	}
	if c.ChangeRetention <= 0 {
		c.ChangeRetention = d.ChangeRetention
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}
