package device

import (
	"os"
	"runtime"
	"strings"
	"time"
)

type SyncPreferences struct {
	AutoSync           bool          `json:"auto_sync" mapstructure:"auto_sync"`
	SyncInterval       time.Duration `json:"sync_interval" mapstructure:"sync_interval"`
	WifiOnly           bool          `json:"wifi_only" mapstructure:"wifi_only"`
	BackgroundSync     bool          `json:"background_sync" mapstructure:"background_sync"`
	NotifyOnCompletion bool          `json:"notify_on_completion" mapstructure:"notify_on_completion"`
}

func DefaultSyncPreferences() SyncPreferences {
	return SyncPreferences{
		AutoSync:           true,
		SyncInterval:       300 * time.Second,
		WifiOnly:           true,
		BackgroundSync:     true,
		NotifyOnCompletion: true,
	}
}

type NetworkConfig struct {
	ListenPort int  `json:"listen_port" mapstructure:"listen_port"`
	UseMDNS    bool `json:"use_mdns" mapstructure:"use_mdns"`
	UseUPnP    bool `json:"use_upnp" mapstructure:"use_upnp"`
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{ListenPort: 0, UseMDNS: true, UseUPnP: false}
}

// Local is the owner device plus its identity and preferences.
type Local struct {
	Device      *Info           `json:"device"`
	PublicKey   []byte          `json:"public_key,omitempty"`
	Certificate []byte          `json:"certificate,omitempty"`
	Preferences SyncPreferences `json:"preferences"`
	Network     NetworkConfig   `json:"network"`
}

// DetectLocal builds the local device from the host name and runtime.
func DetectLocal(appVersion string) *Local {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return &Local{
		Device:      NewLocal(host, DetectType(host), runtime.GOOS, runtime.GOARCH, appVersion),
		Preferences: DefaultSyncPreferences(),
		Network:     DefaultNetworkConfig(),
	}
}

var typeHints = []struct {
	words []string
	t     Type
}{
	{[]string{"phone", "mobile", "android", "iphone"}, TypeMobile},
	{[]string{"tablet", "ipad"}, TypeTablet},
	{[]string{"laptop", "book"}, TypeLaptop},
	{[]string{"server", "srv"}, TypeServer},
}

// DetectType guesses a device type from a host name, defaulting to Desktop.
func DetectType(hostname string) Type {
	h := strings.ToLower(hostname)
	for _, hint := range typeHints {
		for _, w := range hint.words {
			if strings.Contains(h, w) {
				return hint.t
			}
		}
	}
	return TypeDesktop
}
