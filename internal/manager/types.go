package manager

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/n3c4s/alohomora/internal/device"
)

var (
	ErrDeviceNotFound   = errors.New("manager: device not found")
	ErrNotRunning       = errors.New("manager: not running")
	ErrIncomingDisabled = errors.New("manager: incoming connections disabled")
	ErrNoConnection     = errors.New("manager: no open connection to device")
	ErrNoPeers          = errors.New("manager: peer connections not configured")
	ErrUntrusted        = errors.New("manager: device is not trusted")
)

type Method int

const (
	MethodP2P Method = iota
	MethodCloudEncrypted
	MethodHybrid
	MethodLocalOnly
)

var methodNames = map[Method]string{
	MethodP2P:            "p2p",
	MethodCloudEncrypted: "cloud_encrypted",
	MethodHybrid:         "hybrid",
	MethodLocalOnly:      "local_only",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "unknown"
}

func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Method) UnmarshalText(b []byte) error {
	v, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, v := range methodNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("manager: unknown sync method %q", s)
}

type Status struct {
	IsEnabled        bool           `json:"is_enabled"`
	IsSyncing        bool           `json:"is_syncing"`
	LastSync         *time.Time     `json:"last_sync,omitempty"`
	Error            string         `json:"error,omitempty"`
	ConnectedDevices []*device.Info `json:"connected_devices"`
	Method           Method         `json:"sync_method"`
	AutoSync         bool           `json:"auto_sync"`
}

type Stats struct {
	TotalPasswords    uint64        `json:"total_passwords"`
	SyncedPasswords   uint64        `json:"synced_passwords"`
	LastSyncDuration  time.Duration `json:"last_sync_duration"`
	DevicesCount      int           `json:"devices_count"`
	TotalSyncs        uint64        `json:"total_syncs"`
	SuccessfulSyncs   uint64        `json:"successful_syncs"`
	FailedSyncs       uint64        `json:"failed_syncs"`
	TotalDataSynced   uint64        `json:"total_data_synced"`
	DevicesSyncedWith []string      `json:"devices_synced_with"`
}

type SystemInfo struct {
	LocalDevice     *device.Info  `json:"local_device"`
	DiscoveredCount int           `json:"discovered_devices"`
	ConnectedCount  int           `json:"connected_devices"`
	Running         bool          `json:"is_running"`
	Uptime          time.Duration `json:"uptime"`
	Status          Status        `json:"status"`
	Stats           Stats         `json:"stats"`
}
