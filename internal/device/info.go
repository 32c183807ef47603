package device

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Info struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         Type              `json:"device_type"`
	OS           string            `json:"os"`
	OSVersion    string            `json:"os_version"`
	AppVersion   string            `json:"app_version"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Port         int               `json:"port,omitempty"`
	Status       Status            `json:"status"`
	LastSeen     *time.Time        `json:"last_seen,omitempty"`
	LastSync     *time.Time        `json:"last_sync,omitempty"`
	Capabilities Capabilities      `json:"capabilities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	IsTrusted    bool              `json:"is_trusted"`
	IsOwner      bool              `json:"is_owner"`
}

// NewLocal describes the device this process runs on.
func NewLocal(name string, t Type, os, osVersion, appVersion string) *Info {
	now := time.Now().UTC()
	return &Info{
		ID:           uuid.NewString(),
		Name:         name,
		Type:         t,
		OS:           os,
		OSVersion:    osVersion,
		AppVersion:   appVersion,
		Status:       Connected,
		LastSeen:     &now,
		Capabilities: DefaultCapabilities(),
		Metadata:     map[string]string{},
		IsTrusted:    true,
		IsOwner:      true,
	}
}

// FromNetwork describes a peer seen on the network. Peers start untrusted.
func FromNetwork(id, name string, t Type, os, osVersion, appVersion, ip string, port int) *Info {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Info{
		ID:           id,
		Name:         name,
		Type:         t,
		OS:           os,
		OSVersion:    osVersion,
		AppVersion:   appVersion,
		IPAddress:    ip,
		Port:         port,
		Status:       Disconnected,
		LastSeen:     &now,
		Capabilities: DefaultCapabilities(),
		Metadata:     map[string]string{},
	}
}

// UpdateStatus also counts as a sighting.
func (d *Info) UpdateStatus(s Status) {
	d.Status = s
	d.Touch(time.Now().UTC())
}

func (d *Info) Touch(at time.Time) {
	d.LastSeen = &at
}

func (d *Info) MarkSynced() {
	now := time.Now().UTC()
	d.LastSync = &now
	d.Status = Connected
}

func (d *Info) IsAvailableForSync() bool {
	return d.Status.IsConnected()
}

func (d *Info) IsSameDevice(o *Info) bool {
	return d.Name == o.Name && d.Type == o.Type
}

func (d *Info) ConnectionInfo() string {
	switch {
	case d.IPAddress != "" && d.Port > 0:
		return d.IPAddress + ":" + strconv.Itoa(d.Port)
	case d.IPAddress != "":
		return d.IPAddress
	case d.Port > 0:
		return "Port " + strconv.Itoa(d.Port)
	default:
		return ""
	}
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (d *Info) Clone() *Info {
	c := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		c.LastSeen = &t
	}
	if d.LastSync != nil {
		t := *d.LastSync
		c.LastSync = &t
	}
	c.Metadata = make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// ByLastSeen orders most recently seen first; devices never seen sort last.
func ByLastSeen(a, b *Info) int {
	switch {
	case a.LastSeen == nil && b.LastSeen == nil:
		return 0
	case a.LastSeen == nil:
		return 1
	case b.LastSeen == nil:
		return -1
	}
	return b.LastSeen.Compare(*a.LastSeen)
}

func ByName(a, b *Info) int {
	switch {
	case a.Name < b.Name:
		return -1
	case a.Name > b.Name:
		return 1
	}
	return 0
}

func ByType(a, b *Info) int {
	return int(a.Type) - int(b.Type)
}
