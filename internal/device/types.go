// Package device describes the local device and every peer it knows about.
package device

import (
	"fmt"
	"strings"
)

type Type int

const (
	TypeUnknown Type = iota
	TypeMobile
	TypeDesktop
	TypeLaptop
	TypeTablet
	TypeServer
)

var typeNames = map[Type]string{
	TypeUnknown: "Unknown",
	TypeMobile:  "Mobile",
	TypeDesktop: "Desktop",
	TypeLaptop:  "Laptop",
	TypeTablet:  "Tablet",
	TypeServer:  "Server",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return typeNames[TypeUnknown]
}

// ParseType is case-insensitive and never fails; unrecognized input maps to
// TypeUnknown.
func ParseType(s string) Type {
	for t, name := range typeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return t
		}
	}
	return TypeUnknown
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}

type StatusKind int

const (
	StatusDisconnected StatusKind = iota
	StatusConnected
	StatusSyncing
	StatusError
	StatusWaiting
)

var statusNames = map[StatusKind]string{
	StatusDisconnected: "Disconnected",
	StatusConnected:    "Connected",
	StatusSyncing:      "Syncing",
	StatusError:        "Error",
	StatusWaiting:      "Waiting",
}

func (k StatusKind) String() string {
	if s, ok := statusNames[k]; ok {
		return s
	}
	return fmt.Sprintf("StatusKind(%d)", int(k))
}

func (k StatusKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *StatusKind) UnmarshalText(b []byte) error {
	for kind, name := range statusNames {
		if strings.EqualFold(string(b), name) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("device: unknown status %q", b)
}

// Status is a connection status; Message is only set for StatusError.
type Status struct {
	Kind    StatusKind `json:"kind"`
	Message string     `json:"message,omitempty"`
}

var (
	Disconnected = Status{Kind: StatusDisconnected}
	Connected    = Status{Kind: StatusConnected}
	Syncing      = Status{Kind: StatusSyncing}
	Waiting      = Status{Kind: StatusWaiting}
)

func Errored(msg string) Status { return Status{Kind: StatusError, Message: msg} }

func (s Status) String() string {
	if s.Kind == StatusError && s.Message != "" {
		return "Error: " + s.Message
	}
	return s.Kind.String()
}

func (s Status) IsConnected() bool { return s.Kind == StatusConnected }
func (s Status) IsSyncing() bool   { return s.Kind == StatusSyncing }
func (s Status) HasError() bool    { return s.Kind == StatusError }

type Capabilities struct {
	SyncPasswords     bool   `json:"sync_passwords"`
	SyncSettings      bool   `json:"sync_settings"`
	SyncFiles         bool   `json:"sync_files"`
	GeneratePasswords bool   `json:"generate_passwords"`
	Autocomplete      bool   `json:"autocomplete"`
	KeyboardShortcuts bool   `json:"keyboard_shortcuts"`
	MinAppVersion     string `json:"min_app_version"`
}

func DefaultCapabilities() Capabilities {
	return Capabilities{
		SyncPasswords:     true,
		SyncSettings:      true,
		GeneratePasswords: true,
		MinAppVersion:     "1.0.0",
	}
}
