package app

import (
	"errors"
	"time"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/manager"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
	"github.com/n3c4s/alohomora/internal/vault"
)

// ConfigUpdate carries the sync settings a user may change. Nil fields are
// left as they are.
type ConfigUpdate struct {
	AutoSync         *bool           `json:"auto_sync,omitempty"`
	SyncInterval     *time.Duration  `json:"sync_interval,omitempty"`
	DiscoveryEnabled *bool           `json:"discovery_enabled,omitempty"`
	AllowIncoming    *bool           `json:"allow_incoming_connections,omitempty"`
	Method           *manager.Method `json:"sync_method,omitempty"`
}

var userMessages = []struct {
	err error
	msg string
}{
	{vault.ErrNotUnlocked, "Vault is locked"},
	{vault.ErrNotInitialized, "Master password not set"},
	{vault.ErrAlreadyInitialized, "Master password already set"},
	{vault.ErrWrongPassword, "Incorrect master password"},
	{vault.ErrEntryNotFound, "Entry not found"},
	{vault.ErrNoTOTP, "Entry has no one-time code"},
	{cr.ErrAuthenticationFailed, "Stored data could not be decrypted"},
	{cr.ErrEmptyCharset, "Select at least one character type"},
	{manager.ErrDeviceNotFound, "Device not found"},
	{manager.ErrNoConnection, "Device is not connected"},
	{manager.ErrIncomingDisabled, "Device does not accept connections"},
	{manager.ErrNoPeers, "Peer connections are not available"},
	{manager.ErrUntrusted, "Device is not trusted"},
	{p2p.ErrConnectionTimeout, "Connection timed out"},
	{smartsync.ErrConflictNotFound, "Conflict not found"},
}

// UserMessage renders err for display. Errors without a friendly form keep
// their own text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, vault.ErrInvalidEntry) {
		return err.Error()
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}
