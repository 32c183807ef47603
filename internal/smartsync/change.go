// Package smartsync tracks outgoing changes, ships them to peers in batches
// and detects conflicts with changes arriving from peers. Element data is
// opaque ciphertext throughout.
package smartsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ChangeType int

const (
	ChangeCreated ChangeType = iota
	ChangeModified
	ChangeDeleted
	ChangeMoved
	ChangeMetadataChanged
)

var changeTypeNames = map[ChangeType]string{
	ChangeCreated:         "created",
	ChangeModified:        "modified",
	ChangeDeleted:         "deleted",
	ChangeMoved:           "moved",
	ChangeMetadataChanged: "metadata_changed",
}

func (t ChangeType) String() string {
	if s, ok := changeTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t ChangeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ChangeType) UnmarshalText(b []byte) error {
	for k, v := range changeTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("smartsync: unknown change type %q", b)
}

// DataChange is one mutation of one element, as produced by SourceDevice.
type DataChange struct {
	ID           string            `json:"id"`
	ElementID    string            `json:"element_id"`
	ChangeType   ChangeType        `json:"change_type"`
	Timestamp    time.Time         `json:"timestamp"`
	SourceDevice string            `json:"source_device"`
	ElementData  []byte            `json:"element_data,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Version      uint64            `json:"version"`
	PreviousHash string            `json:"previous_hash,omitempty"`
	CurrentHash  string            `json:"current_hash"`
}

func NewChange(elementID string, t ChangeType, sourceDevice string, data []byte, version uint64, previousHash string) DataChange {
	return DataChange{
		ID:           uuid.NewString(),
		ElementID:    elementID,
		ChangeType:   t,
		Timestamp:    time.Now().UTC(),
		SourceDevice: sourceDevice,
		ElementData:  data,
		Metadata:     map[string]string{},
		Version:      version,
		PreviousHash: previousHash,
		CurrentHash:  HashData(data),
	}
}

// HashData is the hex SHA-256 of data, or "" for nil data.
func HashData(data []byte) string {
	if data == nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c DataChange) Valid() bool {
	return c.ElementID != "" && c.SourceDevice != ""
}

func (c DataChange) DataSize() int { return len(c.ElementData) }

func (c *DataChange) SetMetadata(key, value string) {
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	c.Metadata[key] = value
}
