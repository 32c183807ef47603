package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/storage"
)

const masterKeyID = "master"

// MasterKey is the persisted half of the master password: a verification
// hash and the salt for key derivation. The derived key is never stored.
type MasterKey struct {
	PasswordHash string       `json:"password_hash"`
	Salt         []byte       `json:"salt"`
	KDF          cr.KDFParams `json:"kdf"`
	CreatedAt    time.Time    `json:"created_at"`
}

func NewMasterKey(password string, hp cr.ArgonParams, kdf cr.KDFParams) (*MasterKey, error) {
	if password == "" {
		return nil, errors.New("vault: empty master password")
	}
	hash, err := cr.HashPassword(hp, password)
	if err != nil {
		return nil, err
	}
	salt, err := cr.GenerateSalt()
	if err != nil {
		return nil, err
	}
	return &MasterKey{PasswordHash: hash, Salt: salt, KDF: kdf, CreatedAt: time.Now().UTC()}, nil
}

func (m *MasterKey) Verify(password string) (bool, error) {
	return cr.VerifyPassword(password, m.PasswordHash)
}

// MasterStore persists the single MasterKey record.
type MasterStore struct {
	blobs storage.BlobStore
}

func NewMasterStore(blobs storage.BlobStore) *MasterStore {
	return &MasterStore{blobs: blobs}
}

func (s *MasterStore) Load(ctx context.Context) (*MasterKey, error) {
	b, err := s.blobs.Get(ctx, masterKeyID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	var m MasterKey
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("vault: decode master key: %w", err)
	}
	return &m, nil
}

func (s *MasterStore) Exists(ctx context.Context) (bool, error) {
	_, err := s.Load(ctx)
	switch {
	case errors.Is(err, ErrNotInitialized):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Create stores m unless a master key already exists.
func (s *MasterStore) Create(ctx context.Context, m *MasterKey) error {
	ok, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, masterKeyID, b)
}

// Reset destroys the master key. Entries encrypted under it become
// unreadable.
func (s *MasterStore) Reset(ctx context.Context) error {
	return s.blobs.Delete(ctx, masterKeyID)
}
