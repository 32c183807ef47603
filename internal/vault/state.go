package vault

import (
	"context"
	"sync"

	"github.com/awnumar/memguard"

	cr "github.com/n3c4s/alohomora/internal/crypto"
)

// State is the lock/unlock gate in front of every plaintext operation. The
// derived key lives in a guarded, mlocked buffer and is destroyed on Lock.
type State struct {
	engine cr.Engine
	kdf    cr.KDFParams

	mu  sync.RWMutex
	key *memguard.LockedBuffer
}

func NewState(engine cr.Engine, kdf cr.KDFParams) *State {
	return &State{engine: engine, kdf: kdf}
}

// Unlock derives the key from password and salt. The KDF runs without
// holding the state lock.
func (s *State) Unlock(ctx context.Context, password, salt []byte) error {
	raw, err := cr.DeriveKey(password, salt, s.kdf)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		cr.Zero(raw)
		return err
	}
	buf := memguard.NewBufferFromBytes(raw) // wipes raw

	s.mu.Lock()
	old := s.key
	s.key = buf
	s.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	return nil
}

func (s *State) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		s.key.Destroy()
		s.key = nil
	}
}

// Close locks the vault. Owners must call it on every exit path.
func (s *State) Close() error {
	s.Lock()
	return nil
}

func (s *State) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil && s.key.IsAlive()
}

func (s *State) EncryptData(plaintext []byte) (EncryptedPayload, error) {
	return s.seal(plaintext, nil)
}

func (s *State) DecryptData(p EncryptedPayload) ([]byte, error) {
	return s.open(p, nil)
}

func (s *State) seal(plaintext, aad []byte) (EncryptedPayload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return EncryptedPayload{}, ErrNotUnlocked
	}
	ct, nonce, err := s.engine.EncryptWithAAD(plaintext, s.key.Bytes(), aad)
	if err != nil {
		return EncryptedPayload{}, err
	}
	return newPayload(ct, nonce)
}

func (s *State) open(p EncryptedPayload, aad []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, ErrNotUnlocked
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return s.engine.DecryptWithAAD(p.Ciphertext, p.Nonce, s.key.Bytes(), aad)
}

func (s *State) String() string {
	if s.IsUnlocked() {
		return "vault(unlocked)"
	}
	return "vault(locked)"
}

func (s *State) GoString() string { return s.String() }
