package vault

import (
	"crypto/rand"
	"fmt"

	cr "github.com/n3c4s/alohomora/internal/crypto"
)

// EncryptedPayload is the only shape that crosses the storage and sync
// boundaries. Salt is random per call and not used for decryption.
type EncryptedPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt"`
}

func newPayload(ct, nonce []byte) (EncryptedPayload, error) {
	salt := make([]byte, cr.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return EncryptedPayload{}, err
	}
	return EncryptedPayload{Ciphertext: ct, Nonce: nonce, Salt: salt}, nil
}

func (p EncryptedPayload) validate() error {
	if len(p.Nonce) != cr.NonceSize {
		return fmt.Errorf("%w: nonce is %d bytes", cr.ErrInvalidNonce, len(p.Nonce))
	}
	return nil
}
