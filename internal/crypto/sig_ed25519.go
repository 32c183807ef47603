package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
)

// Identity is a device signing key pair. The public half is advertised to
// peers as the device public key.
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{Public: pub, private: priv}, nil
}

func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

func (id *Identity) PrivateKey() ed25519.PrivateKey { return id.private }

func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
