package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize  = 32
	SaltSize = 32
)

var ErrKDF = errors.New("crypto: key derivation failed")

// KDFParams are the Argon2id cost parameters. M is in KiB.
type KDFParams struct {
	M uint32 `json:"m" mapstructure:"memory_kib"`
	T uint32 `json:"t" mapstructure:"iterations"`
	P uint8  `json:"p" mapstructure:"parallelism"`
}

func DefaultDesktopKDF() KDFParams {
	return KDFParams{M: 64 * 1024, T: 3, P: 4}
}

func DefaultMobileKDF() KDFParams {
	return KDFParams{M: 32 * 1024, T: 3, P: 2}
}

func (p KDFParams) validate() error {
	switch {
	case p.M < 8*uint32(p.P):
		return fmt.Errorf("%w: memory %d KiB below 8*parallelism", ErrKDF, p.M)
	case p.T == 0:
		return fmt.Errorf("%w: zero iterations", ErrKDF)
	case p.P == 0:
		return fmt.Errorf("%w: zero parallelism", ErrKDF)
	}
	return nil
}

// DeriveKey stretches password into a KeySize key. The same password, salt
// and params always produce the same key.
func DeriveKey(password, salt []byte, p KDFParams) ([]byte, error) {
	if len(salt) < 8 {
		return nil, fmt.Errorf("%w: salt too short (%d bytes)", ErrKDF, len(salt))
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(password, salt, p.T, p.M, p.P, KeySize), nil
}

func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func EncodeSalt(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeSalt(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrKDF)
	}
	return b, nil
}
