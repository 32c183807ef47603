package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is shared by both supported ciphers.
const NonceSize = 12

var (
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")
	ErrInvalidKey           = errors.New("crypto: invalid key length")
	ErrInvalidNonce         = errors.New("crypto: invalid nonce length")
)

type Algorithm int

const (
	AES256GCM Algorithm = iota
	ChaCha20Poly1305
)

var algorithmNames = map[Algorithm]string{
	AES256GCM:        "aes-256-gcm",
	ChaCha20Poly1305: "chacha20-poly1305",
}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return "unknown"
}

func ParseAlgorithm(s string) (Algorithm, error) {
	for a, name := range algorithmNames {
		if strings.EqualFold(s, name) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("crypto: unknown cipher %q", s)
}

// Engine performs AEAD encryption with a fresh random nonce per call.
type Engine struct {
	Algorithm Algorithm
}

func NewEngine(a Algorithm) Engine { return Engine{Algorithm: a} }

func (e Engine) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	switch e.Algorithm {
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("crypto: unsupported algorithm %d", e.Algorithm)
	}
}

func (e Engine) Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	return e.EncryptWithAAD(plaintext, key, nil)
}

func (e Engine) EncryptWithAAD(plaintext, key, aad []byte) (ciphertext, nonce []byte, err error) {
	a, err := e.aead(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return a.Seal(nil, nonce, plaintext, aad), nonce, nil
}

func (e Engine) Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	return e.DecryptWithAAD(ciphertext, nonce, key, nil)
}

func (e Engine) DecryptWithAAD(ciphertext, nonce, key, aad []byte) ([]byte, error) {
	a, err := e.aead(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	pt, err := a.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return pt, nil
}
