// Package totp computes time-based one-time codes (RFC 6238, HMAC-SHA1)
// for entries that carry an authenticator secret.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultStep   = 30 * time.Second
	DefaultDigits = 6
	secretSize    = 20
)

var ErrInvalidSecret = errors.New("totp: invalid secret")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Code is a one-time code and how long it stays current.
type Code struct {
	Code      string        `json:"code"`
	ExpiresIn time.Duration `json:"expires_in"`
}

func GenerateSecret() (string, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return encoding.EncodeToString(secret), nil
}

// ValidSecret reports whether s decodes as a base32 secret. Spaces and
// padding, as shown by most providers, are accepted.
func ValidSecret(s string) bool {
	b, err := decodeSecret(s)
	zero(b)
	return err == nil && len(b) > 0
}

// At returns the code for secret at t.
func At(secret string, t time.Time) (Code, error) {
	key, err := decodeSecret(secret)
	if err != nil || len(key) == 0 {
		return Code{}, ErrInvalidSecret
	}
	defer zero(key)

	step := int64(DefaultStep / time.Second)
	unix := t.Unix()
	return Code{
		Code:      compute(key, uint64(unix/step), DefaultDigits),
		ExpiresIn: time.Duration(step-unix%step) * time.Second,
	}, nil
}

// Verify accepts the code of the current step and of one step either side.
func Verify(code, secret string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != DefaultDigits {
		return false
	}
	key, err := decodeSecret(secret)
	if err != nil || len(key) == 0 {
		return false
	}
	defer zero(key)

	counter := t.Unix() / int64(DefaultStep/time.Second)
	for i := int64(-1); i <= 1; i++ {
		if cur := counter + i; cur >= 0 && hmac.Equal([]byte(compute(key, uint64(cur), DefaultDigits)), []byte(code)) {
			return true
		}
	}
	return false
}

// ProvisionURI renders the otpauth:// link authenticator apps import.
func ProvisionURI(account, issuer, secret string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(DefaultDigits))
	q.Set("period", strconv.Itoa(int(DefaultStep/time.Second)))
	u := url.URL{Scheme: "otpauth", Host: "totp", Path: "/" + issuer + ":" + account, RawQuery: q.Encode()}
	return u.String()
}

func compute(key []byte, counter uint64, digits int) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	mod := uint32(1)
	for range digits {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, trunc%mod)
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	return encoding.DecodeString(strings.TrimRight(s, "="))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
