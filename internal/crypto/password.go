package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

type ArgonParams struct {
	Memory      uint32 // in KiB (e.g., 64*1024)
	Time        uint32 // iterations
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var DefaultArgon = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

var ErrInvalidHash = errors.New("crypto: invalid password hash")

// Upper bounds accepted from an encoded hash, so a corrupt record cannot
// make verification allocate or spin without limit.
const (
	maxHashMemory = 1 << 20 // KiB
	maxHashTime   = 64
	maxHashKeyLen = 1024
)

// HashPassword returns a self-describing verification string:
// argon2id$m=<M>,t=<T>,p=<P>$<b64(salt)>$<b64(key)>
func HashPassword(p ArgonParams, password string) (string, error) {
	if p.SaltLen <= 0 || p.KeyLen == 0 || p.KeyLen > maxHashKeyLen || p.Time == 0 || p.Time > maxHashTime ||
		p.Parallelism == 0 || p.Memory == 0 || p.Memory > maxHashMemory {
		return "", fmt.Errorf("%w: bad hash params", ErrKDF)
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	defer Zero(key)
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches encoded. A mismatch is not
// an error; only a malformed hash is.
func VerifyPassword(password, encoded string) (bool, error) {
	const prefix = "argon2id$"
	if !strings.HasPrefix(encoded, prefix) {
		return false, ErrInvalidHash
	}
	parts := strings.Split(encoded[len(prefix):], "$")
	if len(parts) != 3 {
		return false, ErrInvalidHash
	}

	m, t, p, err := parseHashParams(parts[0])
	if err != nil {
		return false, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return false, ErrInvalidHash
	}
	keyRef, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(keyRef) == 0 || len(keyRef) > maxHashKeyLen {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(keyRef)))
	defer Zero(key)
	return SecureCompare(key, keyRef), nil
}

// parseHashParams reads exactly "m=<M>,t=<T>,p=<P>".
func parseHashParams(s string) (m, t uint32, p uint8, err error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return 0, 0, 0, ErrInvalidHash
	}
	var vals [3]uint64
	for i, name := range []string{"m=", "t=", "p="} {
		v, ok := strings.CutPrefix(fields[i], name)
		if !ok {
			return 0, 0, 0, ErrInvalidHash
		}
		n, perr := strconv.ParseUint(v, 10, 32)
		if perr != nil {
			return 0, 0, 0, ErrInvalidHash
		}
		vals[i] = n
	}
	if vals[0] == 0 || vals[0] > maxHashMemory ||
		vals[1] == 0 || vals[1] > maxHashTime ||
		vals[2] == 0 || vals[2] > 255 {
		return 0, 0, 0, ErrInvalidHash
	}
	return uint32(vals[0]), uint32(vals[1]), uint8(vals[2]), nil
}
