package crypto

import "crypto/subtle"

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecureCompare compares two byte strings in constant time. Lengths are not
// secret.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
