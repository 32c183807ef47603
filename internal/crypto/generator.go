package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	numberChars  = "0123456789"
	symbolChars  = "!@#$%^&*()_+-=[]{}|;:,.<>?"
	similarChars = "il1Lo0O"
)

var ErrEmptyCharset = errors.New("crypto: no character classes selected")

type PasswordOptions struct {
	Length         int
	Upper          bool
	Lower          bool
	Numbers        bool
	Symbols        bool
	ExcludeSimilar bool
}

func DefaultPasswordOptions() PasswordOptions {
	return PasswordOptions{Length: 20, Upper: true, Lower: true, Numbers: true, Symbols: true}
}

// GeneratePassword returns a password drawn from every character class.
func GeneratePassword(length int) (string, error) {
	o := DefaultPasswordOptions()
	o.Length = length
	return GeneratePasswordWith(o)
}

// GeneratePasswordWith guarantees one character from each enabled class when
// the length allows it; the rest are drawn from the union.
func GeneratePasswordWith(o PasswordOptions) (string, error) {
	var classes []string
	add := func(on bool, set string) {
		if !on {
			return
		}
		if o.ExcludeSimilar {
			set = strings.Map(func(r rune) rune {
				if strings.ContainsRune(similarChars, r) {
					return -1
				}
				return r
			}, set)
		}
		classes = append(classes, set)
	}
	add(o.Upper, upperChars)
	add(o.Lower, lowerChars)
	add(o.Numbers, numberChars)
	add(o.Symbols, symbolChars)
	if len(classes) == 0 {
		return "", ErrEmptyCharset
	}
	if o.Length <= 0 {
		return "", errors.New("crypto: password length must be positive")
	}

	all := strings.Join(classes, "")
	out := make([]byte, o.Length)
	for i := range out {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		b[i], b[j.Int64()] = b[j.Int64()], b[i]
	}
	return nil
}
