package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestGeneratePasswordHasEveryClass(t *testing.T) {
	for i := 0; i < 50; i++ {
		pw, err := GeneratePassword(16)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(pw) != 16 {
			t.Fatalf("length %d", len(pw))
		}
		for _, set := range []string{upperChars, lowerChars, numberChars, symbolChars} {
			if !strings.ContainsAny(pw, set) {
				t.Fatalf("%q misses class %q", pw, set)
			}
		}
	}
}

func TestGeneratePasswordExcludeSimilar(t *testing.T) {
	o := PasswordOptions{Length: 64, Upper: true, Lower: true, Numbers: true, ExcludeSimilar: true}
	pw, err := GeneratePasswordWith(o)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.ContainsAny(pw, similarChars) {
		t.Fatalf("%q contains look-alike characters", pw)
	}
	if strings.ContainsAny(pw, symbolChars) {
		t.Fatalf("%q contains symbols", pw)
	}
}

func TestGeneratePasswordErrors(t *testing.T) {
	if _, err := GeneratePasswordWith(PasswordOptions{Length: 10}); !errors.Is(err, ErrEmptyCharset) {
		t.Fatalf("expected ErrEmptyCharset, got %v", err)
	}
	if _, err := GeneratePassword(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestIdentitySignVerify(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	sig := id.Sign([]byte("frame"))
	if !Verify(id.Public, []byte("frame"), sig) {
		t.Fatal("signature did not verify")
	}
	if Verify(id.Public, []byte("other"), sig) {
		t.Fatal("signature verified for a different message")
	}

	seed := randBytes(t, 32)
	a, _ := IdentityFromSeed(seed)
	b, _ := IdentityFromSeed(seed)
	if !SecureCompare(a.Public, b.Public) {
		t.Fatal("seeded identities differ")
	}
}
