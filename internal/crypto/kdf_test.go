package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

var testKDF = KDFParams{M: 8 * 1024, T: 1, P: 1}

var testArgon = ArgonParams{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := randBytes(t, SaltSize)
	k1, err := DeriveKey([]byte("correct-horse"), salt, testKDF)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, err := DeriveKey([]byte("correct-horse"), salt, testKDF)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(k1) != KeySize || !bytes.Equal(k1, k2) {
		t.Fatal("expected identical 32-byte keys")
	}

	k3, err := DeriveKey([]byte("correct-horse"), randBytes(t, SaltSize), testKDF)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("different salts produced the same key")
	}
}

func TestDeriveKeyRejectsBadParams(t *testing.T) {
	cases := map[string]struct {
		salt []byte
		p    KDFParams
	}{
		"short salt":   {salt: []byte("abc"), p: testKDF},
		"zero time":    {salt: randBytes(t, SaltSize), p: KDFParams{M: 8 * 1024, T: 0, P: 1}},
		"zero threads": {salt: randBytes(t, SaltSize), p: KDFParams{M: 8 * 1024, T: 1, P: 0}},
		"tiny memory":  {salt: randBytes(t, SaltSize), p: KDFParams{M: 4, T: 1, P: 1}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DeriveKey([]byte("pw"), tc.salt, tc.p); !errors.Is(err, ErrKDF) {
				t.Fatalf("expected ErrKDF, got %v", err)
			}
		})
	}
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	b, _ := GenerateSalt()
	if len(a) != SaltSize || bytes.Equal(a, b) {
		t.Fatal("expected distinct 32-byte salts")
	}
	dec, err := DecodeSalt(EncodeSalt(a))
	if err != nil || !bytes.Equal(dec, a) {
		t.Fatal("salt encoding mismatch")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword(testArgon, "Password123!")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", hash)
	}
	ok, err := VerifyPassword("Password123!", hash)
	if err != nil {
		t.Fatalf("VerifyPassword error: %v", err)
	}
	if !ok {
		t.Fatalf("expected VerifyPassword to succeed")
	}
	ok, err = VerifyPassword("Password123?", hash)
	if err != nil {
		t.Fatalf("mismatch must not error: %v", err)
	}
	if ok {
		t.Fatalf("expected VerifyPassword to fail for a different password")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, h := range []string{
		"invalid-hash-format",
		"argon2id$m=1,t=1$abc$def",
		"argon2id$m=8192,t=1,p=1$!!!$AAAA",
		"argon2id$m=8192,t=0,p=1$AAAA$AAAA",
		"argon2id$m=4294967295,t=1,p=1$AAAA$AAAA",
		"argon2id$m=8192,t=4000000000,p=1$AAAA$AAAA",
		"argon2id$m=8192,t=1,p=1garbage$AAAA$AAAA",
		"argon2id$m=8192,t=1,p=1,x=2$AAAA$AAAA",
		"argon2id$m=+8192,t=1,p=1$AAAA$AAAA",
		"argon2id$m=8192,t=1,p=300$AAAA$AAAA",
	} {
		ok, err := VerifyPassword("Password123!", h)
		if !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%q: expected ErrInvalidHash, got %v", h, err)
		}
		if ok {
			t.Fatalf("%q: expected verification failure", h)
		}
	}
}

func TestHashPasswordRejectsOversizedParams(t *testing.T) {
	p := ArgonParams{Memory: 1<<20 + 1, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	if _, err := HashPassword(p, "x"); !errors.Is(err, ErrKDF) {
		t.Fatalf("expected ErrKDF, got %v", err)
	}
}

func BenchmarkDeriveKeyDesktop(b *testing.B) {
	salt := randBytes(b, SaltSize)
	p := DefaultDesktopKDF()
	for i := 0; i < b.N; i++ {
		if _, err := DeriveKey([]byte("benchmark"), salt, p); err != nil {
			b.Fatal(err)
		}
	}
}
