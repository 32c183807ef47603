package vault

import (
	"context"
	"errors"
	"testing"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/storage"
)

var testArgon = cr.ArgonParams{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func TestMasterKeyStore(t *testing.T) {
	ctx := context.Background()
	blobs, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer blobs.Close()
	ms := NewMasterStore(blobs)

	if _, err := ms.Load(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	mk, err := NewMasterKey("correct-horse", testArgon, testKDF)
	if err != nil {
		t.Fatal(err)
	}
	if len(mk.Salt) != cr.SaltSize {
		t.Fatalf("salt size %d", len(mk.Salt))
	}
	if err := ms.Create(ctx, mk); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ms.Create(ctx, mk); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	loaded, err := ms.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := loaded.Verify("correct-horse"); err != nil || !ok {
		t.Fatalf("verify: %v %v", ok, err)
	}
	if ok, _ := loaded.Verify("battery-staple"); ok {
		t.Fatal("wrong password verified")
	}
	if loaded.KDF != testKDF {
		t.Fatalf("kdf params not persisted: %+v", loaded.KDF)
	}

	if err := ms.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := ms.Exists(ctx); ok {
		t.Fatal("expected master key removed")
	}
}

func TestNewMasterKeyRejectsEmpty(t *testing.T) {
	if _, err := NewMasterKey("", testArgon, testKDF); err == nil {
		t.Fatal("expected error for empty password")
	}
}
