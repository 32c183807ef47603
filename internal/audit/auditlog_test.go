package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/n3c4s/alohomora/internal/storage"
)

func TestAppendVerify(t *testing.T) {
	ctx := context.Background()
	l := New()
	for _, a := range []string{"vault.unlock", "device.trust", "vault.lock"} {
		if _, err := l.Append(ctx, a, "x"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n := len(l.Entries()); n != 3 {
		t.Fatalf("entries = %d", n)
	}

	l.entries[1].Subject = "y"
	if err := l.Verify(); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected broken chain, got %v", err)
	}
}

func TestLoadPersisted(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	l, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if _, err := l.Append(ctx, "vault.init", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, "conflict.resolved", "e1 use_remote"); err != nil {
		t.Fatal(err)
	}

	again, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := again.Entries()
	if len(got) != 2 || got[1].Action != "conflict.resolved" {
		t.Fatalf("unexpected entries %+v", got)
	}
	// the chain continues from the persisted head
	if _, err := again.Append(ctx, "vault.lock", ""); err != nil {
		t.Fatal(err)
	}
	if err := again.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := store.Put(ctx, storeKey, []byte(`[{"ts":1,"action":"forged","hash":"00"}]`)); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(ctx, store); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected broken chain, got %v", err)
	}
}
