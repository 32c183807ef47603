package app

import (
	"context"
	"strings"
	"time"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/totp"
	"github.com/n3c4s/alohomora/internal/vault"
)

func (a *App) CreateEntry(ctx context.Context, e vault.Entry) (vault.Entry, error) {
	out, err := a.entries.Create(ctx, e)
	if err != nil {
		return out, err
	}
	a.log.Debug().Str("entry_id", out.ID).Msg("entry created")
	return out, nil
}

func (a *App) Entry(ctx context.Context, id string) (vault.Entry, error) {
	return a.entries.Get(ctx, id)
}

func (a *App) UpdateEntry(ctx context.Context, id string, e vault.Entry) (vault.Entry, error) {
	return a.entries.Update(ctx, id, e)
}

// EntryCode returns the current one-time code of an entry.
func (a *App) EntryCode(ctx context.Context, id string) (totp.Code, error) {
	e, err := a.entries.Get(ctx, id)
	if err != nil {
		return totp.Code{}, err
	}
	if e.TOTPSecret == "" {
		return totp.Code{}, vault.ErrNoTOTP
	}
	return totp.At(e.TOTPSecret, time.Now())
}

func (a *App) DeleteEntry(ctx context.Context, id string) error {
	if err := a.entries.Delete(ctx, id); err != nil {
		return err
	}
	a.record(ctx, "entry.delete", id)
	return nil
}

func (a *App) Entries(ctx context.Context) ([]vault.Entry, error) {
	return a.entries.List(ctx)
}

// SearchEntries matches title, username, URL or category, case-insensitively.
func (a *App) SearchEntries(ctx context.Context, query string) ([]vault.Entry, error) {
	all, err := a.entries.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	var out []vault.Entry
	for _, e := range all {
		for _, f := range []string{e.Title, e.Username, e.URL, e.Category} {
			if strings.Contains(strings.ToLower(f), q) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

// EntryCount counts stored entries without decrypting them, so it works
// while locked.
func (a *App) EntryCount(ctx context.Context) (int, error) {
	ids, err := a.blobs.List(ctx, "entry/")
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (a *App) GeneratePassword(o cr.PasswordOptions) (string, error) {
	if o.Length <= 0 {
		o.Length = cr.DefaultPasswordOptions().Length
	}
	return cr.GeneratePasswordWith(o)
}
