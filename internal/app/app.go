// Package app is the command layer: one explicit handle over the vault, its
// storage and the sync manager, shared by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/n3c4s/alohomora/internal/audit"
	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/discovery"
	"github.com/n3c4s/alohomora/internal/manager"
	"github.com/n3c4s/alohomora/internal/metrics"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/storage"
	"github.com/n3c4s/alohomora/internal/vault"
)

// Deps configure an App. Blobs and Local are required. The App owns Blobs
// and closes it in Close.
type Deps struct {
	Blobs  storage.BlobStore
	Cipher cr.Algorithm
	KDF    cr.KDFParams
	Hash   cr.ArgonParams
	Local  *device.Info

	Sync      manager.Config
	Transport discovery.Transport
	Peers     p2p.PeerFactory
	Signaler  p2p.Signaler

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

type App struct {
	blobs   storage.BlobStore
	hash    cr.ArgonParams
	kdf     cr.KDFParams
	master  *vault.MasterStore
	state   *vault.State
	entries *vault.EntryStore
	sync    *manager.Manager
	audit   *audit.Log
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func New(ctx context.Context, d Deps) (*App, error) {
	if d.Blobs == nil {
		return nil, errors.New("app: storage required")
	}
	if d.Local == nil {
		return nil, errors.New("app: local device required")
	}
	if d.Hash == (cr.ArgonParams{}) {
		d.Hash = cr.DefaultArgon
	}
	if d.KDF == (cr.KDFParams{}) {
		d.KDF = cr.DefaultDesktopKDF()
	}

	master := vault.NewMasterStore(d.Blobs)
	kdf := d.KDF
	mk, err := master.Load(ctx)
	switch {
	case err == nil:
		// an existing vault keeps the parameters it was created with
		kdf = mk.KDF
	case !errors.Is(err, vault.ErrNotInitialized):
		return nil, err
	}

	log, err := audit.Load(ctx, d.Blobs)
	if err != nil {
		return nil, fmt.Errorf("app: audit log: %w", err)
	}

	a := &App{
		blobs:   d.Blobs,
		hash:    d.Hash,
		kdf:     kdf,
		master:  master,
		state:   vault.NewState(cr.NewEngine(d.Cipher), kdf),
		audit:   log,
		metrics: d.Metrics,
		log:     d.Logger.With().Str("component", "app").Logger(),
	}
	a.entries = vault.NewEntryStore(a.state, d.Blobs)

	a.sync, err = manager.New(d.Sync, manager.Deps{
		Local:     d.Local,
		Transport: d.Transport,
		Peers:     d.Peers,
		Signaler:  d.Signaler,
		Applier:   remoteApplier{entries: a.entries},
		Audit:     log,
		Metrics:   d.Metrics,
		Logger:    d.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.entries.SetChangeSink(changeSink{sync: a.sync, source: d.Local.ID})
	return a, nil
}

// Close stops sync, locks the vault and closes the store.
func (a *App) Close() error {
	a.sync.Stop()
	a.state.Lock()
	return a.blobs.Close()
}

func (a *App) Manager() *manager.Manager { return a.sync }

func (a *App) IsInitialized(ctx context.Context) (bool, error) {
	return a.master.Exists(ctx)
}

// InitMaster creates the master key and leaves the vault unlocked.
func (a *App) InitMaster(ctx context.Context, password string) error {
	mk, err := vault.NewMasterKey(password, a.hash, a.kdf)
	if err != nil {
		return err
	}
	if err := a.master.Create(ctx, mk); err != nil {
		return err
	}
	a.log.Info().Msg("master password initialized")
	a.record(ctx, "master.init", "")
	return a.unlockWith(ctx, password, mk)
}

// VerifyMaster checks password against the stored hash without unlocking.
func (a *App) VerifyMaster(ctx context.Context, password string) (bool, error) {
	mk, err := a.master.Load(ctx)
	if err != nil {
		return false, err
	}
	return mk.Verify(password)
}

func (a *App) Unlock(ctx context.Context, password string) error {
	mk, err := a.master.Load(ctx)
	if err != nil {
		return err
	}
	ok, err := mk.Verify(password)
	if err != nil {
		return err
	}
	a.metrics.ObserveUnlock(ok)
	if !ok {
		a.log.Warn().Msg("unlock rejected")
		a.record(ctx, "vault.unlock_failed", "")
		return vault.ErrWrongPassword
	}
	return a.unlockWith(ctx, password, mk)
}

func (a *App) unlockWith(ctx context.Context, password string, mk *vault.MasterKey) error {
	pw := []byte(password)
	defer cr.Zero(pw)
	if err := a.state.Unlock(ctx, pw, mk.Salt); err != nil {
		return err
	}
	a.log.Info().Msg("vault unlocked")
	a.record(ctx, "vault.unlock", "")
	return nil
}

func (a *App) Lock(ctx context.Context) {
	if !a.state.IsUnlocked() {
		return
	}
	a.state.Lock()
	a.log.Info().Msg("vault locked")
	a.record(ctx, "vault.lock", "")
}

func (a *App) IsUnlocked() bool { return a.state.IsUnlocked() }

// AuditLog returns the audit trail after checking its hash chain.
func (a *App) AuditLog() ([]audit.Entry, error) {
	if err := a.audit.Verify(); err != nil {
		return nil, err
	}
	return a.audit.Entries(), nil
}

func (a *App) record(ctx context.Context, action, subject string) {
	if _, err := a.audit.Append(ctx, action, subject); err != nil {
		a.log.Warn().Err(err).Str("action", action).Msg("audit append failed")
	}
}
