package app

import (
	"context"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/manager"
	"github.com/n3c4s/alohomora/internal/smartsync"
	"github.com/n3c4s/alohomora/internal/vault"
)

var mutationTypes = map[vault.MutationKind]smartsync.ChangeType{
	vault.MutationCreated:  smartsync.ChangeCreated,
	vault.MutationModified: smartsync.ChangeModified,
	vault.MutationDeleted:  smartsync.ChangeDeleted,
}

// changeSink turns vault mutations into pending sync changes. Only the
// encrypted record crosses this boundary.
type changeSink struct {
	sync   *manager.Manager
	source string
}

func (s changeSink) RecordMutation(ctx context.Context, m vault.Mutation) error {
	t, ok := mutationTypes[m.Kind]
	if !ok {
		t = smartsync.ChangeModified
	}
	return s.sync.RecordChange(ctx, smartsync.NewChange(
		m.ElementID, t, s.source, m.Data, m.Version, smartsync.HashData(m.PreviousData),
	))
}

// remoteApplier stores changes received from peers as opaque records.
type remoteApplier struct {
	entries *vault.EntryStore
}

func (r remoteApplier) ApplyChange(ctx context.Context, c smartsync.DataChange) error {
	if c.ChangeType == smartsync.ChangeDeleted {
		return r.entries.ApplyRemote(ctx, c.ElementID, nil)
	}
	if c.ElementData == nil {
		return nil
	}
	return r.entries.ApplyRemote(ctx, c.ElementID, c.ElementData)
}

func (a *App) StartSync(ctx context.Context) error {
	if err := a.sync.Start(ctx); err != nil {
		return err
	}
	a.record(ctx, "sync.start", "")
	return nil
}

func (a *App) StopSync(ctx context.Context) {
	if !a.sync.IsRunning() {
		return
	}
	a.sync.Stop()
	a.record(ctx, "sync.stop", "")
}

func (a *App) SyncStatus() manager.Status { return a.sync.Status() }

func (a *App) SyncConfig() manager.Config { return a.sync.Config() }

// UpdateSyncConfig applies the user-editable switches on top of the
// current configuration.
func (a *App) UpdateSyncConfig(ctx context.Context, u ConfigUpdate) manager.Config {
	cfg := a.sync.Config()
	if u.AutoSync != nil {
		cfg.AutoSync = *u.AutoSync
	}
	if u.SyncInterval != nil {
		cfg.SyncInterval = *u.SyncInterval
	}
	if u.DiscoveryEnabled != nil {
		cfg.DiscoveryEnabled = *u.DiscoveryEnabled
	}
	if u.AllowIncoming != nil {
		cfg.AllowIncoming = *u.AllowIncoming
	}
	if u.Method != nil {
		cfg.Method = *u.Method
	}
	a.sync.UpdateConfig(cfg)
	a.record(ctx, "sync.config", "")
	return a.sync.Config()
}

func (a *App) SyncDevices() []*device.Info { return a.sync.Devices() }

func (a *App) ConnectedDevices() []*device.Info { return a.sync.ConnectedDevices() }

func (a *App) SearchDevices(query string) []*device.Info { return a.sync.SearchDevices(query) }

// SyncStats reports manager statistics with the stored entry count.
func (a *App) SyncStats(ctx context.Context) (manager.Stats, error) {
	st := a.sync.Stats()
	n, err := a.EntryCount(ctx)
	if err != nil {
		return st, err
	}
	st.TotalPasswords = uint64(n)
	return st, nil
}

func (a *App) SystemInfo() manager.SystemInfo { return a.sync.SystemInfo() }

func (a *App) TrustDevice(ctx context.Context, id string) error {
	return a.sync.TrustDevice(ctx, id)
}

func (a *App) RemoveDevice(ctx context.Context, id string) error {
	return a.sync.RemoveDevice(ctx, id)
}

func (a *App) ConnectDevice(ctx context.Context, id string) error {
	return a.sync.ConnectDevice(ctx, id)
}

func (a *App) AcceptOffer(ctx context.Context, remote *device.Info, offer string) (string, error) {
	return a.sync.AcceptOffer(ctx, remote, offer)
}

// SyncNow pushes pending changes to every connected device.
func (a *App) SyncNow(ctx context.Context) []smartsync.SyncResult {
	return a.sync.SyncAllDevices(ctx)
}

func (a *App) Conflicts() []smartsync.Conflict { return a.sync.Engine().Conflicts() }

func (a *App) ResolveConflict(ctx context.Context, id string, r smartsync.Resolution) (smartsync.Conflict, error) {
	return a.sync.ResolveConflict(ctx, id, r)
}
