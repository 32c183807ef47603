package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
)

// AddDevice records a device learned outside discovery, for example by
// manual pairing.
func (m *Manager) AddDevice(d *device.Info) {
	if d == nil || d.ID == "" || d.ID == m.local.ID {
		return
	}
	m.discovered.Observe(d)
}

func (m *Manager) Devices() []*device.Info { return m.discovered.List() }

func (m *Manager) ConnectedDevices() []*device.Info { return m.connected.List() }

func (m *Manager) Device(id string) (*device.Info, bool) {
	if d, ok := m.connected.Get(id); ok {
		return d, true
	}
	return m.discovered.Get(id)
}

// SearchDevices matches discovered and connected devices by name, OS or
// type.
func (m *Manager) SearchDevices(query string) []*device.Info {
	out := m.discovered.Search(query)
	seen := make(map[string]bool, len(out))
	for _, d := range out {
		seen[d.ID] = true
	}
	for _, d := range m.connected.Search(query) {
		if !seen[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) TrustDevice(ctx context.Context, id string) error {
	trust := func(d *device.Info) { d.IsTrusted = true }
	a := m.discovered.Update(id, trust)
	b := m.connected.Update(id, trust)
	if !a && !b {
		return ErrDeviceNotFound
	}
	m.log.Info().Str("device_id", id).Msg("device trusted")
	m.auditf(ctx, "device.trust", id)
	return nil
}

// trusted reports whether id was trusted on this device. Trust claimed by
// the peer itself does not count.
func (m *Manager) trusted(id string) bool {
	if slices.Contains(m.Config().TrustedDevices, id) {
		return true
	}
	if d, ok := m.connected.Get(id); ok && d.IsTrusted {
		return true
	}
	d, ok := m.discovered.Get(id)
	return ok && d.IsTrusted
}

// RemoveDevice disconnects id and forgets it.
func (m *Manager) RemoveDevice(ctx context.Context, id string) error {
	if c := m.takeConn(id); c != nil {
		_ = c.Disconnect()
	}
	a := m.discovered.Remove(id)
	b := m.connected.Remove(id)
	if !a && !b {
		return ErrDeviceNotFound
	}
	m.log.Info().Str("device_id", id).Msg("device removed")
	m.auditf(ctx, "device.remove", id)
	return nil
}

func (m *Manager) conn(id string) *p2p.Connection {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.conns[id]
}

func (m *Manager) takeConn(id string) *p2p.Connection {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	c := m.conns[id]
	delete(m.conns, id)
	return c
}

// connFor returns the connection slot for id, creating it when missing. A
// slot left in the error state is reset first.
func (m *Manager) connFor(id string) *p2p.Connection {
	m.connMu.Lock()
	c, ok := m.conns[id]
	if !ok {
		c = p2p.NewConnection(m.Config().P2P, m.deps.Peers, m, m.deps.Logger)
		c.SetHandler(func(f p2p.Frame) { m.handleFrame(id, f) })
		m.conns[id] = c
	}
	m.connMu.Unlock()
	if c.State().Kind == p2p.StateError {
		_ = c.Disconnect()
	}
	return c
}

// ConnectDevice opens a peer connection to a known device. Connecting to an
// already connected device is a no-op.
func (m *Manager) ConnectDevice(ctx context.Context, id string) error {
	if m.deps.Peers == nil || m.deps.Signaler == nil {
		return ErrNoPeers
	}
	d, ok := m.Device(id)
	if !ok {
		return ErrDeviceNotFound
	}
	c := m.connFor(id)
	err := c.Connect(ctx, d, m.deps.Signaler)
	if errors.Is(err, p2p.ErrAlreadyConnected) && c.IsConnected() {
		return nil
	}
	if err != nil {
		_ = c.Disconnect()
		m.connected.Update(id, func(x *device.Info) { x.UpdateStatus(device.Errored(err.Error())) })
		return fmt.Errorf("connect %s: %w", id, err)
	}
	m.markConnected(id)
	return nil
}

// AcceptOffer answers a connection offer from remote. The connection is
// complete once the remote side opens its data channel. A peer that is not
// yet trusted may connect, but its batches are refused until TrustDevice is
// called for it.
func (m *Manager) AcceptOffer(ctx context.Context, remote *device.Info, offer string) (string, error) {
	if m.deps.Peers == nil {
		return "", ErrNoPeers
	}
	if !m.Config().AllowIncoming {
		return "", ErrIncomingDisabled
	}
	if remote == nil || remote.ID == "" || remote.ID == m.local.ID {
		return "", ErrDeviceNotFound
	}
	remote = remote.Clone()
	remote.IsTrusted = false
	remote.IsOwner = false
	m.AddDevice(remote)
	c := m.connFor(remote.ID)
	if c.State().Kind != p2p.StateDisconnected {
		_ = c.Disconnect()
	}
	return c.AcceptOffer(ctx, remote, offer)
}

func (m *Manager) DisconnectDevice(id string) error {
	c := m.takeConn(id)
	m.connected.Remove(id)
	if c == nil {
		return nil
	}
	return c.Disconnect()
}

// RecordChange queues a local change for the next sync.
func (m *Manager) RecordChange(_ context.Context, c smartsync.DataChange) error {
	if err := m.engine.AddChange(c); err != nil {
		return err
	}
	m.deps.Metrics.SetPending(m.engine.State().PendingChanges)
	return nil
}

// SyncWithDevice pushes pending changes over the open connection to id.
// Failures are reported in the result. Untrusted devices are never sent
// anything.
func (m *Manager) SyncWithDevice(ctx context.Context, id string) smartsync.SyncResult {
	if !m.trusted(id) {
		return smartsync.SyncResult{DeviceID: id, ErrorMessage: ErrUntrusted.Error(), Err: ErrUntrusted}
	}
	c := m.conn(id)
	if c == nil || !c.IsConnected() {
		return smartsync.SyncResult{DeviceID: id, ErrorMessage: ErrNoConnection.Error(), Err: ErrNoConnection}
	}
	d, ok := m.connected.Get(id)
	if !ok {
		d = c.RemoteDevice()
	}
	if d == nil {
		return smartsync.SyncResult{DeviceID: id, ErrorMessage: ErrDeviceNotFound.Error(), Err: ErrDeviceNotFound}
	}
	res := m.engine.SyncWithDevice(ctx, d, m)
	m.mu.Lock()
	m.stats.LastSyncDuration = res.Duration
	m.mu.Unlock()
	m.deps.Metrics.ObserveSync(res.Success, res.ElementsSynced, res.Duration)
	m.deps.Metrics.SetPending(m.engine.State().PendingChanges)
	return res
}

// SyncAllDevices syncs every trusted connected device that is idle or
// recovering from a failed run.
func (m *Manager) SyncAllDevices(ctx context.Context) []smartsync.SyncResult {
	var out []smartsync.SyncResult
	for _, d := range m.connected.List() {
		if !d.IsAvailableForSync() && !d.Status.HasError() {
			continue
		}
		if !m.trusted(d.ID) {
			continue
		}
		c := m.conn(d.ID)
		if c == nil || !c.IsConnected() {
			continue
		}
		out = append(out, m.SyncWithDevice(ctx, d.ID))
	}
	return out
}

// ResolveConflict settles a conflict and applies its outcome locally.
func (m *Manager) ResolveConflict(ctx context.Context, id string, r smartsync.Resolution) (smartsync.Conflict, error) {
	c, err := m.engine.ResolveConflict(id, r)
	if err != nil {
		return c, err
	}
	if m.deps.Applier == nil {
		return c, nil
	}
	switch {
	case c.RemoteApplies():
		err = m.deps.Applier.ApplyChange(ctx, c.Remote)
	case r == smartsync.Delete:
		del := c.Remote
		del.ChangeType = smartsync.ChangeDeleted
		del.ElementData = nil
		err = m.deps.Applier.ApplyChange(ctx, del)
	}
	return c, err
}

func (m *Manager) Status() Status {
	st := m.engine.State()
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{
		IsEnabled:        m.running,
		IsSyncing:        st.IsActive,
		Error:            m.lastErr,
		ConnectedDevices: m.connected.List(),
		Method:           m.cfg.Method,
		AutoSync:         m.cfg.AutoSync,
	}
	if m.lastSync != nil {
		t := *m.lastSync
		s.LastSync = &t
	}
	return s
}

func (m *Manager) Stats() Stats {
	es := m.engine.Stats()
	synced := make(map[string]bool)
	for _, c := range m.engine.Synced() {
		synced[c.ElementID] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.DevicesSyncedWith = append([]string(nil), m.stats.DevicesSyncedWith...)
	s.DevicesCount = m.connected.Len()
	s.SyncedPasswords = uint64(len(synced))
	s.TotalDataSynced = es.TotalDataSynced
	return s
}

func (m *Manager) SystemInfo() SystemInfo {
	info := SystemInfo{
		LocalDevice:     m.local.Clone(),
		DiscoveredCount: m.discovered.Len(),
		ConnectedCount:  m.connected.Len(),
		Status:          m.Status(),
		Stats:           m.Stats(),
	}
	m.mu.RLock()
	info.Running = m.running
	if m.running {
		info.Uptime = time.Since(m.startedAt)
	}
	m.mu.RUnlock()
	return info
}
