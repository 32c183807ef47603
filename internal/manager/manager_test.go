package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3c4s/alohomora/internal/audit"
	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/events"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied []smartsync.DataChange
	fail    bool
}

func (r *recordingApplier) ApplyChange(_ context.Context, c smartsync.DataChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.applied = append(r.applied, c)
	return nil
}

func (r *recordingApplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AutoSync = false
	cfg.DiscoveryEnabled = false
	cfg.CleanupInterval = time.Hour
	return cfg
}

type node struct {
	m       *Manager
	applier *recordingApplier
	audit   *audit.Log
}

func newNode(t *testing.T, name string, hub *pipeHub, sig p2p.Signaler) *node {
	t.Helper()
	return newNodeWith(t, testConfig(), name, hub, sig)
}

func newNodeWith(t *testing.T, cfg Config, name string, hub *pipeHub, sig p2p.Signaler) *node {
	t.Helper()
	n := &node{applier: &recordingApplier{}, audit: audit.New()}
	m, err := New(cfg, Deps{
		Local:    device.NewLocal(name, device.TypeDesktop, "linux", "6.1", "0.1.0"),
		Peers:    hub,
		Signaler: sig,
		Applier:  n.applier,
		Audit:    n.audit,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	n.m = m
	t.Cleanup(m.Stop)
	return n
}

// asPeer is d as another device learns it from the network.
func asPeer(d *device.Info) *device.Info {
	return device.FromNetwork(d.ID, d.Name, d.Type, d.OS, d.OSVersion, d.AppVersion, "127.0.0.1", 8443)
}

// pair wires two managers so that a can connect to b. Neither trusts the
// other yet.
func pair(t *testing.T) (a, b *node) {
	return pairWith(t, testConfig())
}

func pairWith(t *testing.T, cfg Config) (a, b *node) {
	hub := newPipeHub()
	b = newNodeWith(t, cfg, "beta", hub, nil)
	a = newNodeWith(t, cfg, "alpha", hub, p2p.SignalerFunc(func(ctx context.Context, _, offer string) (string, error) {
		return b.m.AcceptOffer(ctx, asPeer(a.m.LocalDevice()), offer)
	}))
	a.m.AddDevice(asPeer(b.m.LocalDevice()))
	return a, b
}

// trustEachOther must run after a has connected to b, since b only learns
// about a from the offer.
func trustEachOther(t *testing.T, a, b *node) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.m.TrustDevice(ctx, b.m.LocalDevice().ID))
	require.NoError(t, b.m.TrustDevice(ctx, a.m.LocalDevice().ID))
}

func waitFor(t *testing.T, ch <-chan events.Event, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestNewRequiresLocalDevice(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestStartStopIdempotent(t *testing.T) {
	n := newNode(t, "solo", newPipeHub(), nil)
	require.NoError(t, n.m.Start(context.Background()))
	require.NoError(t, n.m.Start(context.Background()))
	assert.True(t, n.m.IsRunning())
	assert.True(t, n.m.Status().IsEnabled)

	n.m.Stop()
	n.m.Stop()
	assert.False(t, n.m.IsRunning())
	assert.Zero(t, n.m.SystemInfo().Uptime)

	// events emitted while stopped are dropped without blocking
	for range DefaultEventBuffer + 10 {
		n.m.Emit(events.Beat())
	}
}

func TestConnectAndSync(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, a.m.Start(context.Background()))
	require.NoError(t, b.m.Start(context.Background()))
	sub, cancel := a.m.Subscribe(32)
	defer cancel()

	bID := b.m.LocalDevice().ID
	require.NoError(t, a.m.ConnectDevice(context.Background(), bID))
	require.NoError(t, a.m.ConnectDevice(context.Background(), bID), "second connect is a no-op")
	waitFor(t, sub, events.DeviceConnected)
	require.Len(t, a.m.ConnectedDevices(), 1)
	trustEachOther(t, a, b)

	local := a.m.LocalDevice().ID
	require.NoError(t, a.m.RecordChange(context.Background(), smartsync.NewChange("e1", smartsync.ChangeCreated, local, []byte("ct1"), 1, "")))
	require.NoError(t, a.m.RecordChange(context.Background(), smartsync.NewChange("e2", smartsync.ChangeCreated, local, []byte("ct2"), 1, "")))

	res := a.m.SyncWithDevice(context.Background(), bID)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 2, res.ElementsSynced)
	assert.Equal(t, 2, b.applier.count())

	waitFor(t, sub, events.SyncCompleted)
	d, ok := a.m.Device(bID)
	require.True(t, ok)
	assert.NotNil(t, d.LastSync)
	assert.True(t, d.Status.IsConnected())

	st := a.m.Stats()
	assert.Equal(t, uint64(1), st.SuccessfulSyncs)
	assert.Equal(t, uint64(2), st.SyncedPasswords)
	assert.Equal(t, []string{bID}, st.DevicesSyncedWith)
	assert.Equal(t, 1, st.DevicesCount)
	assert.NotNil(t, a.m.Status().LastSync)

	again := a.m.SyncWithDevice(context.Background(), bID)
	assert.True(t, again.Success)
	assert.Zero(t, again.ElementsSynced)
}

func TestSyncFailureMarksDevice(t *testing.T) {
	a, b := pair(t)
	b.applier.fail = true
	require.NoError(t, a.m.Start(context.Background()))
	sub, cancel := a.m.Subscribe(32)
	defer cancel()

	bID := b.m.LocalDevice().ID
	require.NoError(t, a.m.ConnectDevice(context.Background(), bID))
	waitFor(t, sub, events.DeviceConnected)
	trustEachOther(t, a, b)
	require.NoError(t, a.m.RecordChange(context.Background(),
		smartsync.NewChange("e1", smartsync.ChangeCreated, a.m.LocalDevice().ID, []byte("ct"), 1, "")))

	res := a.m.SyncWithDevice(context.Background(), bID)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "apply failed")

	waitFor(t, sub, events.SyncFailed)
	d, _ := a.m.Device(bID)
	assert.True(t, d.Status.HasError())
	assert.Equal(t, uint64(1), a.m.Stats().FailedSyncs)
	assert.NotEmpty(t, a.m.Status().Error)
	assert.Len(t, a.m.Engine().Pending(), 1)

	b.applier.mu.Lock()
	b.applier.fail = false
	b.applier.mu.Unlock()
	results := a.m.SyncAllDevices(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestSyncWithoutConnection(t *testing.T) {
	n := newNode(t, "solo", newPipeHub(), nil)
	res := n.m.SyncWithDevice(context.Background(), "ghost")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoConnection)
	assert.Empty(t, n.m.SyncAllDevices(context.Background()))
}

func TestConnectErrors(t *testing.T) {
	n := newNode(t, "solo", newPipeHub(), nil)
	assert.ErrorIs(t, n.m.ConnectDevice(context.Background(), "x"), ErrNoPeers)

	a, _ := pair(t)
	assert.ErrorIs(t, a.m.ConnectDevice(context.Background(), "missing"), ErrDeviceNotFound)
}

func TestIncomingDisabled(t *testing.T) {
	a, b := pair(t)
	cfg := b.m.Config()
	cfg.AllowIncoming = false
	b.m.UpdateConfig(cfg)

	err := a.m.ConnectDevice(context.Background(), b.m.LocalDevice().ID)
	assert.ErrorIs(t, err, ErrIncomingDisabled)
	assert.Empty(t, a.m.ConnectedDevices())
}

func TestEventLoopUpdatesStatus(t *testing.T) {
	n := newNode(t, "solo", newPipeHub(), nil)
	peer := device.FromNetwork("peer-1", "phone", device.TypeMobile, "android", "14", "0.1.0", "10.0.0.2", 1)
	n.m.AddDevice(peer)
	require.NoError(t, n.m.Start(context.Background()))
	sub, cancel := n.m.Subscribe(16)
	defer cancel()

	n.m.Emit(events.Connected("peer-1"))
	waitFor(t, sub, events.DeviceConnected)
	d, ok := n.m.Device("peer-1")
	require.True(t, ok)
	assert.True(t, d.Status.IsConnected())

	n.m.Emit(events.Started("peer-1"))
	waitFor(t, sub, events.SyncStarted)
	d, _ = n.m.Device("peer-1")
	assert.True(t, d.Status.IsSyncing())

	n.m.Emit(events.Failed("peer-1", "boom"))
	waitFor(t, sub, events.SyncFailed)
	d, _ = n.m.Device("peer-1")
	assert.Equal(t, "Error: boom", d.Status.String())

	n.m.Emit(events.Completed("peer-1", 3))
	waitFor(t, sub, events.SyncCompleted)
	d, _ = n.m.Device("peer-1")
	assert.True(t, d.Status.IsConnected())
	assert.NotNil(t, d.LastSync)

	n.m.Emit(events.Disconnected("peer-1"))
	waitFor(t, sub, events.DeviceDisconnected)
	assert.Empty(t, n.m.ConnectedDevices())

	st := n.m.Stats()
	assert.Equal(t, uint64(2), st.TotalSyncs)
	assert.Equal(t, uint64(1), st.FailedSyncs)
}

func TestCleanupPolicies(t *testing.T) {
	n := newNode(t, "solo", newPipeHub(), nil)
	now := time.Now().UTC()

	never := device.FromNetwork("never", "a", device.TypeLaptop, "", "", "", "", 0)
	never.LastSeen = nil
	n.m.AddDevice(never)
	n.m.connected.Upsert(never)

	old := device.FromNetwork("old", "b", device.TypeLaptop, "", "", "", "", 0)
	stale := now.Add(-time.Hour)
	old.LastSeen = &stale
	n.m.AddDevice(old)
	n.m.connected.Upsert(old)

	fresh := device.FromNetwork("fresh", "c", device.TypeLaptop, "", "", "", "", 0)
	n.m.connected.Upsert(fresh)

	n.m.Cleanup(now)

	_, ok := n.m.discovered.Get("never")
	assert.True(t, ok, "discovery keeps devices without last_seen")
	_, ok = n.m.connected.Get("never")
	assert.False(t, ok, "connected cleanup evicts devices without last_seen")
	_, ok = n.m.discovered.Get("old")
	assert.False(t, ok)
	_, ok = n.m.connected.Get("old")
	assert.False(t, ok)
	_, ok = n.m.connected.Get("fresh")
	assert.True(t, ok)
}

func TestTrustRemoveSearch(t *testing.T) {
	n := newNode(t, "solo", newPipeHub(), nil)
	n.m.AddDevice(device.FromNetwork("d1", "Kitchen iPad", device.TypeTablet, "ipados", "17", "0.1.0", "", 0))
	n.m.AddDevice(device.FromNetwork("d2", "Work PC", device.TypeDesktop, "windows", "11", "0.1.0", "", 0))
	n.m.AddDevice(n.m.LocalDevice())
	assert.Len(t, n.m.Devices(), 2)

	got := n.m.SearchDevices("ipad")
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].ID)
	assert.Len(t, n.m.SearchDevices("desktop"), 1)

	ctx := context.Background()
	require.NoError(t, n.m.TrustDevice(ctx, "d1"))
	d, _ := n.m.Device("d1")
	assert.True(t, d.IsTrusted)
	assert.ErrorIs(t, n.m.TrustDevice(ctx, "nope"), ErrDeviceNotFound)

	require.NoError(t, n.m.RemoveDevice(ctx, "d2"))
	assert.ErrorIs(t, n.m.RemoveDevice(ctx, "d2"), ErrDeviceNotFound)
	assert.Len(t, n.m.Devices(), 1)

	entries := n.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "device.trust", entries[0].Action)
	assert.Equal(t, "device.remove", entries[1].Action)
}

func TestResolveConflictAppliesRemote(t *testing.T) {
	n := newNode(t, "solo", newPipeHub(), nil)
	local := n.m.LocalDevice().ID
	require.NoError(t, n.m.RecordChange(context.Background(), smartsync.NewChange("e1", smartsync.ChangeModified, local, []byte("l"), 1, "")))
	found := n.m.Engine().DetectConflicts([]smartsync.DataChange{
		smartsync.NewChange("e1", smartsync.ChangeModified, "remote", []byte("r"), 2, ""),
	})
	require.Len(t, found, 1)

	c, err := n.m.ResolveConflict(context.Background(), found[0].ID, smartsync.UseRemote)
	require.NoError(t, err)
	assert.Equal(t, smartsync.ConflictResolved, c.Status)
	require.Equal(t, 1, n.applier.count())
	assert.Equal(t, []byte("r"), n.applier.applied[0].ElementData)

	entries := n.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "conflict.resolved", entries[0].Action)
	assert.Equal(t, "e1 use_remote", entries[0].Subject)

	_, err = n.m.ResolveConflict(context.Background(), "missing", smartsync.UseLocal)
	assert.ErrorIs(t, err, smartsync.ErrConflictNotFound)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Hybrid")
	require.NoError(t, err)
	assert.Equal(t, MethodHybrid, m)
	_, err = ParseMethod("carrier_pigeon")
	assert.Error(t, err)
	assert.Equal(t, "hybrid", DefaultConfig().Method.String())
}

func TestLargeBatchesAreSplit(t *testing.T) {
	a, b := pair(t)
	bID := b.m.LocalDevice().ID
	require.NoError(t, a.m.ConnectDevice(context.Background(), bID))
	trustEachOther(t, a, b)

	local := a.m.LocalDevice().ID
	blob := make([]byte, 30<<10)
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, a.m.RecordChange(context.Background(), smartsync.NewChange(id, smartsync.ChangeCreated, local, blob, 1, "")))
	}
	res := a.m.SyncWithDevice(context.Background(), bID)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 3, b.applier.count())

	huge := smartsync.NewChange("big", smartsync.ChangeCreated, local, make([]byte, 100<<10), 1, "")
	err := a.m.SendBatch(context.Background(), bID, []smartsync.DataChange{huge})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.ErrorIs(t, a.m.SendBatch(context.Background(), "ghost", nil), ErrNoConnection)
}

func TestUntrustedPeerBatchRefused(t *testing.T) {
	a, b := pair(t)
	ctx := context.Background()
	aID, bID := a.m.LocalDevice().ID, b.m.LocalDevice().ID
	require.NoError(t, a.m.ConnectDevice(ctx, bID))
	require.NoError(t, a.m.TrustDevice(ctx, bID))

	d, ok := b.m.Device(aID)
	require.True(t, ok)
	assert.False(t, d.IsTrusted)

	require.NoError(t, a.m.RecordChange(ctx, smartsync.NewChange("victim-entry", smartsync.ChangeDeleted, aID, nil, 2, "")))
	res := a.m.SyncWithDevice(ctx, bID)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "not trusted")
	assert.Zero(t, b.applier.count())
	assert.Len(t, a.m.Engine().Pending(), 1, "refused changes stay pending")

	require.NoError(t, b.m.TrustDevice(ctx, aID))
	res = a.m.SyncWithDevice(ctx, bID)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 1, b.applier.count())
}

func TestSyncSkipsUntrustedDevices(t *testing.T) {
	a, b := pair(t)
	ctx := context.Background()
	bID := b.m.LocalDevice().ID
	require.NoError(t, a.m.ConnectDevice(ctx, bID))
	require.Len(t, a.m.ConnectedDevices(), 1)
	require.NoError(t, a.m.RecordChange(ctx, smartsync.NewChange("e1", smartsync.ChangeCreated, a.m.LocalDevice().ID, []byte("ct"), 1, "")))

	res := a.m.SyncWithDevice(ctx, bID)
	assert.ErrorIs(t, res.Err, ErrUntrusted)
	assert.Empty(t, a.m.SyncAllDevices(ctx))
	assert.Zero(t, b.applier.count())
	assert.Len(t, a.m.Engine().Pending(), 1)
}

func TestAcceptOfferIgnoresClaimedTrust(t *testing.T) {
	hub := newPipeHub()
	b := newNode(t, "beta", hub, nil)
	var a *node
	a = newNode(t, "alpha", hub, p2p.SignalerFunc(func(ctx context.Context, _, offer string) (string, error) {
		claimed := a.m.LocalDevice()
		require.True(t, claimed.IsTrusted)
		return b.m.AcceptOffer(ctx, claimed, offer)
	}))
	a.m.AddDevice(asPeer(b.m.LocalDevice()))
	require.NoError(t, a.m.ConnectDevice(context.Background(), b.m.LocalDevice().ID))

	d, ok := b.m.Device(a.m.LocalDevice().ID)
	require.True(t, ok)
	assert.False(t, d.IsTrusted)
	assert.False(t, d.IsOwner)

	_, err := b.m.AcceptOffer(context.Background(), b.m.LocalDevice(), "offer-1")
	assert.ErrorIs(t, err, ErrDeviceNotFound, "a device cannot connect as this one")
}

func TestAutoMergeConverges(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Strategy = smartsync.AutoMerge
	now := time.Now().UTC()

	// holds is the e1 payload n ends up with: the last applied remote
	// change, or its own write when nothing replaced it.
	holds := func(n *node, own []byte) string {
		n.applier.mu.Lock()
		defer n.applier.mu.Unlock()
		for i := len(n.applier.applied) - 1; i >= 0; i-- {
			if c := n.applier.applied[i]; c.ElementID == "e1" {
				return string(c.ElementData)
			}
		}
		return string(own)
	}

	for _, tc := range []struct {
		name     string
		aAt, bAt time.Time
		want     string
	}{
		{"later write on b", now, now.Add(time.Second), "B-version"},
		{"later write on a", now.Add(time.Second), now, "A-version"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, b := pairWith(t, cfg)
			ctx := context.Background()
			aID, bID := a.m.LocalDevice().ID, b.m.LocalDevice().ID
			require.NoError(t, a.m.ConnectDevice(ctx, bID))
			trustEachOther(t, a, b)
			require.Eventually(t, func() bool {
				c := b.m.conn(aID)
				return c != nil && c.IsConnected()
			}, 2*time.Second, 5*time.Millisecond)

			ac := smartsync.NewChange("e1", smartsync.ChangeModified, aID, []byte("A-version"), 2, "")
			ac.Timestamp = tc.aAt
			bc := smartsync.NewChange("e1", smartsync.ChangeModified, bID, []byte("B-version"), 3, "")
			bc.Timestamp = tc.bAt
			require.NoError(t, a.m.RecordChange(ctx, ac))
			require.NoError(t, b.m.RecordChange(ctx, bc))

			res := a.m.SyncWithDevice(ctx, bID)
			require.True(t, res.Success, res.ErrorMessage)
			res = b.m.SyncWithDevice(ctx, aID)
			require.True(t, res.Success, res.ErrorMessage)

			assert.Equal(t, tc.want, holds(a, ac.ElementData))
			assert.Equal(t, tc.want, holds(b, bc.ElementData))
			assert.Empty(t, a.m.Engine().Pending())
			assert.Empty(t, b.m.Engine().Pending())
		})
	}
}

func TestConfiguredTrust(t *testing.T) {
	a, b := pair(t)
	ctx := context.Background()
	aID, bID := a.m.LocalDevice().ID, b.m.LocalDevice().ID

	cfg := a.m.Config()
	cfg.TrustedDevices = []string{bID}
	a.m.UpdateConfig(cfg)
	cfg = b.m.Config()
	cfg.TrustedDevices = []string{aID}
	b.m.UpdateConfig(cfg)

	require.NoError(t, a.m.ConnectDevice(ctx, bID))
	require.NoError(t, a.m.RecordChange(ctx, smartsync.NewChange("e1", smartsync.ChangeCreated, aID, []byte("ct"), 1, "")))
	results := a.m.SyncAllDevices(ctx)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].ErrorMessage)
	assert.Equal(t, 1, b.applier.count())
	assert.Equal(t, 5*time.Minute, DefaultConfig().SyncInterval)
}
