package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/events"
)

type fakeRegistration struct {
	mu        sync.Mutex
	refreshes int
	shutdown  bool
}

func (r *fakeRegistration) Refresh(map[string]string) error {
	r.mu.Lock()
	r.refreshes++
	r.mu.Unlock()
	return nil
}

func (r *fakeRegistration) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}

type fakeTransport struct {
	mu        sync.Mutex
	failFirst int
	announces []Announcement
	regs      []*fakeRegistration
	records   []ServiceRecord
	browses   int
	browsed   []string
}

func (f *fakeTransport) Announce(_ context.Context, a Announcement) (Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announces = append(f.announces, a)
	if f.failFirst > 0 {
		f.failFirst--
		return nil, errors.New("multicast unavailable")
	}
	r := &fakeRegistration{}
	f.regs = append(f.regs, r)
	return r, nil
}

func (f *fakeTransport) Browse(ctx context.Context, service, _ string, found func(ServiceRecord)) error {
	f.mu.Lock()
	f.browses++
	f.browsed = append(f.browsed, service)
	recs := append([]ServiceRecord(nil), f.records...)
	f.mu.Unlock()
	for _, r := range recs {
		found(r)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) registrations() []*fakeRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeRegistration(nil), f.regs...)
}

func newTestDiscovery(t *testing.T, tr Transport, em events.Emitter) (*Discovery, *device.Registry, *device.Info) {
	t.Helper()
	local := device.NewLocal("laptop", device.TypeLaptop, "linux", "6.1", "0.1.0")
	reg := device.NewRegistry()
	cfg := DefaultConfig()
	cfg.AnnounceInterval = 20 * time.Millisecond
	cfg.Port = 8443
	d := New(cfg, local, reg, em, tr, zerolog.Nop())
	t.Cleanup(d.Stop)
	return d, reg, local
}

func peerRecord() ServiceRecord {
	return ServiceRecord{
		Instance: "phone-1234abcd",
		HostName: "phone.local.",
		Addrs:    []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.1.20")},
		Port:     8443,
		TXT: map[string]string{
			txtDeviceType: "mobile",
			txtOS:         "android",
			txtAppVersion: "0.1.0",
			txtDeviceName: "Pixel",
		},
	}
}

func TestParseRecordDefaultsMissingAttributes(t *testing.T) {
	d := parseRecord(peerRecord())
	assert.Equal(t, "Unknown", d.OSVersion)
	assert.Equal(t, "Pixel", d.Name)
	assert.Equal(t, device.TypeMobile, d.Type)
	assert.Equal(t, "192.168.1.20", d.IPAddress)
	assert.Equal(t, 8443, d.Port)
	assert.Equal(t, "phone-1234abcd", d.Metadata["instance"])

	empty := parseRecord(ServiceRecord{Instance: "bare"})
	assert.Equal(t, "Unknown", empty.Name)
	assert.Equal(t, "Unknown", empty.OS)
	assert.Equal(t, device.TypeUnknown, empty.Type)
	assert.Empty(t, empty.IPAddress)
}

func TestRecordIDStable(t *testing.T) {
	r := peerRecord()
	assert.Equal(t, recordID(r), recordID(r))

	r.TXT[txtDeviceID] = "not-a-uuid"
	assert.Equal(t, recordID(peerRecord()), recordID(r))

	id := "5b7c7a40-1f2e-4a57-9d3c-2f0f1d0c9e11"
	r.TXT[txtDeviceID] = id
	assert.Equal(t, id, recordID(r))
}

func TestTXTRoundTrip(t *testing.T) {
	in := map[string]string{"os": "linux", "device_name": "a=b"}
	out := decodeTXT(append(encodeTXT(in), "garbage", "=x"))
	assert.Equal(t, in, out)
}

func TestDiscoveryAdmitsRecordMissingOSVersion(t *testing.T) {
	tr := &fakeTransport{records: []ServiceRecord{peerRecord()}}
	rec := events.NewRecorder(64)
	d, reg, _ := newTestDiscovery(t, tr, rec)

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)

	devs := d.Devices()
	require.Len(t, devs, 1)
	assert.Equal(t, "Unknown", devs[0].OSVersion)

	select {
	case e := <-rec.C():
		assert.Equal(t, events.DeviceDiscovered, e.Kind)
		assert.Equal(t, devs[0].ID, e.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("no discovery event")
	}
}

func TestDiscoveryIgnoresOwnRecords(t *testing.T) {
	tr := &fakeTransport{}
	d, reg, local := newTestDiscovery(t, tr, nil)

	self := peerRecord()
	self.TXT[txtDeviceID] = local.ID
	tr.records = []ServiceRecord{self, {Instance: d.Instance()}}

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.browses >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, reg.Len())
}

func TestDiscoveryKeepsStatusOnResighting(t *testing.T) {
	tr := &fakeTransport{records: []ServiceRecord{peerRecord()}}
	d, reg, _ := newTestDiscovery(t, tr, nil)
	id := recordID(peerRecord())
	reg.Upsert(parseRecord(peerRecord()))
	reg.Update(id, func(i *device.Info) { i.UpdateStatus(device.Connected) })

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.browses >= 2
	}, time.Second, 5*time.Millisecond)

	got, ok := reg.Get(id)
	require.True(t, ok)
	assert.True(t, got.Status.IsConnected())
}

func TestDiscoveryStartStopIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	d, _, _ := newTestDiscovery(t, tr, nil)

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.IsRunning())

	tr.mu.Lock()
	assert.Len(t, tr.announces, 1)
	tr.mu.Unlock()

	d.Stop()
	d.Stop()
	assert.False(t, d.IsRunning())

	regs := tr.registrations()
	require.Len(t, regs, 1)
	regs[0].mu.Lock()
	assert.True(t, regs[0].shutdown)
	regs[0].mu.Unlock()
}

func TestDiscoveryRetriesFailedAnnounce(t *testing.T) {
	tr := &fakeTransport{failFirst: 1}
	rec := events.NewRecorder(64)
	d, _, _ := newTestDiscovery(t, tr, rec)

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool { return len(tr.registrations()) == 1 }, time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	first := tr.announces[0]
	tr.mu.Unlock()
	assert.Equal(t, DefaultService, first.Service)
	assert.Equal(t, DefaultDomain, first.Domain)
	assert.Equal(t, uint32(DefaultTTL), first.TTL)
	assert.Equal(t, "6.1", first.TXT[txtOSVersion])

	require.Eventually(t, func() bool {
		for _, e := range rec.Drain() {
			if e.Kind == events.Heartbeat {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestDiscoveryRequiresTransport(t *testing.T) {
	d, _, _ := newTestDiscovery(t, nil, nil)
	assert.Error(t, d.Start(context.Background()))
	assert.False(t, d.IsRunning())
}

func TestCleanupOldDevicesKeepsMissingLastSeen(t *testing.T) {
	d, reg, _ := newTestDiscovery(t, &fakeTransport{}, nil)

	stale := parseRecord(peerRecord())
	old := time.Now().UTC().Add(-time.Hour)
	stale.LastSeen = &old
	reg.Upsert(stale)

	never := parseRecord(ServiceRecord{Instance: "never-seen"})
	never.LastSeen = nil
	reg.Upsert(never)

	removed := d.CleanupOldDevices(5 * time.Minute)
	assert.Equal(t, []string{stale.ID}, removed)
	_, ok := reg.Get(never.ID)
	assert.True(t, ok)
}

func TestServiceTypeOnTheWire(t *testing.T) {
	assert.Equal(t, "_alohopass._tcp", DefaultConfig().Service)

	tr := &fakeTransport{}
	d, _, _ := newTestDiscovery(t, tr, events.Discard)
	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.browsed) > 0 && len(tr.announces) > 0
	}, time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, "_alohopass._tcp", tr.announces[0].Service)
	assert.Equal(t, "_alohopass._tcp", tr.browsed[0])
}
