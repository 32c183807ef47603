// Package manager runs the sync subsystem: discovery, peer connections and
// the change engine, tied together by a single ordered event stream.
package manager

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/n3c4s/alohomora/internal/audit"
	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/discovery"
	"github.com/n3c4s/alohomora/internal/events"
	"github.com/n3c4s/alohomora/internal/metrics"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
)

// Applier writes changes received from peers into local storage.
type Applier interface {
	ApplyChange(ctx context.Context, c smartsync.DataChange) error
}

type ApplierFunc func(ctx context.Context, c smartsync.DataChange) error

func (f ApplierFunc) ApplyChange(ctx context.Context, c smartsync.DataChange) error { return f(ctx, c) }

// Deps are the collaborators of a Manager. Local is required; a nil
// Transport disables discovery and nil Peers or Signaler disable outgoing
// connections.
type Deps struct {
	Local     *device.Info
	Transport discovery.Transport
	Peers     p2p.PeerFactory
	Signaler  p2p.Signaler
	Applier   Applier
	Audit     *audit.Log
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

type Manager struct {
	deps       Deps
	local      *device.Info
	log        zerolog.Logger
	discovered *device.Registry
	connected  *device.Registry
	discovery  *discovery.Discovery
	engine     *smartsync.Engine
	events     chan events.Event

	mu        sync.RWMutex
	cfg       Config
	running   bool
	stopCh    chan struct{}
	cancel    context.CancelFunc
	startedAt time.Time
	lastSync  *time.Time
	lastErr   string
	stats     Stats
	wg        sync.WaitGroup

	connMu sync.Mutex
	conns  map[string]*p2p.Connection

	ackMu sync.Mutex
	acks  map[string]chan error

	subMu  sync.Mutex
	subs   map[int]chan events.Event
	nextID int
}

func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Local == nil {
		return nil, errors.New("manager: local device required")
	}
	cfg.setDefaults()
	m := &Manager{
		deps:       deps,
		local:      deps.Local.Clone(),
		log:        deps.Logger.With().Str("component", "manager").Logger(),
		discovered: device.NewRegistry(),
		connected:  device.NewRegistry(),
		events:     make(chan events.Event, cfg.EventBuffer),
		cfg:        cfg,
		conns:      make(map[string]*p2p.Connection),
		acks:       make(map[string]chan error),
		subs:       make(map[int]chan events.Event),
	}
	m.engine = smartsync.New(cfg.Engine, m, deps.Logger)
	m.engine.OnResolve(m.conflictResolved)
	if deps.Transport != nil {
		m.discovery = discovery.New(cfg.Discovery, m.local, m.discovered, m, deps.Transport, deps.Logger)
	}
	return m, nil
}

// Emit queues e for the event loop. Events are dropped while the manager is
// stopped, and a full queue blocks the sender until the loop catches up.
func (m *Manager) Emit(e events.Event) {
	select {
	case m.events <- e:
		return
	default:
	}
	m.mu.RLock()
	stop := m.stopCh
	m.mu.RUnlock()
	if stop == nil {
		m.deps.Metrics.EventDropped()
		m.log.Debug().Str("kind", e.Kind.String()).Msg("event dropped, manager stopped")
		return
	}
	select {
	case m.events <- e:
	case <-stop:
		m.deps.Metrics.EventDropped()
	}
}

// Start launches the event, cleanup and periodic sync loops, then starts
// discovery when enabled. Calling Start on a running manager does nothing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.stopCh = make(chan struct{})
	m.running = true
	m.startedAt = time.Now()
	cfg := m.cfg
	m.mu.Unlock()

	m.wg.Add(3)
	go m.eventLoop(runCtx)
	go m.cleanupLoop(runCtx, cfg.CleanupInterval)
	go m.syncLoop(runCtx, cfg.SyncInterval)

	if cfg.DiscoveryEnabled && m.discovery != nil {
		if err := m.discovery.Start(runCtx); err != nil {
			m.log.Warn().Err(err).Msg("discovery not started")
		}
	} else if cfg.DiscoveryEnabled {
		m.log.Warn().Msg("discovery enabled but no transport configured")
	}
	m.log.Info().Str("device_id", m.local.ID).Msg("sync manager started")
	return nil
}

// Stop cancels every task, waits for them, closes all peer connections and
// withdraws the discovery announcement. It is safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	close(m.stopCh)
	m.stopCh = nil
	m.mu.Unlock()

	if m.discovery != nil {
		m.discovery.Stop()
	}
	m.wg.Wait()

	m.connMu.Lock()
	conns := m.conns
	m.conns = make(map[string]*p2p.Connection)
	m.connMu.Unlock()
	for id, c := range conns {
		if err := c.Disconnect(); err != nil {
			m.log.Warn().Err(err).Str("device_id", id).Msg("disconnect failed")
		}
		m.connected.Remove(id)
	}
	m.failAcks(ErrNotRunning)
	m.log.Info().Msg("sync manager stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) Engine() *smartsync.Engine { return m.engine }

func (m *Manager) LocalDevice() *device.Info { return m.local.Clone() }

func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig replaces the configuration. Intervals and the discovery
// switch take effect on the next Start; AutoSync and AllowIncoming apply
// immediately.
func (m *Manager) UpdateConfig(cfg Config) {
	cfg.setDefaults()
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.log.Info().Bool("auto_sync", cfg.AutoSync).Bool("discovery", cfg.DiscoveryEnabled).Msg("config updated")
}

func (m *Manager) eventLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-m.events:
					m.handle(e)
				default:
					return
				}
			}
		case e := <-m.events:
			m.handle(e)
		}
	}
}

func (m *Manager) handle(e events.Event) {
	switch e.Kind {
	case events.DeviceDiscovered:
		m.log.Debug().Str("device_id", e.DeviceID).Msg("device discovered")
	case events.DeviceConnected:
		m.markConnected(e.DeviceID)
	case events.DeviceDisconnected:
		m.connected.Remove(e.DeviceID)
		m.discovered.Update(e.DeviceID, func(d *device.Info) { d.UpdateStatus(device.Disconnected) })
	case events.SyncStarted:
		m.connected.Update(e.DeviceID, func(d *device.Info) { d.UpdateStatus(device.Syncing) })
	case events.SyncCompleted:
		m.connected.Update(e.DeviceID, func(d *device.Info) { d.MarkSynced() })
		now := time.Now().UTC()
		m.mu.Lock()
		m.lastSync = &now
		m.lastErr = ""
		m.stats.TotalSyncs++
		m.stats.SuccessfulSyncs++
		if !slices.Contains(m.stats.DevicesSyncedWith, e.DeviceID) {
			m.stats.DevicesSyncedWith = append(m.stats.DevicesSyncedWith, e.DeviceID)
		}
		m.mu.Unlock()
	case events.SyncFailed:
		m.connected.Update(e.DeviceID, func(d *device.Info) { d.UpdateStatus(device.Errored(e.Error)) })
		m.mu.Lock()
		m.lastErr = e.Error
		m.stats.TotalSyncs++
		m.stats.FailedSyncs++
		m.mu.Unlock()
	case events.ChangesDetected:
		m.deps.Metrics.SetPending(m.engine.State().PendingChanges)
	case events.Heartbeat:
	}
	m.deps.Metrics.SetDevices(m.discovered.Len(), m.connected.Len())
	m.publish(e)
}

func (m *Manager) markConnected(id string) {
	d, ok := m.discovered.Get(id)
	if !ok {
		if c := m.conn(id); c != nil {
			d = c.RemoteDevice()
		}
	}
	if d == nil {
		return
	}
	m.discovered.Update(id, func(x *device.Info) { x.UpdateStatus(device.Connected) })
	if !m.connected.Update(id, func(x *device.Info) { x.UpdateStatus(device.Connected) }) {
		d.UpdateStatus(device.Connected)
		m.connected.Upsert(d)
	}
}

// Subscribe returns a stream of every handled event. Slow subscribers miss
// events rather than stall the loop. cancel must be called to release it.
func (m *Manager) Subscribe(buffer int) (<-chan events.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ch := make(chan events.Event, buffer)
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(e events.Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (m *Manager) cleanupLoop(ctx context.Context, every time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Cleanup(now.UTC())
			m.sendHeartbeats()
		}
	}
}

// Cleanup evicts stale devices and old changes. Discovered devices that
// never reported LastSeen are kept, connected ones are evicted.
func (m *Manager) Cleanup(now time.Time) {
	cfg := m.Config()
	var gone []string
	if m.discovery != nil {
		gone = m.discovery.CleanupOldDevices(cfg.DiscoveryMaxAge)
	} else {
		gone = m.discovered.Cleanup(cfg.DiscoveryMaxAge, now, device.KeepMissing)
	}
	stale := m.connected.Cleanup(cfg.ConnectedMaxAge, now, device.EvictMissing)
	for _, id := range stale {
		if c := m.takeConn(id); c != nil {
			_ = c.Disconnect()
		}
	}
	changes, conflicts := m.engine.CleanupOldChanges(cfg.ChangeRetention)
	if len(gone)+len(stale)+changes+conflicts > 0 {
		m.log.Debug().
			Int("discovered", len(gone)).
			Int("connected", len(stale)).
			Int("changes", changes).
			Int("conflicts", conflicts).
			Msg("cleanup")
	}
	m.deps.Metrics.SetDevices(m.discovered.Len(), m.connected.Len())
}

func (m *Manager) syncLoop(ctx context.Context, every time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	m.engine.SetNextSync(time.Now().Add(every))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if m.Config().AutoSync {
			m.SyncAllDevices(ctx)
		}
		m.engine.SetNextSync(time.Now().Add(every))
	}
}

func (m *Manager) conflictResolved(c smartsync.Conflict) {
	if m.deps.Audit == nil || c.Resolution == nil {
		return
	}
	if _, err := m.deps.Audit.Append(context.Background(), "conflict.resolved", c.ElementID+" "+c.Resolution.String()); err != nil {
		m.log.Warn().Err(err).Msg("audit append failed")
	}
}

func (m *Manager) auditf(ctx context.Context, action, subject string) {
	if m.deps.Audit == nil {
		return
	}
	if _, err := m.deps.Audit.Append(ctx, action, subject); err != nil {
		m.log.Warn().Err(err).Str("action", action).Msg("audit append failed")
	}
}
