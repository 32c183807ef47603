// Package discovery announces the local device on the LAN and collects
// announcements from peers.
package discovery

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/events"
)

const (
	DefaultService          = "_alohopass._tcp"
	DefaultDomain           = "local."
	DefaultAnnounceInterval = 30 * time.Second
	DefaultTTL              = 120
)

type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	Service          string        `mapstructure:"service"`
	Domain           string        `mapstructure:"domain"`
	Port             int           `mapstructure:"port"`
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`
	TTL              uint32        `mapstructure:"ttl"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Service:          DefaultService,
		Domain:           DefaultDomain,
		AnnounceInterval: DefaultAnnounceInterval,
		TTL:              DefaultTTL,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Service == "" {
		c.Service = d.Service
	}
	if c.Domain == "" {
		c.Domain = d.Domain
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = d.AnnounceInterval
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
}

// Discovery owns the announce and browse tasks. The discovered set itself
// belongs to the caller-supplied registry.
type Discovery struct {
	cfg       Config
	local     *device.Info
	registry  *device.Registry
	emitter   events.Emitter
	transport Transport
	log       zerolog.Logger
	instance  string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	reg     Registration
}

func New(cfg Config, local *device.Info, registry *device.Registry, emitter events.Emitter, transport Transport, log zerolog.Logger) *Discovery {
	cfg.setDefaults()
	if emitter == nil {
		emitter = events.Discard
	}
	return &Discovery{
		cfg:       cfg,
		local:     local.Clone(),
		registry:  registry,
		emitter:   emitter,
		transport: transport,
		log:       log.With().Str("component", "discovery").Logger(),
		instance:  instanceName(),
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "alohomora"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (d *Discovery) Instance() string { return d.instance }

func (d *Discovery) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start registers the announcement and launches the announce and browse
// tasks. A failed registration is retried on the next announce tick.
func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	if d.transport == nil {
		return errors.New("discovery: no transport")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.running = true

	if err := d.announceLocked(runCtx); err != nil {
		d.log.Warn().Err(err).Msg("announce failed, will retry")
	}

	d.wg.Add(2)
	go d.announceLoop(runCtx)
	go d.browseLoop(runCtx)

	d.log.Info().Str("instance", d.instance).Str("service", d.cfg.Service).Msg("discovery started")
	return nil
}

// Stop cancels both tasks, waits for them and withdraws the announcement.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	if d.reg != nil {
		d.reg.Shutdown()
		d.reg = nil
	}
	d.mu.Unlock()
	d.log.Info().Msg("discovery stopped")
}

func (d *Discovery) announceLocked(ctx context.Context) error {
	if d.reg != nil {
		return d.reg.Refresh(localTXT(d.local))
	}
	reg, err := d.transport.Announce(ctx, Announcement{
		Instance: d.instance,
		Service:  d.cfg.Service,
		Domain:   d.cfg.Domain,
		Port:     d.cfg.Port,
		TTL:      d.cfg.TTL,
		TXT:      localTXT(d.local),
	})
	if err != nil {
		return err
	}
	d.reg = reg
	return nil
}

func (d *Discovery) announceLoop(ctx context.Context) {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.AnnounceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		d.mu.Lock()
		err := d.announceLocked(ctx)
		d.mu.Unlock()
		if err != nil {
			d.log.Warn().Err(err).Msg("announce failed, will retry")
			continue
		}
		d.emitter.Emit(events.Beat())
	}
}

// browseLoop browses in windows of one announce interval so a failing
// resolver is retried on the same cadence.
func (d *Discovery) browseLoop(ctx context.Context) {
	defer d.wg.Done()
	for ctx.Err() == nil {
		window, cancel := context.WithTimeout(ctx, d.cfg.AnnounceInterval)
		err := d.transport.Browse(window, d.cfg.Service, d.cfg.Domain, d.handleRecord)
		<-window.Done()
		cancel()
		if err != nil && ctx.Err() == nil {
			d.log.Warn().Err(err).Msg("browse failed, will retry")
		}
	}
}

func (d *Discovery) handleRecord(r ServiceRecord) {
	if r.Instance == d.instance || r.TXT[txtDeviceID] == d.local.ID {
		return
	}
	info := parseRecord(r)
	created := d.registry.Observe(info)
	if created {
		d.log.Info().Str("device_id", info.ID).Str("name", info.Name).Str("type", info.Type.String()).Msg("device discovered")
	}
	stored, ok := d.registry.Get(info.ID)
	if !ok {
		stored = info
	}
	d.emitter.Emit(events.Discovered(stored))
}

// Devices returns every device currently in the discovered set.
func (d *Discovery) Devices() []*device.Info {
	return d.registry.List()
}

// CleanupOldDevices drops devices not seen within maxAge. Devices that never
// reported a LastSeen are kept.
func (d *Discovery) CleanupOldDevices(maxAge time.Duration) []string {
	removed := d.registry.Cleanup(maxAge, time.Now().UTC(), device.KeepMissing)
	if len(removed) > 0 {
		d.log.Debug().Strs("device_ids", removed).Msg("removed stale devices")
	}
	return removed
}
