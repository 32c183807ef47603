package smartsync

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/events"
)

const DefaultMaxBatchSize = 100

type Config struct {
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	Strategy     Strategy      `mapstructure:"strategy"`
	AutoResolve  bool          `mapstructure:"auto_resolve"`
	SyncTimeout  time.Duration `mapstructure:"sync_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize: DefaultMaxBatchSize,
		Strategy:     LatestWins,
		AutoResolve:  true,
		SyncTimeout:  60 * time.Second,
	}
}

// Transport ships one batch of changes to a device and returns once the
// device has accepted it.
type Transport interface {
	SendBatch(ctx context.Context, deviceID string, changes []DataChange) error
}

type TransportFunc func(ctx context.Context, deviceID string, changes []DataChange) error

func (f TransportFunc) SendBatch(ctx context.Context, deviceID string, changes []DataChange) error {
	return f(ctx, deviceID, changes)
}

// Engine holds the pending, synced and conflict sets. It never holds its
// lock across a transport call.
type Engine struct {
	cfg     Config
	emitter events.Emitter
	log     zerolog.Logger

	mu        sync.Mutex
	pending   []DataChange
	synced    []DataChange
	syncedAt  map[string]time.Time
	conflicts []Conflict
	syncing   map[string]struct{}
	lastSync  *time.Time
	nextSync  *time.Time
	stats     Stats
	onResolve func(Conflict)
}

func New(cfg Config, emitter events.Emitter, log zerolog.Logger) *Engine {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if emitter == nil {
		emitter = events.Discard
	}
	return &Engine{
		cfg:      cfg,
		emitter:  emitter,
		log:      log.With().Str("component", "smartsync").Logger(),
		syncedAt: make(map[string]time.Time),
		syncing:  make(map[string]struct{}),
	}
}

// OnResolve registers fn to be called with every conflict that gets
// resolved, manually or automatically.
func (e *Engine) OnResolve(fn func(Conflict)) {
	e.mu.Lock()
	e.onResolve = fn
	e.mu.Unlock()
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) AddChange(c DataChange) error {
	if !c.Valid() {
		return ErrInvalidChange
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	if c.CurrentHash == "" {
		c.CurrentHash = HashData(c.ElementData)
	}
	e.mu.Lock()
	e.pending = append(e.pending, c)
	e.mu.Unlock()

	e.log.Debug().Str("element_id", c.ElementID).Str("type", c.ChangeType.String()).Int("bytes", c.DataSize()).Msg("change recorded")
	e.emitter.Emit(events.Changes(1))
	return nil
}

func (e *Engine) Pending() []DataChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pending)
}

func (e *Engine) Synced() []DataChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.synced)
}

func (e *Engine) Conflicts() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.conflicts)
}

// Blocked reports whether elementID has a pending conflict. Blocked
// elements are held back from outgoing batches.
func (e *Engine) Blocked(elementID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blockedLocked(elementID)
}

func (e *Engine) blockedLocked(elementID string) bool {
	for _, c := range e.conflicts {
		if c.ElementID == elementID && c.Status == ConflictPending {
			return true
		}
	}
	return false
}

// SyncWithDevice sends every pending, unblocked change to d in batches.
// Each accepted batch moves to the synced set at once, so a failure part
// way through leaves earlier batches synced.
func (e *Engine) SyncWithDevice(ctx context.Context, d *device.Info, tr Transport) SyncResult {
	start := time.Now()

	e.mu.Lock()
	var out []DataChange
	for _, c := range e.pending {
		if !e.blockedLocked(c.ElementID) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		e.mu.Unlock()
		e.log.Debug().Str("device_id", d.ID).Msg("nothing to sync")
		return successResult(d.ID, 0, 0, time.Since(start))
	}
	e.syncing[d.ID] = struct{}{}
	e.mu.Unlock()

	e.log.Info().Str("device_id", d.ID).Str("name", d.Name).Int("changes", len(out)).Msg("sync started")
	e.emitter.Emit(events.Started(d.ID))

	if e.cfg.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SyncTimeout)
		defer cancel()
	}

	n, size := 0, 0
	for batch := range slices.Chunk(out, e.cfg.MaxBatchSize) {
		if err := tr.SendBatch(ctx, d.ID, batch); err != nil {
			err = &SyncError{DeviceID: d.ID, Op: "send batch", Err: err}
			res := failureResult(d.ID, n, size, time.Since(start), err)
			e.finish(d.ID, res)
			e.log.Error().Err(err).Str("device_id", d.ID).Int("synced", n).Msg("sync failed")
			e.emitter.Emit(events.Failed(d.ID, err.Error()))
			return res
		}
		e.markSynced(batch)
		n += len(batch)
		for _, c := range batch {
			size += c.DataSize()
		}
	}

	res := successResult(d.ID, n, size, time.Since(start))
	e.finish(d.ID, res)
	e.log.Info().Str("device_id", d.ID).Int("elements", n).Int("bytes", size).Dur("took", res.Duration).Msg("sync completed")
	e.emitter.Emit(events.Completed(d.ID, n))
	return res
}

func (e *Engine) markSynced(batch []DataChange) {
	ids := make(map[string]struct{}, len(batch))
	for _, c := range batch {
		ids[c.ID] = struct{}{}
	}
	now := time.Now().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = slices.DeleteFunc(e.pending, func(c DataChange) bool {
		_, ok := ids[c.ID]
		return ok
	})
	for _, c := range batch {
		if _, seen := e.syncedAt[c.ID]; seen {
			continue
		}
		e.synced = append(e.synced, c)
		e.syncedAt[c.ID] = now
	}
}

func (e *Engine) finish(deviceID string, res SyncResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.syncing, deviceID)
	e.stats.TotalSyncs++
	e.stats.LastSyncDuration = res.Duration
	if !res.Success {
		e.stats.FailedSyncs++
		return
	}
	now := time.Now().UTC()
	e.lastSync = &now
	e.stats.SuccessfulSyncs++
	e.stats.TotalDataSynced += uint64(res.DataSize)
	if !slices.Contains(e.stats.DevicesSyncedWith, deviceID) {
		e.stats.DevicesSyncedWith = append(e.stats.DevicesSyncedWith, deviceID)
	}
}

// DetectConflicts compares remote changes against the pending set and
// records every collision as a pending conflict.
func (e *Engine) DetectConflicts(remote []DataChange) []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := FindConflicts(e.pending, remote)
	e.conflicts = append(e.conflicts, found...)
	if len(found) > 0 {
		e.log.Warn().Int("conflicts", len(found)).Msg("conflicts detected")
	}
	return found
}

// ResolveConflict records resolution for the conflict id. Resolving in
// favour of the remote side, or deleting, drops the local pending change. A
// merge whose winner is the remote change drops it too, so both peers end
// up holding the same record.
func (e *Engine) ResolveConflict(id string, r Resolution) (Conflict, error) {
	e.mu.Lock()
	c, err := e.resolveLocked(id, r)
	hook := e.onResolve
	e.mu.Unlock()
	if err != nil {
		return Conflict{}, err
	}
	e.log.Info().Str("conflict_id", id).Str("element_id", c.ElementID).Str("resolution", r.String()).Msg("conflict resolved")
	if hook != nil {
		hook(c)
	}
	return c, nil
}

func (e *Engine) resolveLocked(id string, r Resolution) (Conflict, error) {
	i := slices.IndexFunc(e.conflicts, func(c Conflict) bool { return c.ID == id })
	if i < 0 {
		return Conflict{}, ErrConflictNotFound
	}
	now := time.Now().UTC()
	c := &e.conflicts[i]
	c.Status = ConflictResolved
	c.Resolution = &r
	c.ResolvedAt = &now
	if c.RemoteApplies() || r == Delete {
		localID := c.Local.ID
		e.pending = slices.DeleteFunc(e.pending, func(p DataChange) bool { return p.ID == localID })
	}
	return *c, nil
}

// IgnoreConflict marks a conflict ignored without choosing a side.
func (e *Engine) IgnoreConflict(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.IndexFunc(e.conflicts, func(c Conflict) bool { return c.ID == id })
	if i < 0 {
		return ErrConflictNotFound
	}
	now := time.Now().UTC()
	e.conflicts[i].Status = ConflictIgnored
	e.conflicts[i].ResolvedAt = &now
	return nil
}

// AutoResolve resolves every pending conflict according to the configured
// strategy. With AskUser nothing is resolved.
func (e *Engine) AutoResolve() []Conflict {
	e.mu.Lock()
	var todo []Conflict
	for i := range e.conflicts {
		if e.conflicts[i].Status == ConflictPending {
			if _, ok := e.cfg.Strategy.Decide(e.conflicts[i]); ok {
				e.conflicts[i].Status = ConflictAutoResolving
				todo = append(todo, e.conflicts[i])
			}
		}
	}
	e.mu.Unlock()

	var out []Conflict
	for _, c := range todo {
		r, _ := e.cfg.Strategy.Decide(c)
		done, err := e.ResolveConflict(c.ID, r)
		if err != nil {
			continue
		}
		out = append(out, done)
	}
	return out
}

// ReceiveBatch takes changes sent by a peer and returns those that should
// be applied locally. Changes caught in a conflict are applied only once the
// conflict is resolved in favour of the remote side.
func (e *Engine) ReceiveBatch(remote []DataChange) ([]DataChange, []Conflict) {
	var valid []DataChange
	for _, c := range remote {
		if c.Valid() {
			valid = append(valid, c)
		}
	}
	found := e.DetectConflicts(valid)
	if e.cfg.AutoResolve {
		e.AutoResolve()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	held := make(map[string]bool)
	for _, c := range found {
		i := slices.IndexFunc(e.conflicts, func(x Conflict) bool { return x.ID == c.ID })
		if cur := e.conflicts[i]; !cur.RemoteApplies() {
			held[cur.Remote.ID] = true
		}
	}
	var apply []DataChange
	for _, c := range valid {
		if !held[c.ID] {
			apply = append(apply, c)
		}
	}
	return apply, found
}

// CleanupOldChanges drops synced changes and settled conflicts older than
// maxAge. Pending conflicts are always kept.
func (e *Engine) CleanupOldChanges(maxAge time.Duration) (changes, conflicts int) {
	cutoff := time.Now().UTC().Add(-maxAge)
	e.mu.Lock()
	defer e.mu.Unlock()
	before := len(e.synced)
	e.synced = slices.DeleteFunc(e.synced, func(c DataChange) bool {
		if c.Timestamp.Before(cutoff) {
			delete(e.syncedAt, c.ID)
			return true
		}
		return false
	})
	changes = before - len(e.synced)

	before = len(e.conflicts)
	e.conflicts = slices.DeleteFunc(e.conflicts, func(c Conflict) bool {
		return c.Status != ConflictPending && c.Timestamp.Before(cutoff)
	})
	conflicts = before - len(e.conflicts)
	return changes, conflicts
}

// SetNextSync records when the next scheduled sync is due.
func (e *Engine) SetNextSync(t time.Time) {
	e.mu.Lock()
	e.nextSync = &t
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := State{
		IsActive:       len(e.syncing) > 0,
		PendingChanges: len(e.pending),
		SyncingDevices: make([]string, 0, len(e.syncing)),
	}
	for id := range e.syncing {
		s.SyncingDevices = append(s.SyncingDevices, id)
	}
	slices.Sort(s.SyncingDevices)
	for _, c := range e.conflicts {
		if c.Status == ConflictPending {
			s.PendingConflicts++
		}
	}
	if e.lastSync != nil {
		t := *e.lastSync
		s.LastSync = &t
	}
	if e.nextSync != nil {
		t := *e.nextSync
		s.NextSync = &t
	}
	return s
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.DevicesSyncedWith = slices.Clone(e.stats.DevicesSyncedWith)
	return s
}
