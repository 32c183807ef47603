package device

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// MissingPolicy decides what Cleanup does with devices that never reported
// a LastSeen timestamp.
type MissingPolicy int

const (
	KeepMissing MissingPolicy = iota
	EvictMissing
)

// Registry is a concurrency-safe set of devices keyed by id. Callers get
// copies; mutations go through Upsert and Update.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Info
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Info)}
}

// Upsert stores a copy of d. Trust and ownership already recorded for the
// id are preserved.
func (r *Registry) Upsert(d *Info) (created bool) {
	c := d.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.devices[d.ID]; ok {
		c.IsTrusted = c.IsTrusted || old.IsTrusted
		c.IsOwner = c.IsOwner || old.IsOwner
		if c.LastSync == nil {
			c.LastSync = old.LastSync
		}
	} else {
		created = true
	}
	r.devices[d.ID] = c
	return created
}

// Observe records a network sighting. Descriptive fields and LastSeen are
// refreshed; status, trust and sync history of a known device are kept.
func (r *Registry) Observe(d *Info) (created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.devices[d.ID]
	if !ok {
		r.devices[d.ID] = d.Clone()
		return true
	}
	old.Name = d.Name
	old.Type = d.Type
	old.OS = d.OS
	old.OSVersion = d.OSVersion
	old.AppVersion = d.AppVersion
	old.IPAddress = d.IPAddress
	old.Port = d.Port
	if d.LastSeen != nil {
		t := *d.LastSeen
		old.LastSeen = &t
	}
	for k, v := range d.Metadata {
		if old.Metadata == nil {
			old.Metadata = map[string]string{}
		}
		old.Metadata[k] = v
	}
	return false
}

func (r *Registry) Get(id string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Update applies fn to the stored device under the lock. fn must not block.
func (r *Registry) Update(id string, fn func(*Info)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return false
	}
	fn(d)
	return true
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// List returns copies ordered by most recently seen.
func (r *Registry) List() []*Info {
	r.mu.RLock()
	out := make([]*Info, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Info) int {
		if c := ByLastSeen(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) Filter(keep func(*Info) bool) []*Info {
	var out []*Info
	for _, d := range r.List() {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// Search matches name, OS or type, case-insensitively.
func (r *Registry) Search(query string) []*Info {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.Filter(func(d *Info) bool {
		return q == "" ||
			strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.OS), q) ||
			strings.Contains(strings.ToLower(d.Type.String()), q)
	})
}

// Cleanup removes devices not seen within maxAge of now and returns their
// ids. Owner devices are never removed.
func (r *Registry) Cleanup(maxAge time.Duration, now time.Time, policy MissingPolicy) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, d := range r.devices {
		if d.IsOwner {
			continue
		}
		stale := false
		if d.LastSeen == nil {
			stale = policy == EvictMissing
		} else {
			stale = now.Sub(*d.LastSeen) > maxAge
		}
		if stale {
			delete(r.devices, id)
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	return removed
}
