// Package events defines the sync lifecycle events exchanged between the
// discovery, change and orchestration layers.
package events

import (
	"time"

	"github.com/n3c4s/alohomora/internal/device"
)

type Kind int

const (
	DeviceDiscovered Kind = iota
	DeviceConnected
	DeviceDisconnected
	SyncStarted
	SyncCompleted
	SyncFailed
	ChangesDetected
	Heartbeat
)

var kindNames = map[Kind]string{
	DeviceDiscovered:   "device_discovered",
	DeviceConnected:    "device_connected",
	DeviceDisconnected: "device_disconnected",
	SyncStarted:        "sync_started",
	SyncCompleted:      "sync_completed",
	SyncFailed:         "sync_failed",
	ChangesDetected:    "changes_detected",
	Heartbeat:          "heartbeat",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is one entry of the ordered sync event stream. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind     Kind         `json:"kind"`
	DeviceID string       `json:"device_id,omitempty"`
	Device   *device.Info `json:"device,omitempty"`
	Count    int          `json:"count,omitempty"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// Emitter accepts events in order. Implementations may block while the
// stream is full.
type Emitter interface {
	Emit(Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

func Discovered(d *device.Info) Event {
	return Event{Kind: DeviceDiscovered, DeviceID: d.ID, Device: d, At: time.Now().UTC()}
}

func Connected(id string) Event {
	return Event{Kind: DeviceConnected, DeviceID: id, At: time.Now().UTC()}
}

func Disconnected(id string) Event {
	return Event{Kind: DeviceDisconnected, DeviceID: id, At: time.Now().UTC()}
}

func Started(id string) Event {
	return Event{Kind: SyncStarted, DeviceID: id, At: time.Now().UTC()}
}

func Completed(id string, count int) Event {
	return Event{Kind: SyncCompleted, DeviceID: id, Count: count, At: time.Now().UTC()}
}

func Failed(id, msg string) Event {
	return Event{Kind: SyncFailed, DeviceID: id, Error: msg, At: time.Now().UTC()}
}

func Changes(n int) Event {
	return Event{Kind: ChangesDetected, Count: n, At: time.Now().UTC()}
}

func Beat() Event {
	return Event{Kind: Heartbeat, At: time.Now().UTC()}
}

// Recorder collects events; it is meant for tests and diagnostics.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder { return &Recorder{ch: make(chan Event, size)} }

func (r *Recorder) Emit(e Event) {
	select {
	case r.ch <- e:
	default:
	}
}

func (r *Recorder) C() <-chan Event { return r.ch }

// Drain returns everything received so far without blocking.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
