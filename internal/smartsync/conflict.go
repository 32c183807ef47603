package smartsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConflictStatus int

const (
	ConflictPending ConflictStatus = iota
	ConflictResolved
	ConflictIgnored
	ConflictAutoResolving
)

var conflictStatusNames = map[ConflictStatus]string{
	ConflictPending:       "pending",
	ConflictResolved:      "resolved",
	ConflictIgnored:       "ignored",
	ConflictAutoResolving: "auto_resolving",
}

func (s ConflictStatus) String() string {
	if n, ok := conflictStatusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s ConflictStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Resolution int

const (
	UseLocal Resolution = iota
	UseRemote
	Merge
	CreateNew
	Delete
)

var resolutionNames = map[Resolution]string{
	UseLocal:  "use_local",
	UseRemote: "use_remote",
	Merge:     "merge",
	CreateNew: "create_new",
	Delete:    "delete",
}

func (r Resolution) String() string {
	if n, ok := resolutionNames[r]; ok {
		return n
	}
	return "unknown"
}

func (r Resolution) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Resolution) UnmarshalText(b []byte) error {
	v, err := ParseResolution(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func ParseResolution(s string) (Resolution, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, v := range resolutionNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("smartsync: unknown resolution %q", s)
}

// Conflict pairs a remote change with the local pending change it collides
// with.
type Conflict struct {
	ID         string         `json:"id"`
	ElementID  string         `json:"element_id"`
	Remote     DataChange     `json:"remote"`
	Local      DataChange     `json:"local"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     ConflictStatus `json:"status"`
	Resolution *Resolution    `json:"resolution,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Changes returns the two colliding changes, remote first.
func (c Conflict) Changes() [2]DataChange { return [2]DataChange{c.Remote, c.Local} }

// Conflicting reports whether two changes to the same element collide.
// Differing versions always collide. Otherwise changes of the same type are
// mergeable, and changes of different type collide only across devices.
// The rule is symmetric in a and b.
func Conflicting(a, b DataChange) bool {
	if a.ElementID != b.ElementID {
		return false
	}
	if a.Version != b.Version {
		return true
	}
	if a.ChangeType == b.ChangeType {
		return false
	}
	return a.SourceDevice != b.SourceDevice
}

// FindConflicts returns one pending conflict per colliding (local, remote)
// pair. Swapping the arguments yields conflicts over the same pairs.
func FindConflicts(local, remote []DataChange) []Conflict {
	byElement := make(map[string][]DataChange, len(local))
	for _, l := range local {
		byElement[l.ElementID] = append(byElement[l.ElementID], l)
	}
	now := time.Now().UTC()
	var out []Conflict
	for _, r := range remote {
		for _, l := range byElement[r.ElementID] {
			if l.ID == r.ID || !Conflicting(r, l) {
				continue
			}
			out = append(out, Conflict{
				ID:        uuid.NewString(),
				ElementID: r.ElementID,
				Remote:    r,
				Local:     l,
				Timestamp: now,
				Status:    ConflictPending,
			})
		}
	}
	return out
}

type Strategy int

const (
	LatestWins Strategy = iota
	LocalWins
	RemoteWins
	AutoMerge
	AskUser
)

var strategyNames = map[Strategy]string{
	LatestWins: "latest_wins",
	LocalWins:  "local_wins",
	RemoteWins: "remote_wins",
	AutoMerge:  "auto_merge",
	AskUser:    "ask_user",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, v := range strategyNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("smartsync: unknown strategy %q", s)
}

// Decide picks a resolution for c. AskUser never decides.
func (s Strategy) Decide(c Conflict) (Resolution, bool) {
	switch s {
	case LocalWins:
		return UseLocal, true
	case RemoteWins:
		return UseRemote, true
	case AutoMerge:
		return Merge, true
	case LatestWins:
		return latest(c), true
	}
	return 0, false
}

// latest prefers the newer timestamp, then the higher version, then local.
func latest(c Conflict) Resolution {
	switch {
	case c.Remote.Timestamp.After(c.Local.Timestamp):
		return UseRemote
	case c.Local.Timestamp.After(c.Remote.Timestamp):
		return UseLocal
	case c.Remote.Version > c.Local.Version:
		return UseRemote
	}
	return UseLocal
}

// mergeWinner settles a merge of two opaque payloads. Both peers see the
// same pair with sides swapped and must pick the same change, so every tie
// is broken on fields that read the same from either side.
func mergeWinner(c Conflict) Resolution {
	r, l := c.Remote, c.Local
	switch {
	case !r.Timestamp.Equal(l.Timestamp):
		return pick(r.Timestamp.After(l.Timestamp))
	case r.Version != l.Version:
		return pick(r.Version > l.Version)
	case r.CurrentHash != l.CurrentHash:
		return pick(r.CurrentHash > l.CurrentHash)
	case r.SourceDevice != l.SourceDevice:
		return pick(r.SourceDevice > l.SourceDevice)
	}
	return pick(r.ID > l.ID)
}

func pick(remote bool) Resolution {
	if remote {
		return UseRemote
	}
	return UseLocal
}

// RemoteApplies reports whether the settled outcome of c takes the remote
// change. A merge takes whichever side mergeWinner picks.
func (c Conflict) RemoteApplies() bool {
	if c.Resolution == nil || c.Status != ConflictResolved {
		return false
	}
	switch *c.Resolution {
	case UseRemote:
		return true
	case Merge:
		return mergeWinner(c) == UseRemote
	}
	return false
}
