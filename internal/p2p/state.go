package p2p

import "errors"

var (
	ErrAlreadyConnected  = errors.New("p2p: connection already active")
	ErrNotConnected      = errors.New("p2p: not connected")
	ErrConnectionTimeout = errors.New("p2p: connection timed out")
	ErrNegotiationFailed = errors.New("p2p: negotiation failed")
)

type StateKind int

const (
	StateDisconnected StateKind = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

var stateNames = map[StateKind]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateError:        "error",
}

func (k StateKind) String() string {
	if s, ok := stateNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k StateKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// State is the connection state. Reason is only set for StateError.
type State struct {
	Kind   StateKind `json:"kind"`
	Reason string    `json:"reason,omitempty"`
}

var (
	Disconnected = State{Kind: StateDisconnected}
	Connecting   = State{Kind: StateConnecting}
	Connected    = State{Kind: StateConnected}
	Reconnecting = State{Kind: StateReconnecting}
)

func Failed(reason string) State { return State{Kind: StateError, Reason: reason} }

func (s State) String() string {
	if s.Kind == StateError && s.Reason != "" {
		return "error: " + s.Reason
	}
	return s.Kind.String()
}
