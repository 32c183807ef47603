package p2p

import "context"

// Frame is one data channel message.
type Frame struct {
	Text bool
	Data []byte
}

type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

// Channel is an ordered, reliable data channel. Callbacks run on transport
// goroutines.
type Channel interface {
	OnOpen(func())
	OnClose(func())
	OnMessage(func(Frame))
	Send(data []byte) error
	SendText(text string) error
	Close() error
}

// Peer is one peer connection. CreateOffer and AcceptOffer return complete
// session descriptions, candidates included.
type Peer interface {
	CreateDataChannel(label string) (Channel, error)
	OnDataChannel(func(Channel))
	OnStateChange(func(PeerState))
	CreateOffer(ctx context.Context) (string, error)
	AcceptOffer(ctx context.Context, offer string) (string, error)
	SetAnswer(answer string) error
	Close() error
}

type PeerFactory interface {
	NewPeer(iceServers []string) (Peer, error)
}

// Signaler carries an offer to the remote device and returns its answer.
type Signaler interface {
	Exchange(ctx context.Context, deviceID, offer string) (string, error)
}

type SignalerFunc func(ctx context.Context, deviceID, offer string) (string, error)

func (f SignalerFunc) Exchange(ctx context.Context, deviceID, offer string) (string, error) {
	return f(ctx, deviceID, offer)
}
