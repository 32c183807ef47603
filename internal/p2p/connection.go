// Package p2p manages a single direct data connection to a remote device.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/events"
)

const (
	ChannelLabel             = "alohomora-sync"
	DefaultConnectionTimeout = 30 * time.Second
	DefaultMaxBufferSize     = 1 << 20
)

var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	ICEServers        []string      `mapstructure:"ice_servers"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	MaxBufferSize     int           `mapstructure:"max_buffer_size"`
}

func DefaultConfig() Config {
	return Config{
		ICEServers:        append([]string(nil), DefaultICEServers...),
		ConnectionTimeout: DefaultConnectionTimeout,
		MaxBufferSize:     DefaultMaxBufferSize,
	}
}

type Stats struct {
	State          State      `json:"state"`
	RemoteDeviceID string     `json:"remote_device_id,omitempty"`
	BytesSent      uint64     `json:"bytes_sent"`
	BytesReceived  uint64     `json:"bytes_received"`
	FramesSent     uint64     `json:"frames_sent"`
	FramesReceived uint64     `json:"frames_received"`
	PendingFrames  int        `json:"pending_frames"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
}

// Connection is the state machine around one peer connection. Callbacks
// from a replaced or closed peer are ignored through the generation counter.
type Connection struct {
	cfg     Config
	factory PeerFactory
	emitter events.Emitter
	log     zerolog.Logger

	mu           sync.Mutex
	state        State
	gen          uint64
	remote       *device.Info
	peer         Peer
	channel      Channel
	opened       chan struct{}
	openOnce     *sync.Once
	handler      func(Frame)
	pending      []Frame
	pendingBytes int
	connectedAt  *time.Time

	bytesSent, bytesReceived   uint64
	framesSent, framesReceived uint64
}

func NewConnection(cfg Config, factory PeerFactory, emitter events.Emitter, log zerolog.Logger) *Connection {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if emitter == nil {
		emitter = events.Discard
	}
	return &Connection{
		cfg:     cfg,
		factory: factory,
		emitter: emitter,
		log:     log.With().Str("component", "p2p").Logger(),
		state:   Disconnected,
	}
}

// SetHandler routes received frames to fn instead of the pending buffer.
// A nil fn restores buffering.
func (c *Connection) SetHandler(fn func(Frame)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) IsConnected() bool { return c.State().Kind == StateConnected }

func (c *Connection) RemoteDevice() *device.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return nil
	}
	return c.remote.Clone()
}

// Connect negotiates a connection to d as the offering side and blocks until
// the data channel opens or the connection timeout elapses.
func (c *Connection) Connect(ctx context.Context, d *device.Info, sig Signaler) error {
	peer, gen, err := c.begin(d)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	if err := c.attachOffer(peer, gen); err != nil {
		return c.fail(gen, err)
	}
	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return c.fail(gen, negotiation(ctx, "create offer", err))
	}
	answer, err := sig.Exchange(ctx, d.ID, offer)
	if err != nil {
		return c.fail(gen, negotiation(ctx, "signal", err))
	}
	if err := peer.SetAnswer(answer); err != nil {
		return c.fail(gen, negotiation(ctx, "apply answer", err))
	}
	return c.waitOpen(ctx, gen)
}

// CreateOffer starts a connection whose answer is delivered later through
// ProcessAnswer.
func (c *Connection) CreateOffer(ctx context.Context, d *device.Info) (string, error) {
	peer, gen, err := c.begin(d)
	if err != nil {
		return "", err
	}
	if err := c.attachOffer(peer, gen); err != nil {
		return "", c.fail(gen, err)
	}
	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return "", c.fail(gen, negotiation(ctx, "create offer", err))
	}
	return offer, nil
}

func (c *Connection) ProcessAnswer(answer string) error {
	c.mu.Lock()
	peer, gen, st := c.peer, c.gen, c.state
	c.mu.Unlock()
	if peer == nil || st.Kind != StateConnecting {
		return ErrNotConnected
	}
	if err := peer.SetAnswer(answer); err != nil {
		return c.fail(gen, fmt.Errorf("%w: apply answer: %v", ErrNegotiationFailed, err))
	}
	return nil
}

// AcceptOffer answers an offer from d. The connection becomes Connected when
// the remote side opens its data channel.
func (c *Connection) AcceptOffer(ctx context.Context, d *device.Info, offer string) (string, error) {
	peer, gen, err := c.begin(d)
	if err != nil {
		return "", err
	}
	peer.OnDataChannel(func(ch Channel) { c.attachChannel(gen, ch) })
	answer, err := peer.AcceptOffer(ctx, offer)
	if err != nil {
		return "", c.fail(gen, negotiation(ctx, "accept offer", err))
	}
	return answer, nil
}

// WaitConnected blocks until the data channel of the current attempt opens.
func (c *Connection) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()
	return c.waitOpen(ctx, gen)
}

func (c *Connection) begin(d *device.Info) (Peer, uint64, error) {
	if d == nil {
		return nil, 0, errors.New("p2p: nil device")
	}
	c.mu.Lock()
	if c.state.Kind != StateDisconnected {
		c.mu.Unlock()
		return nil, 0, ErrAlreadyConnected
	}
	c.gen++
	gen := c.gen
	c.state = Connecting
	c.remote = d.Clone()
	c.opened = make(chan struct{})
	c.openOnce = new(sync.Once)
	c.mu.Unlock()

	c.log.Info().Str("device_id", d.ID).Str("name", d.Name).Msg("connecting")

	peer, err := c.factory.NewPeer(c.cfg.ICEServers)
	if err != nil {
		return nil, gen, c.fail(gen, fmt.Errorf("%w: new peer: %v", ErrNegotiationFailed, err))
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = peer.Close()
		return nil, gen, ErrNotConnected
	}
	c.peer = peer
	c.mu.Unlock()

	peer.OnStateChange(func(s PeerState) { c.peerStateChanged(gen, s) })
	return peer, gen, nil
}

func (c *Connection) attachOffer(peer Peer, gen uint64) error {
	ch, err := peer.CreateDataChannel(ChannelLabel)
	if err != nil {
		return fmt.Errorf("%w: data channel: %v", ErrNegotiationFailed, err)
	}
	c.attachChannel(gen, ch)
	return nil
}

func (c *Connection) attachChannel(gen uint64, ch Channel) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = ch.Close()
		return
	}
	c.channel = ch
	c.mu.Unlock()

	ch.OnOpen(func() { c.channelOpened(gen) })
	ch.OnClose(func() { c.channelClosed(gen) })
	ch.OnMessage(func(f Frame) { c.receive(gen, f) })
}

func (c *Connection) channelOpened(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || (c.state.Kind != StateConnecting && c.state.Kind != StateReconnecting) {
		c.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	c.state = Connected
	c.connectedAt = &now
	id := ""
	if c.remote != nil {
		id = c.remote.ID
	}
	opened, once := c.opened, c.openOnce
	c.mu.Unlock()

	c.log.Info().Str("device_id", id).Msg("data channel open")
	c.emitter.Emit(events.Connected(id))
	once.Do(func() { close(opened) })
}

func (c *Connection) channelClosed(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state.Kind != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = Failed("data channel closed")
	c.mu.Unlock()
	c.log.Warn().Msg("data channel closed by remote")
}

func (c *Connection) peerStateChanged(gen uint64, s PeerState) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	prev := c.state
	switch s {
	case PeerFailed:
		c.state = Failed("connection failed")
	case PeerDisconnected:
		if prev.Kind == StateConnected {
			c.state = Reconnecting
		}
	case PeerConnected:
		if prev.Kind == StateReconnecting {
			c.state = Connected
		}
	case PeerClosed:
		if prev.Kind != StateError {
			c.state = Disconnected
		}
	}
	next := c.state
	c.mu.Unlock()

	if next != prev {
		c.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state changed")
	}
}

func (c *Connection) receive(gen uint64, f Frame) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.bytesReceived += uint64(len(f.Data))
	c.framesReceived++
	if h := c.handler; h != nil {
		c.mu.Unlock()
		h(f)
		return
	}
	c.pending = append(c.pending, f)
	c.pendingBytes += len(f.Data)
	dropped := 0
	for c.pendingBytes > c.cfg.MaxBufferSize && len(c.pending) > 0 {
		c.pendingBytes -= len(c.pending[0].Data)
		c.pending = c.pending[1:]
		dropped++
	}
	c.mu.Unlock()
	if dropped > 0 {
		c.log.Warn().Int("dropped", dropped).Msg("receive buffer full, dropped oldest frames")
	}
}

func (c *Connection) waitOpen(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	opened := c.opened
	current := c.gen == gen
	c.mu.Unlock()
	if opened == nil || !current {
		return ErrNotConnected
	}
	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.fail(gen, ErrConnectionTimeout)
		}
		return c.fail(gen, ctx.Err())
	}
}

// fail moves the attempt gen to the error state and releases its peer.
func (c *Connection) fail(gen uint64, err error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return err
	}
	c.state = Failed(err.Error())
	peer, ch := c.peer, c.channel
	c.peer, c.channel = nil, nil
	c.mu.Unlock()

	closeAll(ch, peer)
	c.log.Warn().Err(err).Msg("connection failed")
	return err
}

func negotiation(ctx context.Context, step string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrConnectionTimeout
	}
	return fmt.Errorf("%w: %s: %w", ErrNegotiationFailed, step, err)
}

func (c *Connection) SendData(data []byte) error {
	return c.send(Frame{Data: data})
}

func (c *Connection) SendText(text string) error {
	return c.send(Frame{Text: true, Data: []byte(text)})
}

func (c *Connection) send(f Frame) error {
	c.mu.Lock()
	ch := c.channel
	if c.state.Kind != StateConnected || ch == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	var err error
	if f.Text {
		err = ch.SendText(string(f.Data))
	} else {
		err = ch.Send(f.Data)
	}
	if err != nil {
		return fmt.Errorf("p2p: send: %w", err)
	}

	c.mu.Lock()
	c.bytesSent += uint64(len(f.Data))
	c.framesSent++
	c.mu.Unlock()
	return nil
}

// PendingData drains the receive buffer.
func (c *Connection) PendingData() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	c.pendingBytes = 0
	return out
}

// Disconnect closes the channel and peer and forgets the remote device. It
// is safe in every state.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.gen++
	prev := c.state
	peer, ch := c.peer, c.channel
	id := ""
	if c.remote != nil {
		id = c.remote.ID
	}
	c.peer, c.channel, c.remote = nil, nil, nil
	c.connectedAt = nil
	c.state = Disconnected
	c.mu.Unlock()

	err := closeAll(ch, peer)
	if prev.Kind != StateDisconnected {
		c.log.Info().Str("device_id", id).Msg("disconnected")
		if prev.Kind == StateConnected || prev.Kind == StateReconnecting {
			c.emitter.Emit(events.Disconnected(id))
		}
	}
	return err
}

func closeAll(ch Channel, peer Peer) error {
	var errs []error
	if ch != nil {
		errs = append(errs, ch.Close())
	}
	if peer != nil {
		errs = append(errs, peer.Close())
	}
	return errors.Join(errs...)
}

func (c *Connection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		State:          c.state,
		BytesSent:      c.bytesSent,
		BytesReceived:  c.bytesReceived,
		FramesSent:     c.framesSent,
		FramesReceived: c.framesReceived,
		PendingFrames:  len(c.pending),
	}
	if c.remote != nil {
		s.RemoteDeviceID = c.remote.ID
	}
	if c.connectedAt != nil {
		t := *c.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
