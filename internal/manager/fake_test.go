package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/n3c4s/alohomora/internal/p2p"
)

// pipeChannel is one end of an in-memory data channel.
type pipeChannel struct {
	mu      sync.Mutex
	peer    *pipeChannel
	onOpen  func()
	onClose func()
	onMsg   func(p2p.Frame)
	open    bool
	closed  bool
}

func (c *pipeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	open := c.open
	c.mu.Unlock()
	if open {
		go fn()
	}
}

func (c *pipeChannel) OnClose(fn func())            { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *pipeChannel) OnMessage(fn func(p2p.Frame)) { c.mu.Lock(); c.onMsg = fn; c.mu.Unlock() }

func (c *pipeChannel) Send(data []byte) error {
	return c.deliver(p2p.Frame{Data: append([]byte(nil), data...)})
}

func (c *pipeChannel) SendText(text string) error {
	return c.deliver(p2p.Frame{Text: true, Data: []byte(text)})
}

func (c *pipeChannel) deliver(f p2p.Frame) error {
	c.mu.Lock()
	closed, peer := c.closed, c.peer
	c.mu.Unlock()
	if closed || peer == nil {
		return errors.New("pipe closed")
	}
	peer.mu.Lock()
	fn := peer.onMsg
	peer.mu.Unlock()
	if fn != nil {
		fn(f)
	}
	return nil
}

func (c *pipeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *pipeChannel) fireOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type pipePeer struct {
	hub       *pipeHub
	mu        sync.Mutex
	local     *pipeChannel
	onChannel func(p2p.Channel)
}

func (p *pipePeer) CreateDataChannel(string) (p2p.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &pipeChannel{}
	return p.local, nil
}

func (p *pipePeer) OnDataChannel(fn func(p2p.Channel)) {
	p.mu.Lock()
	p.onChannel = fn
	p.mu.Unlock()
}

func (p *pipePeer) OnStateChange(func(p2p.PeerState)) {}

func (p *pipePeer) CreateOffer(context.Context) (string, error) {
	return p.hub.register(p), nil
}

// AcceptOffer links this peer to the offering one and hands the remote end
// of the channel to OnDataChannel.
func (p *pipePeer) AcceptOffer(_ context.Context, offer string) (string, error) {
	offerer, ok := p.hub.lookup(offer)
	if !ok {
		return "", errors.New("unknown offer")
	}
	offerer.mu.Lock()
	a := offerer.local
	offerer.mu.Unlock()
	b := &pipeChannel{peer: a}
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()

	p.mu.Lock()
	fn := p.onChannel
	p.mu.Unlock()
	fn(b)
	return "answer:" + offer, nil
}

func (p *pipePeer) SetAnswer(answer string) error {
	p.mu.Lock()
	a := p.local
	p.mu.Unlock()
	a.mu.Lock()
	b := a.peer
	a.mu.Unlock()
	if b == nil {
		return errors.New("no remote end for " + answer)
	}
	b.fireOpen()
	go a.fireOpen()
	return nil
}

func (p *pipePeer) Close() error { return nil }

type pipeHub struct {
	mu     sync.Mutex
	n      int
	offers map[string]*pipePeer
}

func newPipeHub() *pipeHub { return &pipeHub{offers: map[string]*pipePeer{}} }

func (h *pipeHub) register(p *pipePeer) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.n++
	id := fmt.Sprintf("offer-%d", h.n)
	h.offers[id] = p
	return id
}

func (h *pipeHub) lookup(id string) (*pipePeer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.offers[id]
	return p, ok
}

func (h *pipeHub) NewPeer([]string) (p2p.Peer, error) { return &pipePeer{hub: h}, nil }
