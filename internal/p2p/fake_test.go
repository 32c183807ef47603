package p2p

import (
	"context"
	"errors"
	"sync"
)

type fakeChannel struct {
	mu      sync.Mutex
	onOpen  func()
	onClose func()
	onMsg   func(Frame)
	sent    []Frame
	closed  bool
	sendErr error
}

func (c *fakeChannel) OnOpen(fn func())         { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *fakeChannel) OnClose(fn func())        { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *fakeChannel) OnMessage(fn func(Frame)) { c.mu.Lock(); c.onMsg = fn; c.mu.Unlock() }

func (c *fakeChannel) Send(data []byte) error { return c.record(Frame{Data: data}) }

func (c *fakeChannel) SendText(text string) error {
	return c.record(Frame{Text: true, Data: []byte(text)})
}

func (c *fakeChannel) record(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) deliver(f Frame) {
	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()
	fn(f)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakePeer struct {
	mu        sync.Mutex
	channel   *fakeChannel
	onChannel func(Channel)
	onState   func(PeerState)
	answer    string
	closed    bool
	// openOnAnswer opens the data channel as soon as an answer is applied.
	openOnAnswer bool
	offerErr     error
}

func (p *fakePeer) CreateDataChannel(string) (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = &fakeChannel{}
	return p.channel, nil
}

func (p *fakePeer) OnDataChannel(fn func(Channel))   { p.mu.Lock(); p.onChannel = fn; p.mu.Unlock() }
func (p *fakePeer) OnStateChange(fn func(PeerState)) { p.mu.Lock(); p.onState = fn; p.mu.Unlock() }

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return "offer-sdp", nil
}

func (p *fakePeer) AcceptOffer(_ context.Context, offer string) (string, error) {
	if offer == "" {
		return "", errors.New("empty offer")
	}
	return "answer-sdp", nil
}

func (p *fakePeer) SetAnswer(answer string) error {
	p.mu.Lock()
	p.answer = answer
	ch, open := p.channel, p.openOnAnswer
	p.mu.Unlock()
	if open && ch != nil {
		go ch.open()
	}
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) state(s PeerState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) remoteChannel() *fakeChannel {
	ch := &fakeChannel{}
	p.mu.Lock()
	fn := p.onChannel
	p.mu.Unlock()
	fn(ch)
	return ch
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	next  func() *fakePeer
	err   error
}

func (f *fakeFactory) NewPeer([]string) (Peer, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{openOnAnswer: true}
	if f.next != nil {
		p = f.next()
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

func echoSignaler() Signaler {
	return SignalerFunc(func(_ context.Context, _, offer string) (string, error) {
		if offer == "" {
			return "", errors.New("empty offer")
		}
		return "answer-sdp", nil
	})
}
