package p2p

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// PionFactory builds WebRTC peers.
type PionFactory struct {
	api *webrtc.API
}

func NewPionFactory() *PionFactory {
	return &PionFactory{api: webrtc.NewAPI()}
}

func (f *PionFactory) NewPeer(iceServers []string) (Peer, error) {
	cfg := webrtc.Configuration{}
	for _, u := range iceServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateDataChannel(label string) (Channel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) OnDataChannel(fn func(Channel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) { fn(&pionChannel{dc: dc}) })
}

var peerStates = map[webrtc.PeerConnectionState]PeerState{
	webrtc.PeerConnectionStateNew:          PeerNew,
	webrtc.PeerConnectionStateConnecting:   PeerConnecting,
	webrtc.PeerConnectionStateConnected:    PeerConnected,
	webrtc.PeerConnectionStateDisconnected: PeerDisconnected,
	webrtc.PeerConnectionStateFailed:       PeerFailed,
	webrtc.PeerConnectionStateClosed:       PeerClosed,
}

func (p *pionPeer) OnStateChange(fn func(PeerState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ps, ok := peerStates[s]; ok {
			fn(ps)
		}
	})
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return p.setLocal(ctx, offer)
}

func (p *pionPeer) AcceptOffer(ctx context.Context, offer string) (string, error) {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer})
	if err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	return p.setLocal(ctx, answer)
}

// setLocal applies desc and waits for ICE gathering so the returned SDP
// carries every candidate.
func (p *pionPeer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return "", errors.New("no local description")
	}
	return local.SDP, nil
}

func (p *pionPeer) SetAnswer(answer string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer})
}

func (p *pionPeer) Close() error { return p.pc.Close() }

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) OnMessage(fn func(Frame)) {
	c.dc.OnMessage(func(m webrtc.DataChannelMessage) {
		fn(Frame{Text: m.IsString, Data: m.Data})
	})
}

func (c *pionChannel) Send(data []byte) error     { return c.dc.Send(data) }
func (c *pionChannel) SendText(text string) error { return c.dc.SendText(text) }
func (c *pionChannel) Close() error               { return c.dc.Close() }
