package p2p

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPionOfferCarriesDataChannel(t *testing.T) {
	peer, err := NewPionFactory().NewPeer(nil)
	if err != nil {
		t.Fatalf("new peer: %v", err)
	}
	defer peer.Close()

	if _, err := peer.CreateDataChannel(ChannelLabel); err != nil {
		t.Fatalf("data channel: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sdp, err := peer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if !strings.Contains(sdp, "webrtc-datachannel") {
		t.Fatalf("offer has no data channel section:\n%s", sdp)
	}
}
