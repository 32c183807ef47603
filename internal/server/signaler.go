package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/manager"
)

// DeviceLookup resolves a device id to its last known address.
type DeviceLookup interface {
	Device(id string) (*device.Info, bool)
}

// HTTPSignaler carries connection offers to the peer's /api/p2p/offer
// endpoint at the address announced through discovery.
type HTTPSignaler struct {
	client *http.Client

	mu     sync.RWMutex
	local  *device.Info
	lookup DeviceLookup
}

func NewHTTPSignaler(client *http.Client) *HTTPSignaler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSignaler{client: client}
}

// Bind sets the local device sent with each offer and the lookup used to
// find peers. It must be called before the first Exchange.
func (s *HTTPSignaler) Bind(local *device.Info, lookup DeviceLookup) {
	s.mu.Lock()
	s.local = local.Clone()
	s.lookup = lookup
	s.mu.Unlock()
}

func (s *HTTPSignaler) Exchange(ctx context.Context, deviceID, offer string) (string, error) {
	s.mu.RLock()
	local, lookup := s.local, s.lookup
	s.mu.RUnlock()
	if lookup == nil {
		return "", errors.New("signaler: not bound")
	}
	d, ok := lookup.Device(deviceID)
	if !ok {
		return "", manager.ErrDeviceNotFound
	}
	if d.IPAddress == "" || d.Port <= 0 {
		return "", fmt.Errorf("signaler: no address for %s", deviceID)
	}

	body, err := json.Marshal(OfferRequest{Device: local, Offer: offer})
	if err != nil {
		return "", err
	}
	url := "http://" + net.JoinHostPort(d.IPAddress, strconv.Itoa(d.Port)) + "/api/p2p/offer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signaler: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return "", manager.ErrIncomingDisabled
	default:
		var e errorResp
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return "", fmt.Errorf("signaler: peer %s: %s", deviceID, e.Error)
	}
	var out OfferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("signaler: decode answer: %w", err)
	}
	if out.Answer == "" {
		return "", errors.New("signaler: empty answer")
	}
	return out.Answer, nil
}
