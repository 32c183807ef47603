package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
)

// maxFrameSize keeps encoded messages under the data channel message limit.
const maxFrameSize = 60 << 10

const applyTimeout = 30 * time.Second

var ErrFrameTooLarge = errors.New("manager: change does not fit in one frame")

// SendBatch delivers changes to deviceID over its data channel and waits
// for the acknowledgement. Batches too large for one frame are split.
func (m *Manager) SendBatch(ctx context.Context, deviceID string, changes []smartsync.DataChange) error {
	c := m.conn(deviceID)
	if c == nil {
		return ErrNoConnection
	}
	return m.sendBatch(ctx, c, changes)
}

func (m *Manager) sendBatch(ctx context.Context, c *p2p.Connection, changes []smartsync.DataChange) error {
	msg := smartsync.Message{
		Type:     smartsync.MessageBatch,
		SourceID: m.local.ID,
		BatchID:  uuid.NewString(),
		Changes:  changes,
	}
	b, err := smartsync.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if len(b) > maxFrameSize {
		if len(changes) == 1 {
			return fmt.Errorf("%w: %s is %d bytes", ErrFrameTooLarge, changes[0].ElementID, len(b))
		}
		half := len(changes) / 2
		if err := m.sendBatch(ctx, c, changes[:half]); err != nil {
			return err
		}
		return m.sendBatch(ctx, c, changes[half:])
	}

	ack := m.expectAck(msg.BatchID)
	defer m.dropAck(msg.BatchID)
	if err := c.SendData(b); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) expectAck(batchID string) chan error {
	ch := make(chan error, 1)
	m.ackMu.Lock()
	m.acks[batchID] = ch
	m.ackMu.Unlock()
	return ch
}

func (m *Manager) dropAck(batchID string) {
	m.ackMu.Lock()
	delete(m.acks, batchID)
	m.ackMu.Unlock()
}

func (m *Manager) resolveAck(batchID string, err error) {
	m.ackMu.Lock()
	ch, ok := m.acks[batchID]
	delete(m.acks, batchID)
	m.ackMu.Unlock()
	if ok {
		ch <- err
	}
}

func (m *Manager) failAcks(err error) {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	for id, ch := range m.acks {
		ch <- err
		delete(m.acks, id)
	}
}

// handleFrame processes one message received from deviceID.
func (m *Manager) handleFrame(deviceID string, f p2p.Frame) {
	msg, err := smartsync.DecodeMessage(f.Data)
	if err != nil {
		m.log.Warn().Err(err).Str("device_id", deviceID).Msg("dropping malformed frame")
		return
	}
	switch msg.Type {
	case smartsync.MessageAck:
		var ackErr error
		if msg.Error != "" {
			ackErr = errors.New(msg.Error)
		}
		m.resolveAck(msg.BatchID, ackErr)
	case smartsync.MessageHeartbeat:
		now := time.Now().UTC()
		m.connected.Update(deviceID, func(d *device.Info) { d.Touch(now) })
	case smartsync.MessageBatch:
		m.receiveBatch(deviceID, msg)
	}
}

func (m *Manager) receiveBatch(deviceID string, msg smartsync.Message) {
	if !m.trusted(deviceID) {
		m.log.Warn().Str("device_id", deviceID).Int("changes", len(msg.Changes)).Msg("refusing batch from untrusted device")
		m.send(deviceID, smartsync.Message{
			Type:     smartsync.MessageAck,
			SourceID: m.local.ID,
			BatchID:  msg.BatchID,
			Error:    ErrUntrusted.Error(),
		})
		return
	}
	apply, conflicts := m.engine.ReceiveBatch(msg.Changes)
	m.deps.Metrics.AddConflicts(len(conflicts))

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()
	var failed []string
	if m.deps.Applier != nil {
		for _, ch := range apply {
			if err := m.deps.Applier.ApplyChange(ctx, ch); err != nil {
				m.log.Error().Err(err).Str("element_id", ch.ElementID).Msg("apply remote change failed")
				failed = append(failed, ch.ElementID)
			}
		}
	}
	now := time.Now().UTC()
	m.connected.Update(deviceID, func(d *device.Info) { d.Touch(now) })
	m.log.Info().
		Str("device_id", deviceID).
		Int("received", len(msg.Changes)).
		Int("applied", len(apply)-len(failed)).
		Int("conflicts", len(conflicts)).
		Msg("batch received")

	ack := smartsync.Message{Type: smartsync.MessageAck, SourceID: m.local.ID, BatchID: msg.BatchID}
	if len(failed) > 0 {
		ack.Error = "apply failed for " + strings.Join(failed, ",")
	}
	m.send(deviceID, ack)
}

func (m *Manager) sendHeartbeats() {
	m.connMu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id, c := range m.conns {
		if c.IsConnected() {
			ids = append(ids, id)
		}
	}
	m.connMu.Unlock()
	for _, id := range ids {
		m.send(id, smartsync.Message{Type: smartsync.MessageHeartbeat, SourceID: m.local.ID})
	}
}

func (m *Manager) send(deviceID string, msg smartsync.Message) {
	c := m.conn(deviceID)
	if c == nil {
		return
	}
	b, err := smartsync.EncodeMessage(msg)
	if err == nil {
		err = c.SendData(b)
	}
	if err != nil {
		m.log.Warn().Err(err).Str("device_id", deviceID).Str("type", string(msg.Type)).Msg("send failed")
	}
}
