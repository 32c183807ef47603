package smartsync

import (
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

const (
	MessageBatch     MessageType = "batch"
	MessageAck       MessageType = "ack"
	MessageHeartbeat MessageType = "heartbeat"
)

// Message is the frame exchanged over a peer data channel.
type Message struct {
	Type     MessageType  `json:"type"`
	SourceID string       `json:"source_id"`
	BatchID  string       `json:"batch_id,omitempty"`
	Changes  []DataChange `json:"changes,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("smartsync: decode message: %w", err)
	}
	switch m.Type {
	case MessageBatch, MessageAck, MessageHeartbeat:
	default:
		return Message{}, fmt.Errorf("smartsync: unknown message type %q", m.Type)
	}
	if m.SourceID == "" {
		return Message{}, errors.New("smartsync: message without source")
	}
	return m, nil
}
