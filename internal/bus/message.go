// Package bus implements the in-process message bus agents use to
// coordinate during workflow execution. It routes point-to-point and
// broadcast messages through per-recipient bounded queues and invokes
// filtered subscription handlers as messages flow through.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// BroadcastRecipient is the reserved recipient addressing every
// registered agent except the sender.
const BroadcastRecipient = "*"

// Common message types. The type field is free-form; these are the
// conventions the rest of the system uses.
const (
	TypeGeneral   = "general"
	TypeBroadcast = "broadcast"
	TypeRequest   = "request"
	TypeResponse  = "response"
)

// Message is a single unit of agent communication.
type Message struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a message with a fresh id and timestamp. A nil
// metadata map is allocated so callers can always read it.
func NewMessage(sender, recipient, content, msgType string, metadata map[string]any) *Message {
	if msgType == "" {
		msgType = TypeGeneral
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Type:      msgType,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
}

// clone copies the message under a fresh id, used when a broadcast is
// fanned out into one targeted message per recipient.
func (m *Message) clone(recipient string) *Message {
	metadata := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	return &Message{
		ID:        uuid.NewString(),
		Sender:    m.Sender,
		Recipient: recipient,
		Content:   m.Content,
		Type:      m.Type,
		Metadata:  metadata,
		Timestamp: m.Timestamp,
	}
}

// CorrelationID returns the request/response correlation id carried in
// the metadata, if any.
func (m *Message) CorrelationID() string {
	if v, ok := m.Metadata["correlation_id"].(string); ok {
		return v
	}
	return ""
}
