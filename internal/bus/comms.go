package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds a request/response exchange when the
// caller does not specify one.
const DefaultRequestTimeout = 30 * time.Second

// requestPollInterval is how often RequestResponse drains the mailbox
// while waiting for the correlated reply.
const requestPollInterval = 20 * time.Millisecond

// Comms is the per-agent view of the bus. It scopes sends, receives,
// and subscriptions to one agent id and tracks the subscriptions for
// Cleanup.
type Comms struct {
	agentID string
	bus     *Bus
	subs    []string
}

// NewComms binds an agent id to the bus. The agent must already be
// registered for its mailbox to exist.
func NewComms(agentID string, b *Bus) *Comms {
	return &Comms{agentID: agentID, bus: b}
}

// AgentID returns the bound agent id.
func (c *Comms) AgentID() string { return c.agentID }

// Send delivers a message to another agent.
func (c *Comms) Send(recipient, content, msgType string, metadata map[string]any) error {
	return c.bus.Send(NewMessage(c.agentID, recipient, content, msgType, metadata))
}

// Broadcast delivers a message to every other registered agent.
func (c *Comms) Broadcast(content, msgType string, metadata map[string]any) error {
	return c.bus.Broadcast(c.agentID, content, msgType, metadata)
}

// Receive drains the agent's pending messages.
func (c *Comms) Receive() []*Message {
	return c.bus.Receive(c.agentID)
}

// Subscribe registers a handler for messages addressed to this agent,
// optionally narrowed by sender, type, and metadata.
func (c *Comms) Subscribe(fn HandlerFunc, filter Filter) string {
	filter.Recipient = c.agentID
	id := c.bus.Subscribe(filter, fn)
	c.subs = append(c.subs, id)
	return id
}

// Unsubscribe removes one of this agent's subscriptions.
func (c *Comms) Unsubscribe(id string) bool {
	ok := c.bus.Unsubscribe(id)
	if !ok {
		return false
	}
	for i, sub := range c.subs {
		if sub == id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	return true
}

// Cleanup removes every subscription this facade created.
func (c *Comms) Cleanup() {
	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

// Reply answers a request, carrying over its correlation id so the
// requester can match the response.
func (c *Comms) Reply(to *Message, content string) error {
	metadata := map[string]any{}
	if id := to.CorrelationID(); id != "" {
		metadata["correlation_id"] = id
	}
	return c.Send(to.Sender, content, TypeResponse, metadata)
}

// RequestResponse sends a request and polls the mailbox until a reply
// from the recipient carries the matching correlation id. Unrelated
// messages drained while waiting are discarded. Returns an error when
// the timeout or the context expires first.
func (c *Comms) RequestResponse(ctx context.Context, recipient, content string, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	correlationID := uuid.NewString()

	err := c.Send(recipient, content, TypeRequest, map[string]any{
		"correlation_id":   correlationID,
		"expects_response": true,
	})
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(requestPollInterval)
	defer ticker.Stop()

	for {
		for _, m := range c.Receive() {
			if m.Sender == recipient && m.CorrelationID() == correlationID {
				return m, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no response from %s within %v", recipient, timeout)
		case <-ticker.C:
		}
	}
}
