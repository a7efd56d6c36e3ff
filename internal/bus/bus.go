package bus

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/genflow/internal/observability"
)

const (
	// DefaultQueueSize bounds each per-agent queue. A full queue drops
	// further deliveries until the agent drains it.
	DefaultQueueSize = 1000

	// ingressSize bounds the routing queue feeding the dispatch loop.
	ingressSize = 1024

	// maxHistory caps retained history; on overflow the older half is
	// discarded.
	maxHistory = 10000
)

// ErrBusFull is returned by Send when the ingress queue is saturated.
var ErrBusFull = errors.New("message bus ingress queue full")

// HandlerFunc processes a routed message. A returned error is logged
// and counted; it never affects queue delivery.
type HandlerFunc func(*Message) error

type subscription struct {
	id     string
	filter Filter
	fn     HandlerFunc
}

// queue is one bounded mailbox plus its delivery history.
type queue struct {
	ch      chan *Message
	mu      sync.Mutex
	history []*Message
}

func newQueue(size int) *queue {
	return &queue{ch: make(chan *Message, size)}
}

// put enqueues without blocking. It reports false when the mailbox is
// full; history records only what was actually enqueued.
func (q *queue) put(m *Message) bool {
	select {
	case q.ch <- m:
	default:
		return false
	}
	q.mu.Lock()
	q.history = append(q.history, m)
	if len(q.history) > maxHistory {
		q.history = append([]*Message(nil), q.history[len(q.history)-maxHistory/2:]...)
	}
	q.mu.Unlock()
	return true
}

// drain empties the mailbox without blocking.
func (q *queue) drain() []*Message {
	var out []*Message
	for {
		select {
		case m := <-q.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func (q *queue) size() int { return len(q.ch) }

func (q *queue) recent(limit int) []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.history) {
		limit = len(q.history)
	}
	return append([]*Message(nil), q.history[len(q.history)-limit:]...)
}

// Stats is a snapshot of bus counters. MessagesDelivered counts
// ingress messages that reached at least one mailbox; MessagesFailed
// counts those that reached none. delivered + failed never exceeds
// sent.
type Stats struct {
	MessagesSent      int64
	MessagesDelivered int64
	MessagesFailed    int64
	RegisteredAgents  int
	ActiveHandlers    int
	QueueSizes        map[string]int
}

// Bus routes messages between registered agents. Messages enter a
// global ingress queue; a dispatch goroutine fans them out to bounded
// per-recipient mailboxes and invokes matching subscription handlers.
type Bus struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	queueSize int
	queues    map[string]*queue
	handlers  []*subscription
	history   []*Message
	sent      int64
	delivered int64
	failed    int64
	running   bool

	ingress chan *Message
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped bus. Metrics may be nil.
func New(logger *slog.Logger, metrics *observability.Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:    logger.With("component", "message-bus"),
		metrics:   metrics,
		queueSize: DefaultQueueSize,
		queues:    make(map[string]*queue),
		ingress:   make(chan *Message, ingressSize),
	}
}

// SetQueueSize overrides the mailbox capacity for agents registered
// after the call. Non-positive values restore the default.
func (b *Bus) SetQueueSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		n = DefaultQueueSize
	}
	b.queueSize = n
}

// Start launches the dispatch loop. Starting a running bus is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.dispatch(b.stop)
	b.logger.Info("message bus started")
}

// Stop halts the dispatch loop. Messages still queued in the ingress
// remain there and are routed if the bus is started again.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stop)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("message bus stopped")
}

// Register creates a mailbox for the agent. Registering twice resets
// nothing; the existing mailbox is kept.
func (b *Bus) Register(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[agentID]; ok {
		return
	}
	b.queues[agentID] = newQueue(b.queueSize)
	if b.metrics != nil {
		b.metrics.SetQueueDepth(agentID, 0)
	}
	b.logger.Debug("registered agent", "agent_id", agentID)
}

// Unregister removes the agent's mailbox, discarding pending messages.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, agentID)
	if b.metrics != nil {
		b.metrics.DeleteQueueDepth(agentID)
	}
	b.logger.Debug("unregistered agent", "agent_id", agentID)
}

// Send queues a message for routing. It does not block: a saturated
// ingress rejects the message with ErrBusFull.
func (b *Bus) Send(m *Message) error {
	if m == nil {
		return errors.New("nil message")
	}

	select {
	case b.ingress <- m:
	default:
		b.mu.Lock()
		b.failed++
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.RecordBusMessage("failed")
		}
		return ErrBusFull
	}

	b.mu.Lock()
	b.sent++
	b.history = append(b.history, m)
	if len(b.history) > maxHistory {
		b.history = append([]*Message(nil), b.history[len(b.history)-maxHistory/2:]...)
	}
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.RecordBusMessage("sent")
	}
	b.logger.Debug("queued message", "message_id", m.ID, "sender", m.Sender, "recipient", m.Recipient)
	return nil
}

// Broadcast sends to every registered agent except the sender.
func (b *Bus) Broadcast(sender, content, msgType string, metadata map[string]any) error {
	if msgType == "" {
		msgType = TypeBroadcast
	}
	return b.Send(NewMessage(sender, BroadcastRecipient, content, msgType, metadata))
}

// Subscribe registers a handler for messages matching the filter.
// Handlers run concurrently after mailbox delivery. Returns the
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(filter Filter, fn HandlerFunc) string {
	sub := &subscription{id: uuid.NewString(), filter: filter, fn: fn}
	b.mu.Lock()
	b.handlers = append(b.handlers, sub)
	b.mu.Unlock()
	b.logger.Debug("added subscription", "subscription_id", sub.id)
	return sub.id
}

// Unsubscribe removes a handler. Reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.handlers {
		if sub.id == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Receive drains and returns the agent's pending messages. Unknown
// agents get an empty slice.
func (b *Bus) Receive(agentID string) []*Message {
	b.mu.Lock()
	q, ok := b.queues[agentID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	msgs := q.drain()
	if b.metrics != nil {
		b.metrics.SetQueueDepth(agentID, q.size())
	}
	return msgs
}

// Stats returns a snapshot of the counters and per-agent queue sizes.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		MessagesSent:      b.sent,
		MessagesDelivered: b.delivered,
		MessagesFailed:    b.failed,
		RegisteredAgents:  len(b.queues),
		ActiveHandlers:    len(b.handlers),
		QueueSizes:        make(map[string]int, len(b.queues)),
	}
	for id, q := range b.queues {
		s.QueueSizes[id] = q.size()
	}
	return s
}

// History returns recent messages: the agent's delivery history when
// agentID names a registered agent, the global send history otherwise.
func (b *Bus) History(agentID string, limit int) []*Message {
	b.mu.Lock()
	q, ok := b.queues[agentID]
	if !ok {
		if limit <= 0 || limit > len(b.history) {
			limit = len(b.history)
		}
		out := append([]*Message(nil), b.history[len(b.history)-limit:]...)
		b.mu.Unlock()
		return out
	}
	b.mu.Unlock()
	return q.recent(limit)
}

func (b *Bus) dispatch(stop <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case m := <-b.ingress:
			b.route(m)
		case <-stop:
			return
		}
	}
}

// route fans one ingress message out to mailboxes, then runs matching
// handlers concurrently. The message counts as delivered when at least
// one mailbox accepted it, failed when none did. A broadcast with no
// recipients counts as neither.
func (b *Bus) route(m *Message) {
	b.mu.Lock()
	var delivered, attempted bool
	if m.Recipient == BroadcastRecipient {
		for agentID, q := range b.queues {
			if agentID == m.Sender {
				continue
			}
			attempted = true
			targeted := m.clone(agentID)
			if q.put(targeted) {
				delivered = true
				if b.metrics != nil {
					b.metrics.SetQueueDepth(agentID, q.size())
				}
			} else {
				b.logger.Warn("dropped message: mailbox full", "message_id", targeted.ID, "recipient", agentID)
			}
		}
	} else {
		attempted = true
		q, ok := b.queues[m.Recipient]
		switch {
		case !ok:
			b.logger.Warn("dropped message: recipient not registered", "message_id", m.ID, "recipient", m.Recipient)
		case q.put(m):
			delivered = true
			if b.metrics != nil {
				b.metrics.SetQueueDepth(m.Recipient, q.size())
			}
		default:
			b.logger.Warn("dropped message: mailbox full", "message_id", m.ID, "recipient", m.Recipient)
		}
	}

	switch {
	case delivered:
		b.delivered++
	case attempted:
		b.failed++
	}

	matching := make([]*subscription, 0, len(b.handlers))
	for _, sub := range b.handlers {
		if sub.filter.Matches(m) {
			matching = append(matching, sub)
		}
	}
	b.mu.Unlock()

	if b.metrics != nil {
		if delivered {
			b.metrics.RecordBusMessage("delivered")
		} else if attempted {
			b.metrics.RecordBusMessage("failed")
		}
	}

	if len(matching) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, sub := range matching {
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()
			if err := sub.fn(m); err != nil {
				b.logger.Error("message handler failed", "subscription_id", sub.id, "message_id", m.ID, "error", err)
			}
		}(sub)
	}
	wg.Wait()
}
