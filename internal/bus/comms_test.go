package bus

import (
	"context"
	"testing"
	"time"
)

func TestCommsSendReceive(t *testing.T) {
	b := startedBus(t)
	b.Register("alice")
	b.Register("bob")

	alice := NewComms("alice", b)
	bob := NewComms("bob", b)

	if err := alice.Send("bob", "hi bob", "", map[string]any{"topic": "greeting"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var got []*Message
	waitFor(t, func() bool {
		got = append(got, bob.Receive()...)
		return len(got) == 1
	})
	if got[0].Sender != "alice" || got[0].Metadata["topic"] != "greeting" {
		t.Errorf("received %+v", got[0])
	}
}

func TestCommsSubscribeScopedToRecipient(t *testing.T) {
	b := startedBus(t)
	b.Register("alice")
	b.Register("bob")

	bob := NewComms("bob", b)

	seen := make(chan *Message, 4)
	bob.Subscribe(func(m *Message) error {
		seen <- m
		return nil
	}, Filter{})

	// Addressed to bob: handler fires.
	if err := b.Send(NewMessage("alice", "bob", "for bob", "", nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case m := <-seen:
		if m.Content != "for bob" {
			t.Errorf("handler saw %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked for scoped message")
	}

	// Addressed to alice: bob's scoped handler stays quiet.
	if err := b.Send(NewMessage("bob", "alice", "for alice", "", nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitFor(t, func() bool { return b.Stats().MessagesDelivered == 2 })
	select {
	case m := <-seen:
		t.Errorf("handler invoked for message to another agent: %+v", m)
	default:
	}
}

func TestCommsCleanup(t *testing.T) {
	b := startedBus(t)
	b.Register("bob")
	bob := NewComms("bob", b)

	bob.Subscribe(func(m *Message) error { return nil }, Filter{})
	bob.Subscribe(func(m *Message) error { return nil }, Filter{Type: TypeRequest})
	if got := b.Stats().ActiveHandlers; got != 2 {
		t.Fatalf("ActiveHandlers = %d, want 2", got)
	}

	bob.Cleanup()
	if got := b.Stats().ActiveHandlers; got != 0 {
		t.Errorf("ActiveHandlers after Cleanup = %d, want 0", got)
	}
}

func TestRequestResponse(t *testing.T) {
	b := startedBus(t)
	b.Register("requester")
	b.Register("responder")

	requester := NewComms("requester", b)
	responder := NewComms("responder", b)

	// The responder answers every request it sees, echoing the
	// correlation id through Reply.
	responder.Subscribe(func(m *Message) error {
		return responder.Reply(m, "pong: "+m.Content)
	}, Filter{Type: TypeRequest})

	reply, err := requester.RequestResponse(context.Background(), "responder", "ping", 2*time.Second)
	if err != nil {
		t.Fatalf("RequestResponse() error = %v", err)
	}
	if reply.Content != "pong: ping" {
		t.Errorf("reply content = %q", reply.Content)
	}
	if reply.Sender != "responder" || reply.Type != TypeResponse {
		t.Errorf("reply = %+v", reply)
	}
}

func TestRequestResponseTimeout(t *testing.T) {
	b := startedBus(t)
	b.Register("requester")
	b.Register("silent")

	requester := NewComms("requester", b)

	start := time.Now()
	_, err := requester.RequestResponse(context.Background(), "silent", "ping", 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestRequestResponseDiscardsUnrelated(t *testing.T) {
	b := startedBus(t)
	b.Register("requester")
	b.Register("responder")
	b.Register("noisy")

	requester := NewComms("requester", b)
	responder := NewComms("responder", b)
	noisy := NewComms("noisy", b)

	responder.Subscribe(func(m *Message) error {
		// Let unrelated traffic land in the requester's mailbox first.
		_ = noisy.Send("requester", "spam", "", nil)
		time.Sleep(50 * time.Millisecond)
		return responder.Reply(m, "the answer")
	}, Filter{Type: TypeRequest})

	reply, err := requester.RequestResponse(context.Background(), "responder", "question", 2*time.Second)
	if err != nil {
		t.Fatalf("RequestResponse() error = %v", err)
	}
	if reply.Content != "the answer" {
		t.Errorf("reply content = %q", reply.Content)
	}
}

func TestRequestResponseContextCancel(t *testing.T) {
	b := startedBus(t)
	b.Register("requester")
	b.Register("silent")

	requester := NewComms("requester", b)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := requester.RequestResponse(ctx, "silent", "ping", 10*time.Second)
	if err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
