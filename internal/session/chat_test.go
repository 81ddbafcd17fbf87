package session

import (
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/oasis-mind/sessioncore/internal/domain"
)

// fakeChatChannel is an in-memory stand-in for a negotiated data channel.
type fakeChatChannel struct {
	ready     bool
	sent      [][]byte
	onMessage func([]byte)
	onOpen    func()
}

func (f *fakeChatChannel) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeChatChannel) OnMessage(fn func([]byte)) { f.onMessage = fn }
func (f *fakeChatChannel) OnOpen(fn func())          { f.onOpen = fn }
func (f *fakeChatChannel) Ready() bool               { return f.ready }
func (f *fakeChatChannel) Close() error              { return nil }

func waitForTranscript(t *testing.T, m *Messenger, n int) []domain.ChatMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		got := m.Transcript()
		if len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("transcript stuck at %d messages, want %d", len(got), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSendOverOpenChannel(t *testing.T) {
	m := NewMessenger("Alice", "Dr. Bob", nil)
	ch := &fakeChatChannel{ready: true}
	m.Attach(ch)

	m.Send("hello there")

	if len(ch.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(ch.sent))
	}
	var f chatFrame
	if err := msgpack.Unmarshal(ch.sent[0], &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Sender != "Alice" || f.Text != "hello there" {
		t.Errorf("frame = %q from %q", f.Text, f.Sender)
	}

	got := m.Transcript()
	if len(got) != 1 || got[0].Simulated {
		t.Fatalf("transcript = %+v, want one real message", got)
	}
}

func TestSendWithoutChannelSimulatesReply(t *testing.T) {
	m := NewMessenger("Alice", "Dr. Bob", nil)
	m.replyDelay = func() time.Duration { return 5 * time.Millisecond }

	m.Send("is anyone there?")

	got := waitForTranscript(t, m, 2)
	if got[0].Sender != "Alice" {
		t.Errorf("first message from %q, want Alice", got[0].Sender)
	}
	reply := got[1]
	if reply.Sender != "Dr. Bob" || !reply.Simulated {
		t.Fatalf("reply = %+v, want simulated counterpart message", reply)
	}
	found := false
	for _, canned := range cannedReplies {
		if reply.Text == canned {
			found = true
		}
	}
	if !found {
		t.Errorf("reply %q is not one of the canned responses", reply.Text)
	}
}

func TestInboundFrameAppendsToTranscript(t *testing.T) {
	var published []domain.ChatMessage
	m := NewMessenger("Alice", "Dr. Bob", func(msg domain.ChatMessage) {
		published = append(published, msg)
	})
	ch := &fakeChatChannel{ready: true}
	m.Attach(ch)

	data, err := msgpack.Marshal(chatFrame{Sender: "Dr. Bob", Text: "welcome", Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	ch.onMessage(data)

	got := m.Transcript()
	if len(got) != 1 || got[0].Text != "welcome" || got[0].Simulated {
		t.Fatalf("transcript = %+v", got)
	}
	if len(published) != 1 {
		t.Errorf("published %d events, want 1", len(published))
	}
}

func TestInboundFrameWithoutSenderUsesCounterpart(t *testing.T) {
	m := NewMessenger("Alice", "Dr. Bob", nil)
	ch := &fakeChatChannel{ready: true}
	m.Attach(ch)

	data, err := msgpack.Marshal(chatFrame{Text: "anonymous", Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	ch.onMessage(data)

	got := m.Transcript()
	if len(got) != 1 || got[0].Sender != "Dr. Bob" {
		t.Fatalf("transcript = %+v, want sender Dr. Bob", got)
	}
}

func TestCloseDiscardsPendingReplies(t *testing.T) {
	m := NewMessenger("Alice", "Dr. Bob", nil)
	m.replyDelay = func() time.Duration { return 10 * time.Millisecond }

	m.Send("hello?")
	m.Close()

	time.Sleep(40 * time.Millisecond)
	got := m.Transcript()
	if len(got) != 1 {
		t.Fatalf("transcript = %+v, want only the original message", got)
	}

	m.Send("still there?")
	if len(m.Transcript()) != 1 {
		t.Error("closed messenger accepted a message")
	}
}

func TestSeedWelcomeMentionsCounterpart(t *testing.T) {
	saved := welcomeDelay
	welcomeDelay = 2 * time.Millisecond
	defer func() { welcomeDelay = saved }()

	m := NewMessenger("Alice", "Dr. Bob", nil)
	m.SeedWelcome()

	got := waitForTranscript(t, m, 1)
	if got[0].Sender != "Dr. Bob" || !got[0].Simulated {
		t.Fatalf("greeting = %+v", got[0])
	}
	if got[0].Text != "Hello! I'm Dr. Bob. How are you feeling today?" {
		t.Errorf("greeting text = %q", got[0].Text)
	}
}
