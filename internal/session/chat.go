package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oasis-mind/sessioncore/internal/domain"
)

// cannedReplies are the counterpart responses used while the side channel is
// not yet open. Degraded mode keeps the conversation responsive; it is not an
// error.
var cannedReplies = []string{
	"I understand how you feel. Let's explore that further.",
	"Thank you for sharing that with me. How does that make you feel?",
	"That's an important insight. What do you think led to that?",
	"I appreciate your openness. Let's work through this together.",
	"It sounds like that's been challenging for you. How have you been coping?",
}

var welcomeDelay = 2 * time.Second

// A reply is simulated after a randomized 2-4s pause.
func defaultReplyDelay() time.Duration {
	return 2*time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
}

// chatFrame is the msgpack envelope sent over the data channel.
type chatFrame struct {
	Sender    string    `msgpack:"sender"`
	Text      string    `msgpack:"text"`
	Timestamp time.Time `msgpack:"timestamp"`
}

// Messenger is the ordered text side channel. Until Attach hands it an open
// channel, Send degrades to locally simulated counterpart replies instead of
// failing.
type Messenger struct {
	mu          sync.Mutex
	self        string
	counterpart string
	ch          ChatChannel
	transcript  []domain.ChatMessage
	closed      bool

	publish    func(domain.ChatMessage)
	replyDelay func() time.Duration
	now        func() time.Time
}

// NewMessenger wires the transcript sink. publish is invoked for every
// appended message, own and received alike.
func NewMessenger(self, counterpart string, publish func(domain.ChatMessage)) *Messenger {
	return &Messenger{
		self:        self,
		counterpart: counterpart,
		publish:     publish,
		replyDelay:  defaultReplyDelay,
		now:         time.Now,
	}
}

// Attach adopts the negotiated channel and starts decoding inbound frames.
// Called by the initiating side right after creating the channel and by the
// responding side when the channel arrives.
func (m *Messenger) Attach(ch ChatChannel) {
	m.mu.Lock()
	m.ch = ch
	m.mu.Unlock()

	ch.OnOpen(func() {
		log.Debug().Str("module", "session.chat").Msg("side channel open")
	})
	ch.OnMessage(func(data []byte) {
		var f chatFrame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			log.Warn().Str("module", "session.chat").Err(err).Msg("bad chat frame")
			return
		}
		sender := f.Sender
		if sender == "" {
			sender = m.counterpart
		}
		m.append(domain.ChatMessage{Sender: sender, Text: f.Text, Timestamp: f.Timestamp})
	})
}

// Send appends the message to the transcript and delivers it to the peer.
// With no open channel the call degrades to a simulated reply after a
// randomized delay; it never returns an error for an unavailable channel.
func (m *Messenger) Send(text string) {
	m.append(domain.ChatMessage{Sender: m.self, Text: text, Timestamp: m.now()})

	m.mu.Lock()
	ch := m.ch
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	if ch != nil && ch.Ready() {
		data, err := msgpack.Marshal(chatFrame{Sender: m.self, Text: text, Timestamp: m.now()})
		if err != nil {
			log.Error().Str("module", "session.chat").Err(err).Msg("encode chat frame")
			return
		}
		if err := ch.Send(data); err != nil {
			log.Warn().Str("module", "session.chat").Err(err).Msg("send chat frame")
		}
		return
	}

	m.simulateReply()
}

func (m *Messenger) simulateReply() {
	reply := cannedReplies[rand.Intn(len(cannedReplies))]
	time.AfterFunc(m.replyDelay(), func() {
		m.append(domain.ChatMessage{
			Sender:    m.counterpart,
			Text:      reply,
			Timestamp: m.now(),
			Simulated: true,
		})
	})
}

// SeedWelcome schedules the counterpart's opening message shortly after the
// session starts. Simulated; a real greeting arrives over the channel.
func (m *Messenger) SeedWelcome() {
	greeting := "Hello! I'm " + m.counterpart + ". How are you feeling today?"
	time.AfterFunc(welcomeDelay, func() {
		m.append(domain.ChatMessage{
			Sender:    m.counterpart,
			Text:      greeting,
			Timestamp: m.now(),
			Simulated: true,
		})
	})
}

func (m *Messenger) append(msg domain.ChatMessage) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.transcript = append(m.transcript, msg)
	publish := m.publish
	m.mu.Unlock()
	if publish != nil {
		publish(msg)
	}
}

// Transcript returns a copy of the ordered message sequence.
func (m *Messenger) Transcript() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatMessage, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// Close stops accepting and generating messages. Pending simulated replies
// are discarded.
func (m *Messenger) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
