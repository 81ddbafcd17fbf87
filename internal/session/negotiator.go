// Package session implements the per-participant state machine: it owns
// local media, negotiates the peer transport over the signaling relay,
// multiplexes the chat side channel, and enforces the timed session
// lifecycle. One Negotiator instance exists per local peer; nothing here is
// shared across participants.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/oasis-mind/sessioncore/internal/domain"
	"github.com/oasis-mind/sessioncore/internal/media"
	"github.com/oasis-mind/sessioncore/internal/signal"
)

// Signaler is the negotiator's handle on the relay connection.
// *signal.Client satisfies it.
type Signaler interface {
	Send(*signal.Envelope)
	Incoming() <-chan *signal.Envelope
	Close()
}

// Config carries what upstream session management resolves for this
// participant: the room, which side of the booking it is, and the
// counterpart's display name.
type Config struct {
	Room       domain.RoomID
	Role       domain.Role
	SelfName   string
	PeerName   string
	Duration   time.Duration
	ICEServers []webrtc.ICEServer
}

// Negotiator drives one participant through the session lifecycle. All
// inbound events (relayed envelopes, transport callbacks, timer callbacks)
// serialize on one mutex, so the state machine observes them one at a time.
type Negotiator struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	status string

	signaler     Signaler
	source       media.Source
	newTransport func() (PeerTransport, error)
	transport    PeerTransport
	chat         *Messenger
	timer        *Countdown

	pending     []webrtc.ICECandidateInit
	iceRestarts int
	micOn       bool
	cameraOn    bool

	events  chan Event
	endOnce sync.Once
}

// New assembles a negotiator. newTransport may be nil, in which case a
// pion-backed transport is built from cfg.ICEServers.
func New(cfg Config, signaler Signaler, source media.Source, newTransport func() (PeerTransport, error)) *Negotiator {
	if newTransport == nil {
		newTransport = func() (PeerTransport, error) { return NewPeerTransport(cfg.ICEServers) }
	}
	n := &Negotiator{
		cfg:          cfg,
		state:        StateIdle,
		signaler:     signaler,
		source:       source,
		newTransport: newTransport,
		micOn:        true,
		cameraOn:     true,
		events:       make(chan Event, 128),
	}
	n.chat = NewMessenger(cfg.SelfName, cfg.PeerName, func(msg domain.ChatMessage) {
		n.publish(Event{Kind: EventChatMessage, Message: msg})
	})
	return n
}

// Events is the upward stream for the presentation layer.
func (n *Negotiator) Events() <-chan Event { return n.events }

// Start acquires local media, prepares the transport and joins the room.
// A media acquisition failure is terminal for the attempt: the error is
// surfaced and the session ends without retrying.
func (n *Negotiator) Start() error {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return ErrEnded
	}
	n.setStateLocked(StateAcquiringMedia, "Requesting camera and microphone...")
	n.mu.Unlock()

	tracks, err := n.source.Acquire()
	if err != nil {
		n.mu.Lock()
		n.setStateLocked(n.state, "Failed to access camera/microphone")
		n.mu.Unlock()
		n.publish(Event{Kind: EventNotice, Detail: "Camera access denied"})
		n.end("media acquisition denied")
		return fmt.Errorf("%w: %v", ErrMediaDenied, err)
	}

	transport, err := n.newTransport()
	if err != nil {
		n.end("transport setup failed")
		return err
	}
	for _, track := range tracks {
		if err := transport.AddTrack(track); err != nil {
			n.transportLocked(transport)
			n.end("transport setup failed")
			return err
		}
	}

	transport.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		payload, err := json.Marshal(ci)
		if err != nil {
			return
		}
		n.signaler.Send(&signal.Envelope{Type: signal.TypeICECandidate, Room: n.cfg.Room, Payload: payload})
	})
	transport.OnConnectionState(n.onConnState)
	transport.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		n.publish(Event{Kind: EventRemoteMedia, Detail: track.Kind().String()})
	})
	transport.OnChatChannel(n.chat.Attach)

	// The side channel must exist before the offer so it rides the initial
	// negotiation; only the offer-creator opens it.
	if n.cfg.Role == domain.RoleInitiator {
		ch, err := transport.CreateChatChannel("chat")
		if err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("chat channel unavailable, degrading")
		} else {
			n.chat.Attach(ch)
		}
		n.chat.SeedWelcome()
	}

	n.mu.Lock()
	n.transport = transport
	n.setStateLocked(StateJoining, "Connecting to session...")
	n.mu.Unlock()

	n.signaler.Send(&signal.Envelope{
		Type: signal.TypeJoinRoom,
		Room: n.cfg.Room,
		Role: n.cfg.Role,
		Name: n.cfg.SelfName,
	})

	n.mu.Lock()
	n.setStateLocked(StateAwaitingPeer, "Waiting for peer...")
	n.timer = NewCountdown(n.cfg.Duration, time.Second)
	n.timer.OnWarning(func(remaining time.Duration) {
		n.publish(Event{Kind: EventTimeWarning, Remaining: remaining})
	})
	n.timer.OnExpire(func() { n.end("session time expired") })
	n.timer.Start()
	n.mu.Unlock()
	return nil
}

func (n *Negotiator) transportLocked(t PeerTransport) {
	n.mu.Lock()
	n.transport = t
	n.mu.Unlock()
}

// Run consumes relayed envelopes until the context is cancelled or the relay
// connection drops. A drop returns ErrSignalingLost and degrades status
// only; rejoining is an explicit user action, never automatic.
func (n *Negotiator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-n.signaler.Incoming():
			if !ok {
				n.mu.Lock()
				ended := n.state == StateEnded
				if !ended {
					n.setStateLocked(n.state, "Signaling connection lost")
				}
				n.mu.Unlock()
				if ended {
					return nil
				}
				n.publish(Event{Kind: EventNotice, Detail: "Lost connection to the session server"})
				return ErrSignalingLost
			}
			n.Handle(env)
		}
	}
}

// Handle feeds one relayed envelope into the state machine.
func (n *Negotiator) Handle(env *signal.Envelope) {
	switch env.Type {
	case signal.TypeUserJoined:
		n.onPeerPresent(env)
	case signal.TypeOffer:
		n.onOffer(env)
	case signal.TypeAnswer:
		n.onAnswer(env)
	case signal.TypeICECandidate:
		n.onCandidate(env)
	case signal.TypePeerLeft:
		n.onPeerLeft()
	case signal.TypeError:
		n.mu.Lock()
		n.setStateLocked(n.state, "Session error: "+env.Error)
		n.mu.Unlock()
	case signal.TypePong:
	default:
		log.Debug().Str("module", "session").Str("type", env.Type).Msg("ignoring signal")
	}
}

// onPeerPresent handles both directions of the join notification: the
// broadcast about a later joiner and the existing-user sentinel told to the
// later joiner itself. The Initiator answers either with the one offer of
// this negotiation attempt; the Responder waits for that offer.
func (n *Negotiator) onPeerPresent(env *signal.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateEnded {
		return
	}

	name := env.Name
	if name == "" {
		name = n.cfg.PeerName
	}
	n.publish(Event{Kind: EventPeerJoined, Detail: name})

	if n.state != StateJoining && n.state != StateAwaitingPeer {
		// Already negotiating or connected; nothing to redo.
		return
	}
	n.setStateLocked(StateNegotiating, "Peer joined. Establishing connection...")
	if n.cfg.Role == domain.RoleInitiator {
		n.sendOfferLocked(false)
	}
}

func (n *Negotiator) sendOfferLocked(iceRestart bool) {
	offer, err := n.transport.CreateOffer(iceRestart)
	if err != nil {
		log.Error().Str("module", "session").Err(err).Msg("create offer")
		n.setStateLocked(n.state, "Offer error: "+err.Error())
		return
	}
	payload, err := json.Marshal(offer)
	if err != nil {
		return
	}
	n.signaler.Send(&signal.Envelope{Type: signal.TypeOffer, Room: n.cfg.Room, Payload: payload})
}

// onOffer is Responder-only: the counterpart never creates offers, and an
// Initiator receiving one indicates a glare the design rules out.
func (n *Negotiator) onOffer(env *signal.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateEnded || n.cfg.Role != domain.RoleResponder || n.transport == nil {
		return
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &offer); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("bad offer payload")
		return
	}
	answer, err := n.transport.CreateAnswer(offer)
	if err != nil {
		log.Error().Str("module", "session").Err(err).Msg("create answer")
		n.setStateLocked(n.state, "Answer error: "+err.Error())
		return
	}
	n.flushPendingLocked()

	payload, err := json.Marshal(answer)
	if err != nil {
		return
	}
	n.signaler.Send(&signal.Envelope{Type: signal.TypeAnswer, Room: n.cfg.Room, Payload: payload})
	if n.state == StateAwaitingPeer || n.state == StateJoining {
		n.setStateLocked(StateNegotiating, "Peer joined. Establishing connection...")
	}
}

// onAnswer is Initiator-only.
func (n *Negotiator) onAnswer(env *signal.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateEnded || n.cfg.Role != domain.RoleInitiator || n.transport == nil {
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &answer); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("bad answer payload")
		return
	}
	if err := n.transport.ApplyAnswer(answer); err != nil {
		log.Error().Str("module", "session").Err(err).Msg("apply answer")
		n.setStateLocked(n.state, "Remote description error: "+err.Error())
		return
	}
	n.flushPendingLocked()
}

// onCandidate honors candidates that raced ahead of the remote description
// by parking them until it is set. Order within the room is preserved by the
// relay, so no further buffering contract is needed.
func (n *Negotiator) onCandidate(env *signal.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateEnded || n.transport == nil {
		return
	}

	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Payload, &ci); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("bad candidate payload")
		return
	}
	if !n.transport.HasRemoteDescription() {
		n.pending = append(n.pending, ci)
		return
	}
	if err := n.transport.AddICECandidate(ci); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("add candidate")
	}
}

func (n *Negotiator) flushPendingLocked() {
	for _, ci := range n.pending {
		if err := n.transport.AddICECandidate(ci); err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("add queued candidate")
		}
	}
	n.pending = nil
}

// onPeerLeft is informational; whether the session ends stays with the timer
// or an explicit end-call.
func (n *Negotiator) onPeerLeft() {
	n.mu.Lock()
	if n.state == StateEnded {
		n.mu.Unlock()
		return
	}
	n.setStateLocked(n.state, "Peer disconnected")
	n.mu.Unlock()
	n.publish(Event{Kind: EventPeerLeft, Detail: n.cfg.PeerName})
}

// onConnState reacts to the transport's own connectivity. Loss of a live
// connection moves to Reconnecting; only the Initiator re-offers, with the
// ICE-restart flag, and keeps doing so until the timer runs out or the call
// ends. No join-room is re-sent.
func (n *Negotiator) onConnState(s ConnState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateEnded {
		return
	}

	switch s {
	case ConnConnected:
		reconnected := n.state == StateReconnecting
		n.setStateLocked(StateConnected, "Connected")
		if reconnected {
			n.publish(Event{Kind: EventNotice, Detail: "Connection re-established"})
		}
	case ConnDisconnected, ConnFailed:
		switch n.state {
		case StateConnected:
			n.setStateLocked(StateReconnecting, "Connection lost. Trying to reconnect...")
			if n.cfg.Role == domain.RoleInitiator {
				n.iceRestarts++
				n.sendOfferLocked(true)
				n.publish(Event{Kind: EventNotice, Detail: "Attempting to reconnect"})
			} else {
				n.publish(Event{Kind: EventNotice, Detail: "Waiting for the peer to reconnect"})
			}
		case StateReconnecting:
			// A restart attempt failed outright; the Initiator issues
			// another. Bounded only by the session timer.
			if s == ConnFailed && n.cfg.Role == domain.RoleInitiator {
				n.iceRestarts++
				n.sendOfferLocked(true)
			}
		}
	case ConnClosed:
	}
}

// SendChat appends to the transcript and delivers over the side channel,
// degrading to a simulated reply when the channel is not open.
func (n *Negotiator) SendChat(text string) {
	n.mu.Lock()
	ended := n.state == StateEnded
	n.mu.Unlock()
	if ended {
		return
	}
	n.chat.Send(text)
}

// ToggleMic flips the microphone and reports the new on/off state.
func (n *Negotiator) ToggleMic() bool {
	n.mu.Lock()
	n.micOn = !n.micOn
	on := n.micOn
	n.mu.Unlock()
	if sw, ok := n.source.(media.Switchable); ok {
		sw.SetEnabled(webrtc.RTPCodecTypeAudio, on)
	}
	if on {
		n.publish(Event{Kind: EventNotice, Detail: "Microphone turned on"})
	} else {
		n.publish(Event{Kind: EventNotice, Detail: "Microphone turned off"})
	}
	return on
}

// ToggleCamera flips the camera and reports the new on/off state.
func (n *Negotiator) ToggleCamera() bool {
	n.mu.Lock()
	n.cameraOn = !n.cameraOn
	on := n.cameraOn
	n.mu.Unlock()
	if sw, ok := n.source.(media.Switchable); ok {
		sw.SetEnabled(webrtc.RTPCodecTypeVideo, on)
	}
	if on {
		n.publish(Event{Kind: EventNotice, Detail: "Camera turned on"})
	} else {
		n.publish(Event{Kind: EventNotice, Detail: "Camera turned off"})
	}
	return on
}

// End terminates the call. Safe to invoke from any state and any number of
// times; teardown runs exactly once.
func (n *Negotiator) End() {
	n.end("call ended")
}

// end releases every owned resource on every exit path: timer, media
// devices, peer transport, relay connection. Racing exits (timer expiry vs.
// a manual end) collapse into a single teardown and a single Ended event.
func (n *Negotiator) end(reason string) {
	n.endOnce.Do(func() {
		n.mu.Lock()
		n.state = StateEnded
		n.status = "Session ended"
		timer := n.timer
		transport := n.transport
		n.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		n.chat.Close()
		n.source.Stop()
		if transport != nil {
			if err := transport.Close(); err != nil {
				log.Debug().Str("module", "session").Err(err).Msg("transport close")
			}
		}
		n.signaler.Close()

		log.Info().Str("module", "session").
			Str("room", string(n.cfg.Room)).
			Str("reason", reason).
			Msg("session ended")
		n.publish(Event{Kind: EventEnded, Detail: reason})
	})
}

func (n *Negotiator) setStateLocked(s State, status string) {
	n.state = s
	n.status = status
	n.publish(Event{Kind: EventStatusChanged, Status: status})
}

// publish never blocks; a saturated consumer loses the oldest-style events
// rather than stalling the state machine.
func (n *Negotiator) publish(ev Event) {
	select {
	case n.events <- ev:
	default:
		log.Warn().Str("module", "session").Str("event", ev.Kind.String()).Msg("event dropped")
	}
}

// State reports the current lifecycle position.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Status is the user-facing connection status string.
func (n *Negotiator) Status() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// RestartCount reports how many ICE restarts this session has issued.
func (n *Negotiator) RestartCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.iceRestarts
}

// TimeRemaining reports the session clock, zero before Start.
func (n *Negotiator) TimeRemaining() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer == nil {
		return 0
	}
	return n.timer.Remaining()
}

// Transcript returns the ordered chat history.
func (n *Negotiator) Transcript() []domain.ChatMessage {
	return n.chat.Transcript()
}
