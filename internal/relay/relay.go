// Package relay implements the signaling relay: it assigns participant
// connections to rooms and forwards negotiation envelopes between the two
// members of a room. It is a pure forwarder; SDP and candidate payloads are
// never inspected or buffered, and the relay keeps no state worth recovering
// after a restart. A dropped connection simply rejoins.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/oasis-mind/sessioncore/internal/core"
	"github.com/oasis-mind/sessioncore/internal/domain"
	"github.com/oasis-mind/sessioncore/internal/signal"
)

type Relay struct {
	registry *core.Registry

	mu     sync.RWMutex
	roomOf map[domain.ParticipantID]domain.RoomID
}

func New(reg *core.Registry) *Relay {
	return &Relay{
		registry: reg,
		roomOf:   make(map[domain.ParticipantID]domain.RoomID),
	}
}

// Registry exposes the registry for the introspection API.
func (r *Relay) Registry() *core.Registry { return r.registry }

func (r *Relay) send(m *core.Member, env *signal.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Str("module", "relay").Err(err).Msg("marshal envelope")
		return
	}
	if err := m.Conn.TrySend(core.Frame(data)); err != nil {
		log.Warn().Str("module", "relay").
			Str("participant", string(m.Participant.ID)).
			Err(err).
			Msg("dropping envelope for slow member")
	}
}

// Join registers m under roomID. The later joiner is told a peer is already
// present via the existing-user sentinel; earlier members get a user-joined
// broadcast carrying the joiner's identity. A third joiner receives the
// sentinel only and the room is left untouched; whether to treat that as a
// hard rejection is the caller's policy, not the relay's.
func (r *Relay) Join(m *core.Member, roomID domain.RoomID) {
	pid := m.Participant.ID

	r.mu.Lock()
	prev, rejoining := r.roomOf[pid]
	if rejoining {
		delete(r.roomOf, pid)
	}
	r.mu.Unlock()
	if rejoining {
		r.leave(m, prev)
	}

	isFirst, err := r.registry.Join(roomID, m)
	if err != nil {
		log.Info().Str("module", "relay").
			Str("room", string(roomID)).
			Str("participant", string(pid)).
			Msg("join refused, room holds both parties")
		r.send(m, &signal.Envelope{Type: signal.TypeUserJoined, Room: roomID, Peer: signal.ExistingUser})
		return
	}

	r.mu.Lock()
	r.roomOf[pid] = roomID
	r.mu.Unlock()

	if isFirst {
		return
	}
	r.send(m, &signal.Envelope{Type: signal.TypeUserJoined, Room: roomID, Peer: signal.ExistingUser})
	r.registry.ForEachOther(roomID, pid, func(other *core.Member) {
		r.send(other, &signal.Envelope{
			Type: signal.TypeUserJoined,
			Room: roomID,
			Peer: string(pid),
			Name: m.Participant.Name,
		})
	})
}

// Forward fans env out to the other members of the sender's room, unchanged.
// Per-room ordering is guaranteed by the registry's room lock.
func (r *Relay) Forward(m *core.Member, env *signal.Envelope) {
	pid := m.Participant.ID

	r.mu.RLock()
	roomID, ok := r.roomOf[pid]
	r.mu.RUnlock()
	if !ok {
		r.send(m, &signal.Envelope{Type: signal.TypeError, Error: "join a room first"})
		return
	}

	env.Room = roomID
	env.Peer = string(pid)
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Str("module", "relay").Err(err).Msg("marshal envelope")
		return
	}
	r.registry.ForEachOther(roomID, pid, func(other *core.Member) {
		if err := other.Conn.TrySend(core.Frame(data)); err != nil {
			log.Warn().Str("module", "relay").
				Str("participant", string(other.Participant.ID)).
				Err(err).
				Msg("dropping envelope for slow member")
		}
	})
}

// Disconnect releases the participant's membership. Remaining members are
// told the peer left; deciding whether that ends the session is up to their
// negotiators, not the relay.
func (r *Relay) Disconnect(m *core.Member) {
	pid := m.Participant.ID

	r.mu.Lock()
	roomID, ok := r.roomOf[pid]
	delete(r.roomOf, pid)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.leave(m, roomID)
}

func (r *Relay) leave(m *core.Member, roomID domain.RoomID) {
	pid := m.Participant.ID
	if empty := r.registry.Leave(roomID, pid); empty {
		return
	}
	r.registry.ForEachOther(roomID, pid, func(other *core.Member) {
		r.send(other, &signal.Envelope{Type: signal.TypePeerLeft, Room: roomID, Peer: string(pid)})
	})
}
