package core

import (
	"errors"
	"sync"

	"github.com/oasis-mind/sessioncore/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrRoomFull is returned when a third participant tries to join a room that
// already holds both parties. The membership set is never displaced.
var ErrRoomFull = errors.New("room full")

// room holds the ordered-arrival membership of one session.
// Each room carries its own lock so unrelated rooms never serialize
// on a shared one.
type room struct {
	mu      sync.Mutex
	members []*Member
	closed  bool
}

// Registry is the process-wide map from room ID to current membership.
// An entry is created on first join and removed when the last member leaves.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

func (r *Registry) getOrCreate(id domain.RoomID) *room {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[id]; ok {
		return rm
	}
	rm = &room{}
	r.rooms[id] = rm
	log.Debug().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	return rm
}

// Join registers m under id and reports whether it arrived first.
// Joining a room that already holds both parties returns ErrRoomFull
// without touching the membership set.
func (r *Registry) Join(id domain.RoomID, m *Member) (isFirst bool, err error) {
	for {
		rm := r.getOrCreate(id)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last member leaving; the entry is gone
			// from the map, so fetch a fresh one.
			rm.mu.Unlock()
			continue
		}
		if len(rm.members) >= domain.MaxRoomMembers {
			rm.mu.Unlock()
			return false, ErrRoomFull
		}
		rm.members = append(rm.members, m)
		isFirst = len(rm.members) == 1
		rm.mu.Unlock()
		log.Info().Str("module", "core.registry").
			Str("room", string(id)).
			Str("participant", string(m.Participant.ID)).
			Bool("first", isFirst).
			Msg("member joined")
		return isFirst, nil
	}
}

// Leave removes the participant from the room and reports whether the room is
// now empty. Empty rooms are destroyed.
func (r *Registry) Leave(id domain.RoomID, pid domain.ParticipantID) (roomNowEmpty bool) {
	r.mu.Lock()
	rm, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	rm.mu.Lock()
	for i, m := range rm.members {
		if m.Participant.ID == pid {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}
	roomNowEmpty = len(rm.members) == 0
	if roomNowEmpty {
		rm.closed = true
		delete(r.rooms, id)
	}
	rm.mu.Unlock()
	r.mu.Unlock()
	log.Info().Str("module", "core.registry").
		Str("room", string(id)).
		Str("participant", string(pid)).
		Bool("empty", roomNowEmpty).
		Msg("member left")
	return roomNowEmpty
}

// OtherMembers returns the current members of id except pid, in arrival order.
// It never returns the participant that queried it.
func (r *Registry) OtherMembers(id domain.RoomID, pid domain.ParticipantID) []*Member {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]*Member, 0, len(rm.members))
	for _, m := range rm.members {
		if m.Participant.ID != pid {
			out = append(out, m)
		}
	}
	return out
}

// ForEachOther runs fn for every current member of id except pid, in arrival
// order, while holding the room lock. This is the per-room serialization
// point: concurrent fan-outs for one room cannot interleave, so relayed
// messages reach each recipient in emission order.
func (r *Registry) ForEachOther(id domain.RoomID, pid domain.ParticipantID, fn func(*Member)) {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, m := range rm.members {
		if m.Participant.ID != pid {
			fn(m)
		}
	}
}

// MemberCount reports the current size of the room, 0 if it does not exist.
func (r *Registry) MemberCount(id domain.RoomID) int {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// MembersSnapshot is a read-only view for the introspection API.
func (r *Registry) MembersSnapshot(id domain.RoomID) []MemberDTO {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]MemberDTO, 0, len(rm.members))
	for _, m := range rm.members {
		p := m.Participant
		out = append(out, MemberDTO{ID: p.ID, Role: p.Role, Name: p.Name})
	}
	return out
}

// List returns every live room with its member count.
func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		rm.mu.Lock()
		n := len(rm.members)
		rm.mu.Unlock()
		out = append(out, RoomInfo{ID: id, MemberCount: n})
	}
	return out
}
