package core

import "github.com/oasis-mind/sessioncore/internal/domain"

// Frame is a raw signaling payload (an encoded wire envelope).
type Frame []byte

// SignalConnection abstracts a participant's signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Member binds a participant's meta to its transport endpoint.
// This is what a room stores and fans out to.
type Member struct {
	Participant *domain.Participant
	Conn        SignalConnection
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID   domain.ParticipantID `json:"id"`
	Role domain.Role          `json:"role"`
	Name string               `json:"name,omitempty"`
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}
