// Package signal defines the relay wire protocol and the participant-side
// signaling connection. The server adapter and the session negotiator both
// speak these envelopes.
package signal

import (
	"encoding/json"

	"github.com/oasis-mind/sessioncore/internal/domain"
)

// Envelope types, client to server and server to client.
const (
	TypeJoinRoom     = "join-room"
	TypeUserJoined   = "user-joined"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypePeerLeft     = "peer-left"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// ExistingUser is the peer ID sentinel sent to a joiner when the room already
// holds another participant, so the later joiner does not have to wait for a
// broadcast to learn a peer is present.
const ExistingUser = "existing-user"

// Envelope is the single message shape exchanged with the relay. Offer,
// answer and candidate payloads are opaque blobs; the relay forwards them
// unmodified and never inspects SDP contents.
type Envelope struct {
	Type    string          `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	Role    domain.Role     `json:"role,omitempty"`
	Peer    string          `json:"peer,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// IsForward reports whether t is one of the three negotiation kinds the relay
// fans out to the other room members.
func IsForward(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}
