// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

// Role says which side of the booking a participant represents. Exactly one
// side (the client) creates offers; the counterpart only answers. Role is
// assigned upstream, never negotiated, so the two peers can never race to
// create an offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

var ErrUnknownRole = errors.New("unknown role")

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInitiator, RoleResponder:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

type ParticipantID string

// Participant is the per-connection identity a relay tracks. The connection
// itself is owned by the transport adapter, not by this struct.
type Participant struct {
	ID   ParticipantID
	Role Role
	Name string
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(role Role, name string) *Participant {
	return &Participant{ID: ParticipantID(uuid.NewString()), Role: role, Name: name}
}
