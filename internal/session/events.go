package session

import (
	"time"

	"github.com/oasis-mind/sessioncore/internal/domain"
)

// EventKind enumerates everything the presentation layer can observe.
type EventKind int

const (
	EventStatusChanged EventKind = iota
	EventPeerJoined
	EventPeerLeft
	EventChatMessage
	EventRemoteMedia
	EventTimeWarning
	EventNotice
	EventEnded
)

// Event is one upward notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	Status    string
	Detail    string
	Message   domain.ChatMessage
	Remaining time.Duration
}

func (k EventKind) String() string {
	switch k {
	case EventStatusChanged:
		return "status"
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventChatMessage:
		return "chat"
	case EventRemoteMedia:
		return "remote-media"
	case EventTimeWarning:
		return "time-warning"
	case EventNotice:
		return "notice"
	case EventEnded:
		return "ended"
	}
	return "unknown"
}
