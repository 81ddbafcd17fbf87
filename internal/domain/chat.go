package domain

import "time"

// ChatMessage is one entry of the in-memory session transcript.
// Simulated marks degraded-mode replies generated locally while the
// side channel is not yet open, so they are distinguishable from
// genuine peer messages.
type ChatMessage struct {
	Sender    string    `json:"sender" msgpack:"sender"`
	Text      string    `json:"text" msgpack:"text"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Simulated bool      `json:"simulated,omitempty" msgpack:"-"`
}
