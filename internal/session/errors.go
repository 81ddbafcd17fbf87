package session

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaDenied wraps media.ErrDenied at the session level: terminal for
	// the attempt, surfaced to the user, never retried.
	ErrMediaDenied = errors.New("media acquisition denied")

	// ErrSignalingLost means the relay connection dropped. The negotiator
	// reports degraded status but does not rejoin without explicit user action.
	ErrSignalingLost = errors.New("signaling connection lost")

	ErrEnded = errors.New("session already ended")
)

// NegotiationError carries the failed handshake operation. Not fatal to the
// call; it surfaces as a status string until the timer expires.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

func negotiationErr(op string, err error) *NegotiationError {
	return &NegotiationError{Op: op, Err: err}
}
