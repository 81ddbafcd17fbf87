// Package media owns local capture. A Source hands the negotiator the local
// tracks it attaches to the peer connection, and releases the underlying
// devices on Stop. The synthetic source stands in for real capture hardware
// in headless runs and tests.
package media

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrDenied means the capture devices could not be acquired. Terminal for the
// session attempt; the caller surfaces it and does not retry.
var ErrDenied = errors.New("media device access denied")

// Source supplies the local audio and video tracks fed into a session.
type Source interface {
	// Acquire opens the devices and returns one audio and one video track.
	Acquire() ([]webrtc.TrackLocal, error)
	// Stop releases the devices and stops feeding the tracks. Idempotent.
	Stop()
}

// Switchable is implemented by sources that can gate a kind of track without
// renegotiating, the way browser tracks flip enabled. Mute toggles no-op on
// sources that cannot.
type Switchable interface {
	SetEnabled(kind webrtc.RTPCodecType, enabled bool)
}
