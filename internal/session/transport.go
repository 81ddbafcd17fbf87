package session

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ConnState collapses the transport's connectivity into what the state
// machine cares about.
type ConnState int

const (
	ConnConnected ConnState = iota
	ConnDisconnected
	ConnFailed
	ConnClosed
)

// ChatChannel is the ordered reliable side channel multiplexed over the
// negotiated transport.
type ChatChannel interface {
	Send([]byte) error
	OnMessage(func([]byte))
	OnOpen(func())
	Ready() bool
	Close() error
}

// PeerTransport abstracts the peer connection so the state machine can be
// driven by typed messages in tests without a live network.
type PeerTransport interface {
	AddTrack(webrtc.TrackLocal) error
	// CreateOffer creates and applies the local description. The restart flag
	// requests new ICE credentials for connectivity recovery.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// CreateAnswer applies the remote offer, then creates and applies the
	// local answer.
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	HasRemoteDescription() bool
	CreateChatChannel(label string) (ChatChannel, error)
	OnChatChannel(func(ChatChannel))
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionState(func(ConnState))
	OnRemoteTrack(func(*webrtc.TrackRemote))
	Close() error
}

type peerTransport struct {
	pc *webrtc.PeerConnection
}

// NewPeerTransport builds a pion-backed transport from the configured ICE
// servers.
func NewPeerTransport(iceServers []webrtc.ICEServer) (PeerTransport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, negotiationErr("create peer connection", err)
	}
	return &peerTransport{pc: pc}, nil
}

func (t *peerTransport) AddTrack(track webrtc.TrackLocal) error {
	if _, err := t.pc.AddTrack(track); err != nil {
		return negotiationErr("add local track", err)
	}
	return nil
}

func (t *peerTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, negotiationErr("create offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, negotiationErr("set local description", err)
	}
	return *t.pc.LocalDescription(), nil
}

func (t *peerTransport) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, negotiationErr("set remote description", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, negotiationErr("create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, negotiationErr("set local description", err)
	}
	return *t.pc.LocalDescription(), nil
}

func (t *peerTransport) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return negotiationErr("apply answer", err)
	}
	return nil
}

func (t *peerTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if err := t.pc.AddICECandidate(ci); err != nil {
		return negotiationErr("add ICE candidate", err)
	}
	return nil
}

func (t *peerTransport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *peerTransport) CreateChatChannel(label string) (ChatChannel, error) {
	ordered := true
	dc, err := t.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, negotiationErr("create data channel", err)
	}
	return &pionChatChannel{dc: dc}, nil
}

func (t *peerTransport) OnChatChannel(fn func(ChatChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&pionChatChannel{dc: dc})
	})
}

func (t *peerTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (t *peerTransport) OnConnectionState(fn func(ConnState)) {
	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "session.transport").Str("ice_state", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			fn(ConnConnected)
		case webrtc.ICEConnectionStateDisconnected:
			fn(ConnDisconnected)
		case webrtc.ICEConnectionStateFailed:
			fn(ConnFailed)
		case webrtc.ICEConnectionStateClosed:
			fn(ConnClosed)
		}
	})
}

func (t *peerTransport) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "session.transport").
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		fn(track)
	})
}

func (t *peerTransport) Close() error {
	return t.pc.Close()
}

type pionChatChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChatChannel) Send(data []byte) error { return c.dc.Send(data) }

func (c *pionChatChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c *pionChatChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *pionChatChannel) Ready() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *pionChatChannel) Close() error { return c.dc.Close() }
