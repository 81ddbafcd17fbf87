package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/oasis-mind/sessioncore/internal/core"
	"github.com/oasis-mind/sessioncore/internal/domain"
	"github.com/oasis-mind/sessioncore/internal/signal"
)

// recordConn captures every frame the relay delivers, in order.
type recordConn struct {
	mu     sync.Mutex
	frames []*signal.Envelope
}

func (c *recordConn) TrySend(f core.Frame) error {
	var env signal.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, &env)
	c.mu.Unlock()
	return nil
}

func (c *recordConn) Close() {}

func (c *recordConn) received() []*signal.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*signal.Envelope, len(c.frames))
	copy(out, c.frames)
	return out
}

func newMember(role domain.Role, name string) (*core.Member, *recordConn) {
	conn := &recordConn{}
	return &core.Member{Participant: domain.NewParticipant(role, name), Conn: conn}, conn
}

func TestJoinNotifications(t *testing.T) {
	r := New(core.NewRegistry())

	initiator, initConn := newMember(domain.RoleInitiator, "client")
	r.Join(initiator, "r1")
	if got := initConn.received(); len(got) != 0 {
		t.Fatalf("First joiner should get no notification, got %d", len(got))
	}

	responder, respConn := newMember(domain.RoleResponder, "Dr. Chen")
	r.Join(responder, "r1")

	// Later joiner learns a peer is present without waiting for a broadcast.
	got := respConn.received()
	if len(got) != 1 || got[0].Type != signal.TypeUserJoined || got[0].Peer != signal.ExistingUser {
		t.Fatalf("Later joiner expected existing-user sentinel, got %+v", got)
	}

	// Earlier member gets the joiner's identity.
	got = initConn.received()
	if len(got) != 1 || got[0].Type != signal.TypeUserJoined {
		t.Fatalf("Earlier member expected user-joined, got %+v", got)
	}
	if got[0].Peer != string(responder.Participant.ID) || got[0].Name != "Dr. Chen" {
		t.Errorf("user-joined should carry joiner identity, got peer=%q name=%q", got[0].Peer, got[0].Name)
	}
}

func TestThirdJoinerGetsSentinelAndRoomUntouched(t *testing.T) {
	reg := core.NewRegistry()
	r := New(reg)

	a, aConn := newMember(domain.RoleInitiator, "")
	b, _ := newMember(domain.RoleResponder, "")
	r.Join(a, "r1")
	r.Join(b, "r1")
	before := len(aConn.received())

	c, cConn := newMember(domain.RoleResponder, "")
	r.Join(c, "r1")

	got := cConn.received()
	if len(got) != 1 || got[0].Peer != signal.ExistingUser {
		t.Fatalf("Third joiner expected existing-user sentinel, got %+v", got)
	}
	if n := reg.MemberCount("r1"); n != 2 {
		t.Errorf("Room membership must stay bounded at 2, got %d", n)
	}
	if len(aConn.received()) != before {
		t.Error("Existing members must not be notified about a refused join")
	}
}

func TestForwardReachesOnlyOtherMember(t *testing.T) {
	r := New(core.NewRegistry())

	a, aConn := newMember(domain.RoleInitiator, "")
	b, bConn := newMember(domain.RoleResponder, "")
	r.Join(a, "r1")
	r.Join(b, "r1")
	aConn.frames, bConn.frames = nil, nil

	sdp, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0"})
	r.Forward(a, &signal.Envelope{Type: signal.TypeOffer, Payload: sdp})

	if got := aConn.received(); len(got) != 0 {
		t.Errorf("Sender must never receive its own envelope, got %d", len(got))
	}
	got := bConn.received()
	if len(got) != 1 || got[0].Type != signal.TypeOffer {
		t.Fatalf("Expected one forwarded offer, got %+v", got)
	}
	if string(got[0].Payload) != string(sdp) {
		t.Error("Payload must be forwarded unchanged")
	}
}

func TestForwardPreservesEmissionOrder(t *testing.T) {
	r := New(core.NewRegistry())

	a, _ := newMember(domain.RoleInitiator, "")
	b, bConn := newMember(domain.RoleResponder, "")
	r.Join(a, "r1")
	r.Join(b, "r1")
	bConn.frames = nil

	r.Forward(a, &signal.Envelope{Type: signal.TypeOffer, Payload: json.RawMessage(`{"n":0}`)})
	for i := 1; i <= 5; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
		r.Forward(a, &signal.Envelope{Type: signal.TypeICECandidate, Payload: payload})
	}

	got := bConn.received()
	if len(got) != 6 {
		t.Fatalf("Expected 6 envelopes, got %d", len(got))
	}
	if got[0].Type != signal.TypeOffer {
		t.Error("Offer must arrive before candidates")
	}
	for i, env := range got {
		var p struct{ N int }
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("Bad payload: %v", err)
		}
		if p.N != i {
			t.Fatalf("Envelope %d out of order: got n=%d", i, p.N)
		}
	}
}

func TestForwardWithoutRoomReturnsError(t *testing.T) {
	r := New(core.NewRegistry())

	a, aConn := newMember(domain.RoleInitiator, "")
	r.Forward(a, &signal.Envelope{Type: signal.TypeOffer})

	got := aConn.received()
	if len(got) != 1 || got[0].Type != signal.TypeError {
		t.Fatalf("Expected error envelope, got %+v", got)
	}
}

func TestDisconnectNotifiesRemainingPeer(t *testing.T) {
	reg := core.NewRegistry()
	r := New(reg)

	a, _ := newMember(domain.RoleInitiator, "")
	b, bConn := newMember(domain.RoleResponder, "")
	r.Join(a, "r1")
	r.Join(b, "r1")
	bConn.frames = nil

	r.Disconnect(a)

	got := bConn.received()
	if len(got) != 1 || got[0].Type != signal.TypePeerLeft {
		t.Fatalf("Expected peer-left, got %+v", got)
	}

	r.Disconnect(b)
	if len(reg.List()) != 0 {
		t.Error("Empty room must be destroyed after last disconnect")
	}

	// Disconnecting an unknown member is a no-op.
	r.Disconnect(a)
}
