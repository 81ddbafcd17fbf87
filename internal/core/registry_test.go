package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/oasis-mind/sessioncore/internal/domain"
)

type nopConn struct{}

func (nopConn) TrySend(Frame) error { return nil }
func (nopConn) Close()              {}

func member(role domain.Role) *Member {
	return &Member{Participant: domain.NewParticipant(role, ""), Conn: nopConn{}}
}

func TestJoinReportsFirst(t *testing.T) {
	reg := NewRegistry()

	a := member(domain.RoleInitiator)
	first, err := reg.Join("r1", a)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !first {
		t.Error("Expected first joiner to be reported first")
	}

	b := member(domain.RoleResponder)
	first, err = reg.Join("r1", b)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if first {
		t.Error("Second joiner must not be reported first")
	}
}

func TestThirdJoinRejectedWithoutDisplacing(t *testing.T) {
	reg := NewRegistry()

	a := member(domain.RoleInitiator)
	b := member(domain.RoleResponder)
	if _, err := reg.Join("r1", a); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := reg.Join("r1", b); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	c := member(domain.RoleResponder)
	if _, err := reg.Join("r1", c); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("Expected ErrRoomFull, got %v", err)
	}
	if n := reg.MemberCount("r1"); n != 2 {
		t.Errorf("Expected membership bounded at 2, got %d", n)
	}
	for _, m := range reg.OtherMembers("r1", c.Participant.ID) {
		if m.Participant.ID == c.Participant.ID {
			t.Error("Rejected joiner must not appear in membership")
		}
	}
}

func TestOtherMembersNeverEchoesCaller(t *testing.T) {
	reg := NewRegistry()

	a := member(domain.RoleInitiator)
	b := member(domain.RoleResponder)
	reg.Join("r1", a)
	reg.Join("r1", b)

	others := reg.OtherMembers("r1", a.Participant.ID)
	if len(others) != 1 {
		t.Fatalf("Expected 1 other member, got %d", len(others))
	}
	if others[0].Participant.ID != b.Participant.ID {
		t.Error("OtherMembers returned the caller")
	}
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	reg := NewRegistry()

	a := member(domain.RoleInitiator)
	b := member(domain.RoleResponder)
	reg.Join("r1", a)
	reg.Join("r1", b)

	if empty := reg.Leave("r1", a.Participant.ID); empty {
		t.Error("Room with one remaining member reported empty")
	}
	if empty := reg.Leave("r1", b.Participant.ID); !empty {
		t.Error("Expected room to be empty after last leave")
	}
	if len(reg.List()) != 0 {
		t.Error("Empty room was not destroyed")
	}

	// A fresh join after destruction starts a new room.
	c := member(domain.RoleInitiator)
	first, err := reg.Join("r1", c)
	if err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}
	if !first {
		t.Error("Joiner of a recreated room must be first")
	}
}

func TestConcurrentJoinersOnlyOneFirst(t *testing.T) {
	reg := NewRegistry()

	const rounds = 100
	for i := 0; i < rounds; i++ {
		var wg sync.WaitGroup
		firsts := make([]bool, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				first, err := reg.Join("race", member(domain.RoleInitiator))
				if err != nil {
					t.Errorf("Join failed: %v", err)
					return
				}
				firsts[j] = first
			}(j)
		}
		wg.Wait()
		if firsts[0] == firsts[1] {
			t.Fatalf("Exactly one joiner must be first, got %v and %v", firsts[0], firsts[1])
		}
		for _, m := range reg.MembersSnapshot("race") {
			reg.Leave("race", m.ID)
		}
	}
}

func TestIndependentRoomsDoNotInterfere(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	rooms := []domain.RoomID{"a", "b", "c", "d"}
	for _, id := range rooms {
		wg.Add(1)
		go func(id domain.RoomID) {
			defer wg.Done()
			m := member(domain.RoleInitiator)
			if _, err := reg.Join(id, m); err != nil {
				t.Errorf("Join %s failed: %v", id, err)
			}
			reg.Leave(id, m.Participant.ID)
		}(id)
	}
	wg.Wait()
	if len(reg.List()) != 0 {
		t.Error("Expected all rooms destroyed")
	}
}
