package chat

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tildechat/internal/pkg/wire"
)

// newTestSession builds a session with no underlying connection; frames the
// engine emits pile up in the send queue for assertions.
func newTestSession(e *Engine, name string) *Session {
	return &Session{
		name:   name,
		send:   make(chan []byte, sendQueueSize),
		engine: e,
		logger: zerolog.Nop(),
	}
}

func admit(t *testing.T, e *Engine, name string) *Session {
	t.Helper()

	s := newTestSession(e, name)
	if !e.Admit(s) {
		t.Fatalf("admission of %s failed", name)
	}
	return s
}

// takeFrame pops the next queued outbound frame, failing if none is queued.
func takeFrame(t *testing.T, s *Session) []byte {
	t.Helper()

	select {
	case f := <-s.send:
		return f
	default:
		t.Fatalf("session %s has no queued frame", s.name)
		return nil
	}
}

func expectFrame(t *testing.T, s *Session, want []byte) {
	t.Helper()

	got := takeFrame(t, s)
	if !bytes.Equal(got, want) {
		t.Fatalf("session %s received % X, want % X", s.name, got, want)
	}
}

func expectNoFrame(t *testing.T, s *Session) {
	t.Helper()

	select {
	case f := <-s.send:
		t.Fatalf("session %s unexpectedly received % X", s.name, f)
	default:
	}
}

func TestAdmissionBroadcastsToOthersOnly(t *testing.T) {
	e := NewEngine()

	ana := admit(t, e, "Ana")
	expectNoFrame(t, ana)

	bob := admit(t, e, "Bob")

	expectFrame(t, ana, []byte{0x35, 0x03, 'B', 'o', 'b', 0x01})
	expectNoFrame(t, bob)

	if e.store.Get(PairKey("Ana", "Bob")) == nil {
		t.Fatal("pair history must exist after admission")
	}
}

func TestAdmissionRejectsDuplicate(t *testing.T) {
	e := NewEngine()
	admit(t, e, "Ana")

	twin := newTestSession(e, "Ana")
	if e.Admit(twin) {
		t.Fatal("duplicate admission must fail")
	}
	if e.roster.Len() != 1 {
		t.Fatalf("roster len %d, want 1", e.roster.Len())
	}
}

// Admission and roster echo: Ana lists users and sees herself, ACTIVE.
func TestListUsersSingle(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")

	e.HandleFrame(ana, []byte{0x01})

	expectFrame(t, ana, []byte{0x33, 0x01, 0x03, 'A', 'n', 'a', 0x01})
}

func TestListUsersInsertionOrderAndActivity(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	takeFrame(t, ana) // REGISTERED_USER Bob

	before := time.Now()
	bobLast := bob.lastAction

	e.HandleFrame(ana, []byte{0x01})

	expectFrame(t, ana, []byte{
		0x33, 0x02,
		0x03, 'A', 'n', 'a', 0x01,
		0x03, 'B', 'o', 'b', 0x01,
	})

	if ana.lastAction.Before(before) {
		t.Fatal("LIST_USERS must update the requester's lastAction")
	}
	if !bob.lastAction.Equal(bobLast) {
		t.Fatal("LIST_USERS must not touch other users' lastAction")
	}
}

func TestGetUser(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	takeFrame(t, ana)

	bob.status = wire.StatusBusy

	e.HandleFrame(ana, []byte{0x02, 0x03, 'B', 'o', 'b'})
	expectFrame(t, ana, []byte{0x34, 0x03, 'B', 'o', 'b', 0x02})

	e.HandleFrame(ana, []byte{0x02, 0x03, 'C', 'a', 'm'})
	expectFrame(t, ana, []byte{0x32, 0x00})
}

// Presence transition broadcast: both users see Bob become BUSY; only Bob's
// lastAction moves.
func TestChangeStatusBroadcast(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	takeFrame(t, ana)

	anaLast := ana.lastAction

	e.HandleFrame(bob, []byte{0x03, 0x03, 'B', 'o', 'b', 0x02})

	want := []byte{0x36, 0x03, 'B', 'o', 'b', 0x02}
	expectFrame(t, ana, want)
	expectFrame(t, bob, want)

	if bob.status != wire.StatusBusy {
		t.Fatalf("bob status %v, want BUSY", bob.status)
	}
	if !ana.lastAction.Equal(anaLast) {
		t.Fatal("broadcast must not touch Ana's lastAction")
	}
}

func TestChangeStatusRules(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	takeFrame(t, ana)

	// Changing someone else's state is invalid.
	e.HandleFrame(bob, []byte{0x03, 0x03, 'A', 'n', 'a', 0x02})
	expectFrame(t, bob, []byte{0x32, 0x01})
	expectNoFrame(t, ana)

	// Same-state change is silently ignored.
	e.HandleFrame(bob, []byte{0x03, 0x03, 'B', 'o', 'b', 0x01})
	expectNoFrame(t, bob)
	expectNoFrame(t, ana)

	// Clients may never request INACTIVE.
	e.HandleFrame(bob, []byte{0x03, 0x03, 'B', 'o', 'b', 0x03})
	expectFrame(t, bob, []byte{0x32, 0x01})

	// Nor DISCONNECTED, nor undefined states.
	e.HandleFrame(bob, []byte{0x03, 0x03, 'B', 'o', 'b', 0x00})
	expectFrame(t, bob, []byte{0x32, 0x01})
	e.HandleFrame(bob, []byte{0x03, 0x03, 'B', 'o', 'b', 0x07})
	expectFrame(t, bob, []byte{0x32, 0x01})

	// INACTIVE users may move to BUSY.
	bob.status = wire.StatusInactive
	e.HandleFrame(bob, []byte{0x03, 0x03, 'B', 'o', 'b', 0x02})
	want := []byte{0x36, 0x03, 'B', 'o', 'b', 0x02}
	expectFrame(t, ana, want)
	expectFrame(t, bob, want)
}

// Direct message delivery and ordering: the message reaches both ends and
// lands in the canonical pair history.
func TestSendDirectMessage(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	takeFrame(t, ana)

	e.HandleFrame(bob, []byte{0x04, 0x03, 'A', 'n', 'a', 0x02, 'h', 'i'})

	want := []byte{0x37, 0x03, 'B', 'o', 'b', 0x02, 'h', 'i'}
	expectFrame(t, ana, want)
	expectFrame(t, bob, want)

	e.HandleFrame(ana, []byte{0x05, 0x03, 'B', 'o', 'b'})
	expectFrame(t, ana, []byte{0x38, 0x01, 0x03, 'B', 'o', 'b', 0x02, 'h', 'i'})
}

func TestSendMessageErrors(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")

	// Empty content wins over empty target.
	e.HandleFrame(ana, []byte{0x04, 0x00, 0x00})
	expectFrame(t, ana, []byte{0x32, 0x02})

	e.HandleFrame(ana, []byte{0x04, 0x00, 0x02, 'h', 'i'})
	expectFrame(t, ana, []byte{0x32, 0x00})

	e.HandleFrame(ana, []byte{0x04, 0x03, 'C', 'a', 'm', 0x02, 'h', 'i'})
	expectFrame(t, ana, []byte{0x32, 0x00})
}

func TestSendMessageToSelfDeliversOnce(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")

	e.HandleFrame(ana, []byte{0x04, 0x03, 'A', 'n', 'a', 0x02, 'y', 'o'})

	expectFrame(t, ana, []byte{0x37, 0x03, 'A', 'n', 'a', 0x02, 'y', 'o'})
	expectNoFrame(t, ana)

	e.HandleFrame(ana, []byte{0x05, 0x03, 'A', 'n', 'a'})
	expectFrame(t, ana, []byte{0x38, 0x01, 0x03, 'A', 'n', 'a', 0x02, 'y', 'o'})
}

// Group message and inactivity revival: the group frame reaches everyone with
// origin "~", then the sender's revival is broadcast.
func TestGroupMessageRevivesInactiveSender(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	takeFrame(t, ana)

	ana.status = wire.StatusInactive

	e.HandleFrame(ana, []byte{0x04, 0x01, '~', 0x03, 'h', 'e', 'y'})

	wantMsg := []byte{0x37, 0x01, '~', 0x03, 'h', 'e', 'y'}
	wantRevive := []byte{0x36, 0x03, 'A', 'n', 'a', 0x01}

	expectFrame(t, ana, wantMsg)
	expectFrame(t, ana, wantRevive)
	expectFrame(t, bob, wantMsg)
	expectFrame(t, bob, wantRevive)

	if ana.status != wire.StatusActive {
		t.Fatal("sender must be revived to ACTIVE")
	}

	entries := e.group.Snapshot()
	if len(entries) != 1 || entries[0].Origin != "~" || entries[0].Content != "hey" {
		t.Fatalf("unexpected group history %v", entries)
	}
}

func TestGetMessagesGroupAndMissingPair(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")

	e.HandleFrame(ana, []byte{0x04, 0x01, '~', 0x02, 'h', 'i'})
	takeFrame(t, ana) // GOT_MESSAGE

	last := ana.lastAction
	e.HandleFrame(ana, []byte{0x05, 0x01, '~'})
	expectFrame(t, ana, []byte{0x38, 0x01, 0x01, '~', 0x02, 'h', 'i'})

	if !ana.lastAction.Equal(last) {
		t.Fatal("GET_MESSAGES must not count as activity")
	}

	// A pair channel that never existed answers with zero entries.
	e.HandleFrame(ana, []byte{0x05, 0x03, 'C', 'a', 'm'})
	expectFrame(t, ana, []byte{0x38, 0x00})
}

// Disconnect cascade: survivors get the DISCONNECTED farewell and the
// departing user's pair histories are destroyed.
func TestDisconnectCascade(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	cam := admit(t, e, "Cam")
	takeFrame(t, ana) // REGISTERED_USER Bob
	takeFrame(t, ana) // REGISTERED_USER Cam
	takeFrame(t, bob) // REGISTERED_USER Cam

	e.HandleFrame(bob, []byte{0x04, 0x01, '~', 0x02, 'h', 'i'})
	takeFrame(t, ana)
	takeFrame(t, bob)
	takeFrame(t, cam)

	e.Disconnect(bob)

	want := []byte{0x36, 0x03, 'B', 'o', 'b', 0x00}
	expectFrame(t, ana, want)
	expectFrame(t, cam, want)

	if e.roster.Contains("Bob") {
		t.Fatal("Bob must be removed from the roster")
	}
	if e.store.Get(PairKey("Ana", "Bob")) != nil || e.store.Get(PairKey("Bob", "Cam")) != nil {
		t.Fatal("pair histories touching Bob must be destroyed")
	}
	if e.store.Get(PairKey("Ana", "Cam")) == nil {
		t.Fatal("unrelated pair history must survive")
	}
	if e.group.Len() != 1 {
		t.Fatal("group history must survive a disconnect")
	}

	// A second disconnect for the same session is a no-op.
	e.Disconnect(bob)
	expectNoFrame(t, ana)
}

func TestMalformedFrameDropped(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")

	e.HandleFrame(ana, []byte{0x09})
	e.HandleFrame(ana, nil)
	e.HandleFrame(ana, []byte{0x02, 0x00})

	expectNoFrame(t, ana)
	if !e.roster.Contains("Ana") {
		t.Fatal("malformed frames must not disconnect the session")
	}
}

func TestIdleSweepDemotesOnlyQuiescentActive(t *testing.T) {
	e := NewEngine()
	ana := admit(t, e, "Ana")
	bob := admit(t, e, "Bob")
	cam := admit(t, e, "Cam")
	takeFrame(t, ana)
	takeFrame(t, ana)
	takeFrame(t, bob)

	now := time.Now()
	ana.lastAction = now.Add(-idleThreshold - time.Second)
	bob.status = wire.StatusBusy
	bob.lastAction = now.Add(-idleThreshold - time.Second)
	cam.lastAction = now

	if demoted := e.sweepIdle(now); demoted != 1 {
		t.Fatalf("demoted %d users, want 1", demoted)
	}

	if ana.status != wire.StatusInactive {
		t.Fatal("quiescent ACTIVE user must be demoted")
	}
	if bob.status != wire.StatusBusy {
		t.Fatal("BUSY users are never demoted")
	}
	if cam.status != wire.StatusActive {
		t.Fatal("recently active users stay ACTIVE")
	}

	want := []byte{0x36, 0x03, 'A', 'n', 'a', 0x03}
	expectFrame(t, ana, want)
	expectFrame(t, bob, want)
	expectFrame(t, cam, want)

	// A second sweep finds nothing new.
	if demoted := e.sweepIdle(now); demoted != 0 {
		t.Fatal("already INACTIVE users must not be demoted again")
	}
}

func TestIdleDetectorStopsOnCancel(t *testing.T) {
	e := NewEngine()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.RunIdleDetector(ctx)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle detector did not stop on cancellation")
	}
}
