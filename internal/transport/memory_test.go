package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/session"
)

const testTag = "example-color"

func nextEvent(t *testing.T, tr *MemoryTransport) Event {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func expectState(t *testing.T, tr *MemoryTransport, peerID string, st session.ConnectionState) {
	t.Helper()
	ev := nextEvent(t, tr)
	if ev.Kind != EventPeerStateChanged || ev.Peer.ID != peerID || ev.State != st {
		t.Fatalf("got %s peer=%s state=%v; want state %v for %s", ev.Kind, ev.Peer.ID, ev.State, st, peerID)
	}
}

func TestMemoryDiscovery(t *testing.T) {
	n := NewNetwork()
	a, b := n.Join(), n.Join()
	defer a.Close()
	defer b.Close()
	pa := identity.LocalPeer{ID: "a", DisplayName: "Alice"}
	pb := identity.LocalPeer{ID: "b", DisplayName: "Bob"}

	if err := b.StartAdvertising(testTag, pb); err != nil {
		t.Fatal(err)
	}
	if err := a.StartBrowsing(testTag, pa); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, a)
	if ev.Kind != EventPeerFound || ev.Peer.ID != "b" || ev.Peer.DisplayName != "Bob" {
		t.Fatalf("unexpected event %+v", ev)
	}

	b.StopAdvertising()
	ev = nextEvent(t, a)
	if ev.Kind != EventPeerLost || ev.Peer.ID != "b" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestMemoryDifferentTagsDoNotMeet(t *testing.T) {
	n := NewNetwork()
	a, b := n.Join(), n.Join()
	defer a.Close()
	defer b.Close()

	b.StartAdvertising("other-color", identity.LocalPeer{ID: "b"})
	a.StartBrowsing(testTag, identity.LocalPeer{ID: "a"})
	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryInviteAcceptAndSend(t *testing.T) {
	n := NewNetwork()
	a, b := n.Join(), n.Join()
	defer a.Close()
	defer b.Close()
	b.StartAdvertising(testTag, identity.LocalPeer{ID: "b", DisplayName: "Bob"})
	a.StartAdvertising(testTag, identity.LocalPeer{ID: "a", DisplayName: "Alice"})

	a.Invite("b", NoTimeout)
	expectState(t, a, "b", session.Connecting)

	ev := nextEvent(t, b)
	if ev.Kind != EventInvitationReceived || ev.Peer.ID != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}
	ev.Accept(true)
	ev.Accept(false)

	expectState(t, b, "a", session.Connecting)
	expectState(t, b, "a", session.Connected)
	expectState(t, a, "b", session.Connected)

	if err := a.Send([]byte("red"), []string{"b"}, Reliable); err != nil {
		t.Fatal(err)
	}
	ev = nextEvent(t, b)
	if ev.Kind != EventDataReceived || string(ev.Payload) != "red" || ev.Peer.ID != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if a.Sends() != 1 {
		t.Errorf("Sends() = %d; want 1", a.Sends())
	}

	a.Disconnect()
	expectState(t, a, "b", session.NotConnected)
	expectState(t, b, "a", session.NotConnected)
}

func TestMemoryInviteDeclined(t *testing.T) {
	n := NewNetwork()
	a, b := n.Join(), n.Join()
	defer a.Close()
	defer b.Close()
	b.StartAdvertising(testTag, identity.LocalPeer{ID: "b"})
	a.StartAdvertising(testTag, identity.LocalPeer{ID: "a"})

	a.Invite("b", NoTimeout)
	expectState(t, a, "b", session.Connecting)
	nextEvent(t, b).Accept(false)
	expectState(t, a, "b", session.NotConnected)
}

func TestMemoryInviteTimeout(t *testing.T) {
	n := NewNetwork()
	a, b := n.Join(), n.Join()
	defer a.Close()
	defer b.Close()
	b.StartAdvertising(testTag, identity.LocalPeer{ID: "b"})
	a.StartAdvertising(testTag, identity.LocalPeer{ID: "a"})

	a.Invite("b", 20*time.Millisecond)
	expectState(t, a, "b", session.Connecting)
	inv := nextEvent(t, b)
	expectState(t, a, "b", session.NotConnected)

	// A late answer has no effect.
	inv.Accept(true)
	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event after expiry: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryInviteUnknownPeer(t *testing.T) {
	n := NewNetwork()
	a := n.Join()
	defer a.Close()
	a.Invite("ghost", NoTimeout)
	expectState(t, a, "ghost", session.NotConnected)
}

func TestMemorySendFailuresAndEmptySet(t *testing.T) {
	n := NewNetwork()
	a := n.Join()
	defer a.Close()

	if err := a.Send([]byte("red"), nil, Reliable); err != nil {
		t.Errorf("Send to nobody = %v", err)
	}
	a.FailSend(errors.New("boom"))
	err := a.Send([]byte("red"), []string{"b"}, Reliable)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Send = %v; want TransportError", err)
	}
}

func TestMemoryStartFailures(t *testing.T) {
	n := NewNetwork()
	a := n.Join()
	defer a.Close()
	a.FailAdvertising(errors.New("no radio"))
	a.FailBrowsing(errors.New("no radio"))

	if err := a.StartAdvertising(testTag, identity.LocalPeer{ID: "a"}); !errors.Is(err, ErrTransport) {
		t.Errorf("StartAdvertising = %v", err)
	}
	if err := a.StartBrowsing(testTag, identity.LocalPeer{ID: "a"}); !errors.Is(err, ErrTransport) {
		t.Errorf("StartBrowsing = %v", err)
	}
	if a.Advertising() || a.Browsing() {
		t.Error("transport active after failed start")
	}
	if err := a.StartAdvertising("Bad Tag", identity.LocalPeer{ID: "a"}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("StartAdvertising(bad tag) = %v", err)
	}
}
