package session

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/peder1981/p2p-color/internal/identity"
)

func newTestSession() *Session {
	return New(identity.LocalPeer{ID: "local", DisplayName: "Local"})
}

func TestApplyValidEdges(t *testing.T) {
	s := newTestSession()

	tr := s.Apply("a", "Alice", Connecting)
	if len(tr) != 1 || tr[0].From != NotConnected || tr[0].To != Connecting {
		t.Fatalf("unexpected transitions: %+v", tr)
	}
	if len(tr[0].Connected) != 0 {
		t.Errorf("connected = %v; want empty", tr[0].Connected)
	}

	tr = s.Apply("a", "", Connected)
	if len(tr) != 1 || tr[0].To != Connected {
		t.Fatalf("unexpected transitions: %+v", tr)
	}
	if !reflect.DeepEqual(tr[0].Connected, []string{"Alice"}) {
		t.Errorf("connected = %v; want [Alice]", tr[0].Connected)
	}

	tr = s.Apply("a", "", NotConnected)
	if len(tr) != 1 || tr[0].From != Connected || tr[0].To != NotConnected {
		t.Fatalf("unexpected transitions: %+v", tr)
	}
}

// TestApplySynthesizesConnecting checks that a skipped Connecting step is
// filled in and produces two transitions.
func TestApplySynthesizesConnecting(t *testing.T) {
	s := newTestSession()
	tr := s.Apply("a", "Alice", Connected)
	if len(tr) != 2 {
		t.Fatalf("got %d transitions; want 2", len(tr))
	}
	if tr[0].From != NotConnected || tr[0].To != Connecting {
		t.Errorf("first edge = %v -> %v", tr[0].From, tr[0].To)
	}
	if tr[1].From != Connecting || tr[1].To != Connected {
		t.Errorf("second edge = %v -> %v", tr[1].From, tr[1].To)
	}
	if len(tr[0].Connected) != 0 {
		t.Errorf("connected after first edge = %v; want empty", tr[0].Connected)
	}
	if !reflect.DeepEqual(tr[1].Connected, []string{"Alice"}) {
		t.Errorf("connected after second edge = %v", tr[1].Connected)
	}
}

func TestApplyBackwardStepResetsFirst(t *testing.T) {
	s := newTestSession()
	s.Apply("a", "Alice", Connected)
	tr := s.Apply("a", "", Connecting)
	if len(tr) != 2 || tr[0].To != NotConnected || tr[1].To != Connecting {
		t.Fatalf("unexpected transitions: %+v", tr)
	}
}

func TestApplySameStateIsNoop(t *testing.T) {
	s := newTestSession()
	s.Apply("a", "Alice", Connecting)
	if tr := s.Apply("a", "", Connecting); tr != nil {
		t.Errorf("repeat Connecting produced %+v", tr)
	}
	if tr := s.Apply("b", "Bob", NotConnected); tr != nil {
		t.Errorf("NotConnected on unknown peer produced %+v", tr)
	}
	if tr := s.Apply("a", "", ConnectionState(42)); tr != nil {
		t.Errorf("invalid state produced %+v", tr)
	}
}

// TestApplyRandomSequencesStayOnValidEdges feeds random state reports and
// checks every returned edge is legal and chains from the previous state.
func TestApplyRandomSequencesStayOnValidEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newTestSession()
	ids := []string{"a", "b", "c"}
	last := map[string]ConnectionState{}

	for i := 0; i < 5000; i++ {
		id := ids[rng.Intn(len(ids))]
		to := ConnectionState(rng.Intn(3))
		for _, tr := range s.Apply(id, id, to) {
			if tr.From != last[id] {
				t.Fatalf("edge for %s starts at %v; recorded state was %v", id, tr.From, last[id])
			}
			if !validEdge(tr.From, tr.To) {
				t.Fatalf("invalid edge %v -> %v", tr.From, tr.To)
			}
			last[id] = tr.To
		}
		if got := s.State(id); got != to {
			t.Fatalf("state of %s = %v; want %v", id, got, to)
		}
	}
}

func TestDiscoverDoesNotDuplicate(t *testing.T) {
	s := newTestSession()
	if !s.Discover("a", "Alice") {
		t.Error("first Discover returned false")
	}
	s.Apply("a", "", Connected)
	if s.Discover("a", "Alice 2") {
		t.Error("second Discover returned true")
	}
	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d peers; want 1", len(snap))
	}
	if snap[0].State != Connected || snap[0].DisplayName != "Alice 2" {
		t.Errorf("unexpected record %+v", snap[0])
	}
}

func TestConnectedSetInDiscoveryOrder(t *testing.T) {
	s := newTestSession()
	s.Discover("c", "Carol")
	s.Discover("a", "Alice")
	s.Discover("b", "Bob")
	s.Apply("b", "", Connected)
	s.Apply("c", "", Connected)
	s.Apply("a", "", Connecting)

	if got := s.ConnectedNames(); !reflect.DeepEqual(got, []string{"Carol", "Bob"}) {
		t.Errorf("ConnectedNames = %v", got)
	}
	if got := s.ConnectedIDs(); !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("ConnectedIDs = %v", got)
	}
}

func TestForgetOnlyDropsIdlePeers(t *testing.T) {
	s := newTestSession()
	s.Discover("a", "Alice")
	s.Discover("b", "Bob")
	s.Apply("b", "", Connecting)

	if !s.Forget("a") {
		t.Error("Forget(a) = false; want true")
	}
	if s.Forget("b") {
		t.Error("Forget(b) = true for a connecting peer")
	}
	if _, ok := s.Peer("a"); ok {
		t.Error("peer a still known")
	}
	if _, ok := s.Peer("b"); !ok {
		t.Error("peer b was dropped")
	}
}

func TestReset(t *testing.T) {
	s := newTestSession()
	s.Apply("a", "Alice", Connected)
	s.Reset()
	if len(s.Snapshot()) != 0 || len(s.ConnectedIDs()) != 0 {
		t.Error("Reset left peers behind")
	}
	if s.Local().ID != "local" {
		t.Errorf("Local().ID = %q", s.Local().ID)
	}
}

func TestStateString(t *testing.T) {
	cases := map[ConnectionState]string{
		NotConnected: "Not Connected",
		Connecting:   "Connecting",
		Connected:    "Connected",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q; want %q", st, got, want)
		}
	}
}
