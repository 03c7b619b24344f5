package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/queue"
	"github.com/peder1981/p2p-color/internal/session"
)

var errPeerUnavailable = errors.New("peer unavailable")

// Network is an in-process medium shared by MemoryTransports.
// Transports joined to the same Network discover each other when they
// advertise and browse under the same service tag.
type Network struct {
	mu    sync.Mutex
	nodes map[*MemoryTransport]struct{}
}

// NewNetwork creates an empty in-process network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[*MemoryTransport]struct{})}
}

// Join attaches a new transport to the network.
func (n *Network) Join() *MemoryTransport {
	t := &MemoryTransport{
		net:    n,
		events: queue.New[Event](),
		links:  make(map[string]*memLink),
	}
	n.mu.Lock()
	n.nodes[t] = struct{}{}
	n.mu.Unlock()
	return t
}

// memLink is one end of a session link between two transports.
type memLink struct {
	peer    Peer
	state   session.ConnectionState
	pending *memInvite
}

type memInvite struct {
	answered bool
	timer    *time.Timer
}

// MemoryTransport is a Transport whose peers live in the same process.
// It is used by tests and by the memory transport mode of the CLI.
// All state is guarded by the Network mutex.
type MemoryTransport struct {
	net    *Network
	events *queue.Queue[Event]

	local       identity.LocalPeer
	advertising bool
	advertTag   string
	browsing    bool
	browseTag   string
	links       map[string]*memLink
	closed      bool

	failAdvertise error
	failBrowse    error
	failSend      error
	sends         int
}

// FailAdvertising makes StartAdvertising fail with err. Nil clears it.
func (t *MemoryTransport) FailAdvertising(err error) {
	t.net.mu.Lock()
	t.failAdvertise = err
	t.net.mu.Unlock()
}

// FailBrowsing makes StartBrowsing fail with err. Nil clears it.
func (t *MemoryTransport) FailBrowsing(err error) {
	t.net.mu.Lock()
	t.failBrowse = err
	t.net.mu.Unlock()
}

// FailSend makes Send fail with err. Nil clears it.
func (t *MemoryTransport) FailSend(err error) {
	t.net.mu.Lock()
	t.failSend = err
	t.net.mu.Unlock()
}

// Inject queues ev as if the network had produced it.
func (t *MemoryTransport) Inject(ev Event) {
	t.events.Push(ev)
}

// Sends returns how many peer deliveries Send has made.
func (t *MemoryTransport) Sends() int {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.sends
}

// Advertising reports whether the transport is currently advertising.
func (t *MemoryTransport) Advertising() bool {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.advertising
}

// Browsing reports whether the transport is currently browsing.
func (t *MemoryTransport) Browsing() bool {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.browsing
}

func (t *MemoryTransport) self() Peer {
	return Peer{ID: t.local.ID, DisplayName: t.local.DisplayName}
}

func (t *MemoryTransport) StartAdvertising(tag string, local identity.LocalPeer) error {
	if err := ValidateServiceTag(tag); err != nil {
		return &TransportError{Op: "advertise", Err: err}
	}

	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if t.failAdvertise != nil {
		return &TransportError{Op: "advertise", Err: t.failAdvertise}
	}
	if t.advertising && t.advertTag == tag {
		return nil
	}
	t.local = local
	t.advertising = true
	t.advertTag = tag

	for other := range t.net.nodes {
		if other != t && other.browsing && other.browseTag == tag {
			other.events.Push(PeerFound(t.self()))
		}
	}
	return nil
}

func (t *MemoryTransport) StopAdvertising() {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.stopAdvertisingLocked()
}

func (t *MemoryTransport) stopAdvertisingLocked() {
	if !t.advertising {
		return
	}
	t.advertising = false
	for other := range t.net.nodes {
		if other != t && other.browsing && other.browseTag == t.advertTag {
			other.events.Push(PeerLost(t.local.ID))
		}
	}
}

func (t *MemoryTransport) StartBrowsing(tag string, local identity.LocalPeer) error {
	if err := ValidateServiceTag(tag); err != nil {
		return &TransportError{Op: "browse", Err: err}
	}

	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if t.failBrowse != nil {
		return &TransportError{Op: "browse", Err: t.failBrowse}
	}
	if t.browsing && t.browseTag == tag {
		return nil
	}
	t.local = local
	t.browsing = true
	t.browseTag = tag

	for other := range t.net.nodes {
		if other != t && other.advertising && other.advertTag == tag {
			t.events.Push(PeerFound(other.self()))
		}
	}
	return nil
}

func (t *MemoryTransport) StopBrowsing() {
	t.net.mu.Lock()
	t.browsing = false
	t.net.mu.Unlock()
}

// lookupLocked finds the advertising transport with the given peer id.
func (t *MemoryTransport) lookupLocked(id string) *MemoryTransport {
	for other := range t.net.nodes {
		if other != t && !other.closed && other.advertising && other.local.ID == id {
			return other
		}
	}
	return nil
}

func (t *MemoryTransport) linkLocked(p Peer) *memLink {
	l, ok := t.links[p.ID]
	if !ok {
		l = &memLink{peer: p}
		t.links[p.ID] = l
	}
	return l
}

// setStateLocked records st on the link to p and reports it.
func (t *MemoryTransport) setStateLocked(p Peer, st session.ConnectionState) {
	l := t.linkLocked(p)
	if l.state == st {
		return
	}
	l.state = st
	t.events.Push(StateChanged(l.peer, st))
}

func (t *MemoryTransport) Invite(peerID string, timeout time.Duration) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()

	target := t.lookupLocked(peerID)
	if target == nil || t.closed {
		t.events.Push(StateChanged(Peer{ID: peerID}, session.NotConnected))
		return
	}
	l := t.linkLocked(target.self())
	if l.state != session.NotConnected {
		return
	}

	inv := &memInvite{}
	l.pending = inv
	t.setStateLocked(target.self(), session.Connecting)

	if timeout > 0 {
		inv.timer = time.AfterFunc(timeout, func() {
			t.net.mu.Lock()
			defer t.net.mu.Unlock()
			if inv.answered {
				return
			}
			inv.answered = true
			if l.pending == inv {
				l.pending = nil
				t.setStateLocked(l.peer, session.NotConnected)
			}
		})
	}

	inviter := t
	var once sync.Once
	accept := func(ok bool) {
		once.Do(func() {
			inviter.answer(target, inv, ok)
		})
	}
	target.events.Push(InvitationReceived(t.self(), accept))
}

// answer completes an invitation from t to target.
func (t *MemoryTransport) answer(target *MemoryTransport, inv *memInvite, ok bool) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()

	if inv.answered {
		return
	}
	inv.answered = true
	if inv.timer != nil {
		inv.timer.Stop()
	}
	l := t.linkLocked(target.self())
	if l.pending != inv {
		return
	}
	l.pending = nil
	if l.state == session.Connected {
		// Both ends invited each other and the other invitation won.
		return
	}

	if !ok || t.closed || target.closed {
		t.setStateLocked(target.self(), session.NotConnected)
		return
	}

	target.setStateLocked(t.self(), session.Connecting)
	target.setStateLocked(t.self(), session.Connected)
	t.setStateLocked(target.self(), session.Connected)
}

func (t *MemoryTransport) Send(payload []byte, peerIDs []string, mode DeliveryMode) error {
	if len(peerIDs) == 0 {
		return nil
	}

	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if t.failSend != nil {
		return &TransportError{Op: "send", Err: t.failSend}
	}

	var missing []string
	for _, id := range peerIDs {
		l, ok := t.links[id]
		if !ok || l.state != session.Connected {
			continue
		}
		target := t.lookupConnectedLocked(id)
		if target == nil {
			missing = append(missing, id)
			continue
		}
		data := append([]byte(nil), payload...)
		target.events.Push(DataReceived(t.self(), data))
		t.sends++
	}
	if len(missing) > 0 {
		return &TransportError{Op: "send", PeerID: missing[0], Err: errPeerUnavailable}
	}
	return nil
}

// lookupConnectedLocked finds the transport on the other end of a link,
// whether or not it still advertises.
func (t *MemoryTransport) lookupConnectedLocked(id string) *MemoryTransport {
	for other := range t.net.nodes {
		if other != t && !other.closed && other.local.ID == id {
			return other
		}
	}
	return nil
}

// Flush returns at once: Send hands payloads over before returning.
func (t *MemoryTransport) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (t *MemoryTransport) Disconnect() {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.disconnectLocked()
}

func (t *MemoryTransport) disconnectLocked() {
	for id, l := range t.links {
		if l.pending != nil {
			l.pending.answered = true
			if l.pending.timer != nil {
				l.pending.timer.Stop()
			}
			l.pending = nil
		}
		if l.state == session.NotConnected {
			continue
		}
		t.setStateLocked(l.peer, session.NotConnected)
		if other := t.lookupConnectedLocked(id); other != nil {
			if ol, ok := other.links[t.local.ID]; ok && ol.state != session.NotConnected {
				other.setStateLocked(ol.peer, session.NotConnected)
			}
		}
	}
}

func (t *MemoryTransport) Events() <-chan Event {
	return t.events.Out()
}

func (t *MemoryTransport) Close() error {
	t.net.mu.Lock()
	if t.closed {
		t.net.mu.Unlock()
		return nil
	}
	t.disconnectLocked()
	t.stopAdvertisingLocked()
	t.browsing = false
	t.closed = true
	delete(t.net.nodes, t)
	t.net.mu.Unlock()

	t.events.Close()
	return nil
}
