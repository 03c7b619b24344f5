// Package session keeps the authoritative record of remote peers and their
// connection states.
package session

import (
	"sort"
	"sync"

	"github.com/peder1981/p2p-color/internal/identity"
)

// RemotePeer is a peer known to the session.
type RemotePeer struct {
	ID          string
	DisplayName string
	State       ConnectionState
	seq         uint64
}

// Transition is one legal state edge applied to a peer, together with the
// connected display names right after the edge.
type Transition struct {
	PeerID      string
	DisplayName string
	From        ConnectionState
	To          ConnectionState
	Connected   []string
}

// Session owns the local peer and the remote peer table.
// All methods are safe for concurrent use.
type Session struct {
	local identity.LocalPeer

	mu    sync.RWMutex
	peers map[string]*RemotePeer
	seq   uint64
}

// New creates an empty session for local.
func New(local identity.LocalPeer) *Session {
	return &Session{
		local: local,
		peers: make(map[string]*RemotePeer),
	}
}

// Local returns the local peer.
func (s *Session) Local() identity.LocalPeer {
	return s.local
}

// Discover records a peer reported by discovery. It returns true when the
// peer was not known before. A known peer keeps its state; its display name
// is refreshed when a non-empty one is given.
func (s *Session) Discover(id, displayName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.peers[id]
	s.upsert(id, displayName)
	return !known
}

// Apply moves peer id to state to and returns the edges that were applied.
// Unknown peers are created in NotConnected first. Skipped or backward steps
// are expanded so every returned edge is legal; repeating the current state
// returns nil.
func (s *Session) Apply(id, displayName string, to ConnectionState) []Transition {
	if !to.Valid() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.upsert(id, displayName)
	steps := normalize(p.State, to)
	if len(steps) == 0 {
		return nil
	}

	out := make([]Transition, 0, len(steps))
	for _, next := range steps {
		from := p.State
		p.State = next
		out = append(out, Transition{
			PeerID:      p.ID,
			DisplayName: p.DisplayName,
			From:        from,
			To:          next,
			Connected:   s.connectedNamesLocked(),
		})
	}
	return out
}

// Forget drops a peer that is not connected. It reports whether the record
// was removed; peers that are connecting or connected are kept.
func (s *Session) Forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok || p.State != NotConnected {
		return false
	}
	delete(s.peers, id)
	return true
}

// Peer returns a copy of the record for id.
func (s *Session) Peer(id string) (RemotePeer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	if !ok {
		return RemotePeer{}, false
	}
	return *p, true
}

// State returns the state of id, NotConnected when unknown.
func (s *Session) State(id string) ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.peers[id]; ok {
		return p.State
	}
	return NotConnected
}

// ConnectedIDs returns the identifiers of the peers that are Connected right
// now, in discovery order. The slice is freshly built on every call.
func (s *Session) ConnectedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, p := range s.orderedLocked() {
		if p.State == Connected {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// ConnectedNames returns the display names of the connected peers in
// discovery order.
func (s *Session) ConnectedNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedNamesLocked()
}

// Snapshot returns copies of all known peers in discovery order.
func (s *Session) Snapshot() []RemotePeer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.orderedLocked()
	out := make([]RemotePeer, len(ordered))
	for i, p := range ordered {
		out[i] = *p
	}
	return out
}

// Reset forgets every peer.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = make(map[string]*RemotePeer)
}

func (s *Session) upsert(id, displayName string) *RemotePeer {
	p, ok := s.peers[id]
	if !ok {
		s.seq++
		p = &RemotePeer{ID: id, DisplayName: displayName, State: NotConnected, seq: s.seq}
		s.peers[id] = p
		return p
	}
	if displayName != "" {
		p.DisplayName = displayName
	}
	return p
}

func (s *Session) orderedLocked() []*RemotePeer {
	out := make([]*RemotePeer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *Session) connectedNamesLocked() []string {
	names := []string{}
	for _, p := range s.orderedLocked() {
		if p.State == Connected {
			names = append(names, p.DisplayName)
		}
	}
	return names
}
