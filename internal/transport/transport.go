// Package transport defines the boundary between the session core and the
// network layer that discovers peers and carries their payloads.
//
// A Transport reports everything that happens asynchronously as Events on a
// single channel, one at a time and in arrival order.
package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/session"
)

// DeliveryMode selects how a payload is carried.
type DeliveryMode int

const (
	Reliable DeliveryMode = iota
	Unreliable
)

func (m DeliveryMode) String() string {
	switch m {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// NoTimeout asks Invite to wait for an answer forever.
const NoTimeout time.Duration = 0

// Peer is a remote peer as reported by the transport.
type Peer struct {
	ID          string
	DisplayName string
}

// EventKind identifies an Event.
type EventKind int

const (
	EventAdvertiseFailed EventKind = iota + 1
	EventBrowseFailed
	EventPeerFound
	EventPeerLost
	EventInvitationReceived
	EventPeerStateChanged
	EventDataReceived
)

func (k EventKind) String() string {
	switch k {
	case EventAdvertiseFailed:
		return "advertise-failed"
	case EventBrowseFailed:
		return "browse-failed"
	case EventPeerFound:
		return "peer-found"
	case EventPeerLost:
		return "peer-lost"
	case EventInvitationReceived:
		return "invitation-received"
	case EventPeerStateChanged:
		return "peer-state-changed"
	case EventDataReceived:
		return "data-received"
	default:
		return "unknown"
	}
}

// Event is a single asynchronous notification from a Transport.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Peer    Peer
	State   session.ConnectionState
	Payload []byte
	Err     error
	// Accept answers an invitation. Only the first call has an effect.
	Accept func(accept bool)
	// Seq orders the event against Mark. The constructors below set it;
	// zero means unstamped.
	Seq uint64
}

var lastSeq atomic.Uint64

func stamp(ev Event) Event {
	ev.Seq = lastSeq.Add(1)
	return ev
}

// Mark returns the sequence number of the most recently built event.
// Every event built after the call has a larger Seq.
func Mark() uint64 {
	return lastSeq.Load()
}

// Before reports whether ev was built before the given mark.
func (ev Event) Before(mark uint64) bool {
	return ev.Seq != 0 && ev.Seq <= mark
}

// Transport is implemented by the network layers the core can run on.
type Transport interface {
	// StartAdvertising announces local under tag until StopAdvertising.
	StartAdvertising(tag string, local identity.LocalPeer) error
	StopAdvertising()

	// StartBrowsing looks for peers advertising tag until StopBrowsing.
	StartBrowsing(tag string, local identity.LocalPeer) error
	StopBrowsing()

	// Invite asks peerID to join the session. It returns immediately; the
	// outcome arrives as EventPeerStateChanged. A zero timeout never expires.
	Invite(peerID string, timeout time.Duration)

	// Send delivers payload to every peer in peerIDs that is still connected.
	Send(payload []byte, peerIDs []string, mode DeliveryMode) error

	// Disconnect drops every session link.
	Disconnect()

	// Events returns the channel all asynchronous notifications arrive on.
	Events() <-chan Event

	// Close releases the transport. It must not be used afterwards.
	Close() error
}

// Flusher is implemented by transports that buffer outgoing payloads.
// Flush returns once everything accepted by Send has left the local buffers
// or ctx is done.
type Flusher interface {
	Flush(ctx context.Context) error
}

// PeerFound builds an EventPeerFound.
func PeerFound(p Peer) Event {
	return stamp(Event{Kind: EventPeerFound, Peer: p})
}

// PeerLost builds an EventPeerLost.
func PeerLost(id string) Event {
	return stamp(Event{Kind: EventPeerLost, Peer: Peer{ID: id}})
}

// StateChanged builds an EventPeerStateChanged.
func StateChanged(p Peer, st session.ConnectionState) Event {
	return stamp(Event{Kind: EventPeerStateChanged, Peer: p, State: st})
}

// DataReceived builds an EventDataReceived.
func DataReceived(p Peer, payload []byte) Event {
	return stamp(Event{Kind: EventDataReceived, Peer: p, Payload: payload})
}

// InvitationReceived builds an EventInvitationReceived.
func InvitationReceived(p Peer, accept func(bool)) Event {
	return stamp(Event{Kind: EventInvitationReceived, Peer: p, Accept: accept})
}

// AdvertiseFailed builds an EventAdvertiseFailed.
func AdvertiseFailed(err error) Event {
	return stamp(Event{Kind: EventAdvertiseFailed, Err: err})
}

// BrowseFailed builds an EventBrowseFailed.
func BrowseFailed(err error) Event {
	return stamp(Event{Kind: EventBrowseFailed, Err: err})
}
