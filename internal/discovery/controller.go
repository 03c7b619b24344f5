// Package discovery runs the advertise/browse lifecycle and turns transport
// events into session state changes and observer notifications.
package discovery

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/session"
	"github.com/peder1981/p2p-color/internal/transport"
)

var errUnknown = errors.New("unknown failure")

// Reporter receives connection changes and asynchronous errors.
// *observer.Dispatcher implements it.
type Reporter interface {
	ConnectionChanged(state string, connected []string)
	Error(err error)
}

// Receiver takes payloads that arrived from a peer.
// *broadcast.Channel implements it.
type Receiver interface {
	Receive(peerID string, payload []byte)
}

// Stats holds counters about the discovery lifecycle.
type Stats struct {
	PeersFound          int64
	PeersLost           int64
	InvitesSent         int64
	InvitationsAccepted int64
	InvitationsDeclined int64
	Transitions         int64
	Errors              int64
	LastDiscovery       time.Time
	StartTime           time.Time
	Uptime              time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns the event loop of one session. The loop goroutine is the
// only writer of session state while the controller runs.
type Controller struct {
	local  identity.LocalPeer
	tag    string
	tr     transport.Transport
	sess   *session.Session
	recv   Receiver
	out    Reporter
	policy Policy
	log    *zap.Logger

	// runMu serializes Start and Stop.
	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	lost    map[string]struct{}
	stats   Stats
}

// New creates a controller for sess advertising under tag. The tag is
// checked here so Start never fails on configuration.
func New(sess *session.Session, tag string, tr transport.Transport, recv Receiver, out Reporter, opts ...Option) (*Controller, error) {
	if err := transport.ValidateServiceTag(tag); err != nil {
		return nil, err
	}
	c := &Controller{
		local:   sess.Local(),
		tag:     tag,
		tr:      tr,
		sess:    sess,
		recv:    recv,
		out:     out,
		policy:  DefaultPolicy(),
		log:     zap.L(),
		pending: make(map[string]struct{}),
		lost:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(zap.String("local", c.local.ID), zap.String("tag", tag))
	return c, nil
}

// Start begins advertising and browsing and starts the event loop. Calling
// Start on a running controller does nothing. A transport that cannot start
// is reported to the observer and its error is returned.
func (c *Controller) Start() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return nil
	}

	// Anything built before this point belongs to an earlier run.
	since := transport.Mark()
	events := c.tr.Events()

	if err := c.tr.StartAdvertising(c.tag, c.local); err != nil {
		err = transport.Wrap("advertise", err)
		c.fail(err)
		return err
	}
	if err := c.tr.StartBrowsing(c.tag, c.local); err != nil {
		c.tr.StopAdvertising()
		err = transport.Wrap("browse", err)
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.stats.StartTime = time.Now()
	c.mu.Unlock()

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true
	go c.loop(events, since, c.stop, c.done)

	c.log.Info("discovery started")
	return nil
}

// Stop ends advertising and browsing, drops every link and forgets every
// peer. Each linked peer is reported as Not Connected first. Events queued
// by the transport before the next Start are discarded. Stop is idempotent and may be
// called before Start.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
	<-c.done

	c.tr.StopAdvertising()
	c.tr.StopBrowsing()
	c.tr.Disconnect()

	c.mu.Lock()
	c.pending = make(map[string]struct{})
	c.lost = make(map[string]struct{})
	c.mu.Unlock()
	c.disconnectAll()
	c.sess.Reset()

	c.log.Info("discovery stopped")
}

// Running reports whether the controller has been started and not stopped.
func (c *Controller) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

// Peers returns the known remote peers in discovery order.
func (c *Controller) Peers() []session.RemotePeer {
	return c.sess.Snapshot()
}

// Stats returns a copy of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if !s.StartTime.IsZero() {
		s.Uptime = time.Since(s.StartTime)
	}
	return s
}

// disconnectAll moves every linked peer to NotConnected and reports each
// transition. Only called while the loop is not running.
func (c *Controller) disconnectAll() {
	for _, p := range c.sess.Snapshot() {
		if p.State != session.NotConnected {
			c.notify(c.sess.Apply(p.ID, p.DisplayName, session.NotConnected))
		}
	}
}

// notify reports one connection change per transition.
func (c *Controller) notify(transitions []session.Transition) {
	for _, t := range transitions {
		c.log.Info("peer state changed",
			zap.String("peer", t.PeerID),
			zap.Stringer("from", t.From),
			zap.Stringer("to", t.To),
			zap.Int("connected", len(t.Connected)))
		c.out.ConnectionChanged(t.To.String(), t.Connected)
	}

	c.mu.Lock()
	c.stats.Transitions += int64(len(transitions))
	c.mu.Unlock()
}

func (c *Controller) loop(events <-chan transport.Event, since uint64, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			if ev.Before(since) {
				c.discard(ev)
				continue
			}
			c.handle(ev)
		}
	}
}

// discard drops an event from an earlier run. A stale invitation is
// declined so the inviter does not wait on it.
func (c *Controller) discard(ev transport.Event) {
	c.log.Debug("discarding stale event", zap.Stringer("kind", ev.Kind), zap.String("peer", ev.Peer.ID))
	if ev.Kind == transport.EventInvitationReceived && ev.Accept != nil {
		ev.Accept(false)
	}
}

func (c *Controller) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventAdvertiseFailed:
		c.fail(transport.Wrap("advertise", orUnknown(ev.Err)))
	case transport.EventBrowseFailed:
		c.fail(transport.Wrap("browse", orUnknown(ev.Err)))
	case transport.EventPeerFound:
		c.peerFound(ev.Peer)
	case transport.EventPeerLost:
		c.peerLost(ev.Peer.ID)
	case transport.EventInvitationReceived:
		c.invitation(ev.Peer, ev.Accept)
	case transport.EventPeerStateChanged:
		c.stateChanged(ev.Peer, ev.State)
	case transport.EventDataReceived:
		c.recv.Receive(ev.Peer.ID, ev.Payload)
	default:
		c.log.Warn("unknown transport event", zap.Int("kind", int(ev.Kind)))
	}
}

func (c *Controller) peerFound(p transport.Peer) {
	if p.ID == "" || p.ID == c.local.ID {
		return
	}
	isNew := c.sess.Discover(p.ID, p.DisplayName)

	c.mu.Lock()
	delete(c.lost, p.ID)
	if isNew {
		c.stats.PeersFound++
		c.stats.LastDiscovery = time.Now()
	}
	_, pending := c.pending[p.ID]
	invite := !pending && c.sess.State(p.ID) == session.NotConnected
	if invite {
		c.pending[p.ID] = struct{}{}
		c.stats.InvitesSent++
	}
	c.mu.Unlock()

	if isNew {
		c.log.Info("peer found", zap.String("peer", p.ID), zap.String("name", p.DisplayName))
	}
	if invite {
		c.log.Debug("inviting peer", zap.String("peer", p.ID), zap.Duration("timeout", c.policy.InviteTimeout))
		c.tr.Invite(p.ID, c.policy.InviteTimeout)
	}
}

func (c *Controller) peerLost(id string) {
	c.mu.Lock()
	c.stats.PeersLost++
	c.mu.Unlock()

	if c.sess.Forget(id) {
		c.log.Info("peer lost", zap.String("peer", id))
		return
	}
	if _, known := c.sess.Peer(id); !known {
		return
	}
	// The link outlives the advertisement; drop the record once it closes.
	c.mu.Lock()
	c.lost[id] = struct{}{}
	c.mu.Unlock()
	c.log.Debug("peer lost while linked", zap.String("peer", id), zap.Stringer("state", c.sess.State(id)))
}

func (c *Controller) invitation(p transport.Peer, accept func(bool)) {
	ok := c.policy.accepts(p)
	if p.ID != "" && p.ID != c.local.ID {
		c.sess.Discover(p.ID, p.DisplayName)
	}

	c.mu.Lock()
	if ok {
		c.stats.InvitationsAccepted++
	} else {
		c.stats.InvitationsDeclined++
	}
	c.mu.Unlock()

	c.log.Info("invitation received", zap.String("peer", p.ID), zap.Bool("accept", ok))
	if accept != nil {
		accept(ok)
	}
}

func (c *Controller) stateChanged(p transport.Peer, to session.ConnectionState) {
	if !to.Valid() {
		c.log.Warn("invalid peer state", zap.String("peer", p.ID), zap.Int("state", int(to)))
		return
	}

	forget := false
	if to == session.NotConnected {
		c.mu.Lock()
		delete(c.pending, p.ID)
		_, forget = c.lost[p.ID]
		delete(c.lost, p.ID)
		c.mu.Unlock()
		if _, known := c.sess.Peer(p.ID); !known {
			return
		}
	}

	c.notify(c.sess.Apply(p.ID, p.DisplayName, to))

	if forget {
		c.sess.Forget(p.ID)
	}
}

func orUnknown(err error) error {
	if err == nil {
		return errUnknown
	}
	return err
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
	c.log.Error("transport failure", zap.Error(err))
	c.out.Error(err)
}
