// Package lan is a Transport for peers on the same local network. Peers find
// each other with mDNS, negotiate over an encrypted TCP signaling link and
// exchange payloads on WebRTC data channels.
package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/queue"
	"github.com/peder1981/p2p-color/internal/session"
	"github.com/peder1981/p2p-color/internal/transport"
)

var (
	errClosed         = errors.New("transport closed")
	errDeclined       = errors.New("invitation declined")
	errUnknownPeer    = errors.New("peer not found on the network")
	errConnectTimeout = errors.New("timed out waiting for data channels")
	errLinkClosed     = errors.New("link closed")
	errSuperseded     = errors.New("link superseded")
)

// Config tunes the LAN transport. Zero fields take the defaults below.
type Config struct {
	// ListenAddr is the TCP address of the signaling listener.
	ListenAddr string
	// BrowseInterval is the pause between two mDNS browse rounds.
	BrowseInterval time.Duration
	// BrowseWindow is how long one browse round listens for answers.
	BrowseWindow time.Duration
	// LostAfter reports a peer lost once it has not answered for this long.
	LostAfter time.Duration
	// ConnectTimeout bounds the WebRTC negotiation after an invitation is
	// accepted.
	ConnectTimeout time.Duration
	// AnswerTimeout declines an inbound invitation nobody answered.
	AnswerTimeout time.Duration
	// UPnP maps the signaling port on the gateway when set.
	UPnP bool
	// IncludeLoopback lets WebRTC use loopback candidates.
	IncludeLoopback bool
	ICEServers      []webrtc.ICEServer
	Logger          *zap.Logger
}

const (
	DefaultListenAddr     = ":0"
	DefaultBrowseInterval = 5 * time.Second
	DefaultBrowseWindow   = 2 * time.Second
	DefaultLostAfter      = 30 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultAnswerTimeout  = 2 * time.Minute
)

func (c *Config) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.BrowseInterval <= 0 {
		c.BrowseInterval = DefaultBrowseInterval
	}
	if c.BrowseWindow <= 0 {
		c.BrowseWindow = DefaultBrowseWindow
	}
	if c.BrowseWindow > c.BrowseInterval {
		c.BrowseWindow = c.BrowseInterval
	}
	if c.LostAfter <= 0 {
		c.LostAfter = DefaultLostAfter
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = DefaultAnswerTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
}

// Transport implements transport.Transport on the local network.
type Transport struct {
	cfg    Config
	log    *zap.Logger
	api    *webrtc.API
	ln     net.Listener
	events *queue.Queue[transport.Event]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	local     identity.LocalPeer
	advertTag string
	advert    *zeroconf.Server
	browse    *browser
	known     map[string]*knownPeer
	links     map[string]*link
	mapping   *portMapping
	closed    bool
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Flusher   = (*Transport)(nil)
)

// New opens the signaling listener. Nothing is announced until
// StartAdvertising.
func New(cfg Config) (*Transport, error) {
	cfg.setDefaults()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, &transport.TransportError{Op: "listen", Err: err}
	}

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:    cfg,
		log:    cfg.Logger.Named("lan"),
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		ln:     ln,
		events: queue.New[transport.Event](),
		ctx:    ctx,
		cancel: cancel,
		known:  make(map[string]*knownPeer),
		links:  make(map[string]*link),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.log.Info("signaling listener started", zap.String("addr", ln.Addr().String()))
	return t, nil
}

// Addr returns the signaling listener address.
func (t *Transport) Addr() net.Addr {
	return t.ln.Addr()
}

func (t *Transport) port() int {
	if a, ok := t.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// identifyLocked records who we are and which tag inbound invitations must carry.
func (t *Transport) identifyLocked(tag string, local identity.LocalPeer) {
	t.local = local
	t.advertTag = tag
}

// remember adds or refreshes a peer in the browse table and reports whether
// it is new.
func (t *Transport) remember(p transport.Peer, addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rememberLocked(p, addr, time.Now())
}

func (t *Transport) rememberLocked(p transport.Peer, addr string, now time.Time) bool {
	k, ok := t.known[p.ID]
	if !ok {
		t.known[p.ID] = &knownPeer{peer: p, addr: addr, seen: now}
		return true
	}
	k.addr = addr
	k.seen = now
	if p.DisplayName != "" {
		k.peer.DisplayName = p.DisplayName
	}
	return false
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		t.wg.Add(1)
		go t.handleInbound(conn)
	}
}

func (t *Transport) Invite(peerID string, timeout time.Duration) {
	t.mu.Lock()
	k, ok := t.known[peerID]
	if t.closed || !ok {
		t.mu.Unlock()
		t.log.Debug("invite failed", zap.String("peer", peerID), zap.Error(errUnknownPeer))
		t.events.Push(transport.StateChanged(transport.Peer{ID: peerID}, session.NotConnected))
		return
	}
	if l, busy := t.links[peerID]; busy && !l.done {
		t.mu.Unlock()
		return
	}
	l := &link{peer: k.peer, outbound: true}
	t.links[peerID] = l
	t.setStateLocked(l, session.Connecting)
	addr := k.addr
	local, tag := t.local, t.advertTag
	t.wg.Add(1)
	t.mu.Unlock()

	go t.runOutbound(l, addr, local, tag, timeout)
}

func (t *Transport) Send(payload []byte, peerIDs []string, mode transport.DeliveryMode) error {
	if len(peerIDs) == 0 {
		return nil
	}

	type target struct {
		id string
		dc *webrtc.DataChannel
	}
	var targets []target
	t.mu.Lock()
	for _, id := range peerIDs {
		l, ok := t.links[id]
		if !ok || l.done || l.state != session.Connected {
			continue
		}
		dc := l.reliable
		if mode == transport.Unreliable {
			dc = l.unreliable
		}
		targets = append(targets, target{id: id, dc: dc})
	}
	t.mu.Unlock()

	var errs []error
	for _, tg := range targets {
		if err := tg.dc.Send(payload); err != nil {
			t.log.Warn("data channel send failed", zap.String("peer", tg.id), zap.Error(err))
			errs = append(errs, &transport.TransportError{Op: "send", PeerID: tg.id, Err: err})
		}
	}
	return errors.Join(errs...)
}

// flushInterval is how often Flush polls the data channel buffers.
const flushInterval = 20 * time.Millisecond

// Flush waits until no data channel has bytes waiting for acknowledgement.
func (t *Transport) Flush(ctx context.Context) error {
	tick := time.NewTicker(flushInterval)
	defer tick.Stop()
	for {
		pending := t.buffered()
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return &transport.TransportError{Op: "flush", Err: fmt.Errorf("%d bytes unsent: %w", pending, ctx.Err())}
		case <-tick.C:
		}
	}
}

// buffered sums the bytes queued on every live data channel.
func (t *Transport) buffered() uint64 {
	t.mu.Lock()
	var channels []*webrtc.DataChannel
	for _, l := range t.links {
		if l.done {
			continue
		}
		for _, dc := range []*webrtc.DataChannel{l.reliable, l.unreliable} {
			if dc != nil {
				channels = append(channels, dc)
			}
		}
	}
	t.mu.Unlock()

	var n uint64
	for _, dc := range channels {
		n += dc.BufferedAmount()
	}
	return n
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	var dropped []*link
	for id, l := range t.links {
		delete(t.links, id)
		if l.done {
			continue
		}
		l.done = true
		if l.state != session.NotConnected {
			l.state = session.NotConnected
			t.events.Push(transport.StateChanged(l.peer, session.NotConnected))
		}
		dropped = append(dropped, l)
	}
	t.mu.Unlock()

	for _, l := range dropped {
		l.release()
	}
	if len(dropped) > 0 {
		t.log.Info("links dropped", zap.Int("count", len(dropped)))
	}
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events.Out()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.StopAdvertising()
	t.StopBrowsing()
	t.Disconnect()
	t.cancel()
	err := t.ln.Close()
	t.wg.Wait()

	t.mu.Lock()
	m := t.mapping
	t.mapping = nil
	t.mu.Unlock()
	if m != nil {
		if uerr := m.Close(); uerr != nil {
			t.log.Warn("remove port mapping", zap.Error(uerr))
		}
	}

	t.events.Close()
	t.log.Info("transport closed")
	return err
}
