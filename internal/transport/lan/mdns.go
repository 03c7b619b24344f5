package lan

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/transport"
)

const (
	domain = "local."

	txtID   = "id="
	txtName = "name="
	// maxTXTName keeps name=<value> inside one TXT string.
	maxTXTName = 200
)

// knownPeer is an entry of the browse table.
type knownPeer struct {
	peer transport.Peer
	addr string
	seen time.Time
}

type browser struct {
	tag    string
	cancel context.CancelFunc
	done   chan struct{}
}

func serviceType(tag string) string {
	return "_" + tag + "._tcp"
}

func txtRecords(local identity.LocalPeer) []string {
	name := local.DisplayName
	if len(name) > maxTXTName {
		name = name[:maxTXTName]
		for !utf8.ValidString(name) {
			name = name[:len(name)-1]
		}
	}
	return []string{txtID + local.ID, txtName + name}
}

// parseTXT extracts the peer identity from TXT records.
func parseTXT(records []string) (id, name string) {
	for _, r := range records {
		switch {
		case strings.HasPrefix(r, txtID):
			id = r[len(txtID):]
		case strings.HasPrefix(r, txtName):
			name = r[len(txtName):]
		}
	}
	return id, name
}

// entryAddr picks a dialable signaling address from a service entry,
// preferring IPv4.
func entryAddr(e *zeroconf.ServiceEntry) string {
	if e.Port <= 0 {
		return ""
	}
	port := strconv.Itoa(e.Port)
	if len(e.AddrIPv4) > 0 {
		return net.JoinHostPort(e.AddrIPv4[0].String(), port)
	}
	for _, ip := range e.AddrIPv6 {
		if ip.IsLinkLocalUnicast() {
			continue
		}
		return net.JoinHostPort(ip.String(), port)
	}
	return ""
}

// multicastInterfaces returns the interfaces that are up and can carry
// mDNS traffic.
func multicastInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, iface)
	}
	return out
}

func (t *Transport) StartAdvertising(tag string, local identity.LocalPeer) error {
	if err := transport.ValidateServiceTag(tag); err != nil {
		return &transport.TransportError{Op: "advertise", Err: err}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &transport.TransportError{Op: "advertise", Err: errClosed}
	}
	if t.advert != nil && t.advertTag == tag && t.local == local {
		t.mu.Unlock()
		return nil
	}
	prev := t.advert
	t.advert = nil
	t.mu.Unlock()
	if prev != nil {
		prev.Shutdown()
	}

	ifaces := multicastInterfaces()
	server, err := zeroconf.Register(local.ID, serviceType(tag), domain, t.port(), txtRecords(local), ifaces)
	if err != nil {
		return &transport.TransportError{Op: "advertise", Err: fmt.Errorf("register %s: %w", serviceType(tag), err)}
	}

	t.mu.Lock()
	t.advert = server
	t.identifyLocked(tag, local)
	mapPort := t.cfg.UPnP && t.mapping == nil
	t.mu.Unlock()

	t.log.Info("advertising",
		zap.String("service", serviceType(tag)),
		zap.Int("port", t.port()),
		zap.Int("interfaces", len(ifaces)))

	if mapPort {
		t.wg.Add(1)
		go t.mapSignalingPort()
	}
	return nil
}

func (t *Transport) StopAdvertising() {
	t.mu.Lock()
	server := t.advert
	t.advert = nil
	t.advertTag = ""
	t.mu.Unlock()

	if server != nil {
		server.Shutdown()
		t.log.Info("advertising stopped")
	}
}

func (t *Transport) StartBrowsing(tag string, local identity.LocalPeer) error {
	if err := transport.ValidateServiceTag(tag); err != nil {
		return &transport.TransportError{Op: "browse", Err: err}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &transport.TransportError{Op: "browse", Err: errClosed}
	}
	if t.browse != nil && t.browse.tag == tag {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	t.StopBrowsing()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return &transport.TransportError{Op: "browse", Err: fmt.Errorf("create resolver: %w", err)}
	}

	ctx, cancel := context.WithCancel(t.ctx)
	b := &browser{tag: tag, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	t.local = local
	t.browse = b
	t.known = make(map[string]*knownPeer)
	t.mu.Unlock()

	go t.browseLoop(ctx, b, resolver)
	t.log.Info("browsing", zap.String("service", serviceType(tag)), zap.Duration("interval", t.cfg.BrowseInterval))
	return nil
}

func (t *Transport) StopBrowsing() {
	t.mu.Lock()
	b := t.browse
	t.browse = nil
	t.known = make(map[string]*knownPeer)
	t.mu.Unlock()

	if b != nil {
		b.cancel()
		<-b.done
		t.log.Info("browsing stopped")
	}
}

// browseLoop runs one browse round immediately and then one per interval.
// A round that cannot run is reported and ends browsing.
func (t *Transport) browseLoop(ctx context.Context, b *browser, first *zeroconf.Resolver) {
	defer close(b.done)

	if err := t.browseRound(ctx, b, first); err != nil {
		t.browseFailed(ctx, err)
		return
	}

	ticker := time.NewTicker(t.cfg.BrowseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				t.browseFailed(ctx, fmt.Errorf("create resolver: %w", err))
				return
			}
			if err := t.browseRound(ctx, b, resolver); err != nil {
				t.browseFailed(ctx, err)
				return
			}
		}
	}
}

func (t *Transport) browseFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	t.log.Error("browse failed", zap.Error(err))
	t.events.Push(transport.BrowseFailed(err))
}

// browseRound listens for one BrowseWindow and then expires peers that
// have not answered for LostAfter.
func (t *Transport) browseRound(ctx context.Context, b *browser, resolver *zeroconf.Resolver) error {
	roundCtx, cancel := context.WithTimeout(ctx, t.cfg.BrowseWindow)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				t.observe(b, e)
			case <-roundCtx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(roundCtx, serviceType(b.tag), domain, entries); err != nil {
		cancel()
		<-collected
		return fmt.Errorf("browse %s: %w", serviceType(b.tag), err)
	}
	<-roundCtx.Done()
	<-collected

	if ctx.Err() == nil {
		t.expire(b, time.Now())
	}
	return nil
}

// observe handles one mDNS answer.
func (t *Transport) observe(b *browser, e *zeroconf.ServiceEntry) {
	id, name := parseTXT(e.Text)
	if id == "" {
		id = e.Instance
	}
	addr := entryAddr(e)
	if id == "" || addr == "" {
		return
	}

	t.mu.Lock()
	if t.browse != b || id == t.local.ID {
		t.mu.Unlock()
		return
	}
	p := transport.Peer{ID: id, DisplayName: name}
	isNew := t.rememberLocked(p, addr, time.Now())
	if isNew {
		t.events.Push(transport.PeerFound(p))
	}
	t.mu.Unlock()

	if isNew {
		t.log.Info("peer found", zap.String("peer", id), zap.String("name", name), zap.String("addr", addr))
	}
}

// expire reports every peer not seen within LostAfter as lost.
func (t *Transport) expire(b *browser, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browse != b {
		return
	}
	for id, k := range t.known {
		if now.Sub(k.seen) > t.cfg.LostAfter {
			delete(t.known, id)
			t.events.Push(transport.PeerLost(id))
			t.log.Info("peer lost", zap.String("peer", id))
		}
	}
}
