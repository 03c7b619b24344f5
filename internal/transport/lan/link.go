package lan

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/session"
	"github.com/peder1981/p2p-color/internal/transport"
)

const (
	reliableLabel   = "reliable"
	unreliableLabel = "unreliable"
)

// link is the session link to one peer. Fields are guarded by Transport.mu.
type link struct {
	peer     transport.Peer
	outbound bool
	state    session.ConnectionState
	// done is set once the link failed, was dropped or was replaced.
	done bool

	conn       *secureConn
	pc         *webrtc.PeerConnection
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel
	open       int
	timer      *time.Timer
}

// release closes whatever the link holds. It must be called without
// Transport.mu held since pion runs callbacks synchronously on Close.
func (l *link) release() {
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.conn != nil {
		l.conn.Close()
	}
	if l.pc != nil {
		l.pc.Close()
	}
}

// keepsOutbound decides glare: when two peers invite each other the one
// with the smaller id keeps its own invitation.
func keepsOutbound(localID, remoteID string) bool {
	return localID < remoteID
}

func (t *Transport) setStateLocked(l *link, st session.ConnectionState) {
	if l.done || l.state == st {
		return
	}
	l.state = st
	t.events.Push(transport.StateChanged(l.peer, st))
}

// failLink ends l and reports NotConnected if it had left that state.
func (t *Transport) failLink(l *link, reason error) {
	t.mu.Lock()
	if l.done {
		t.mu.Unlock()
		return
	}
	l.done = true
	if cur, ok := t.links[l.peer.ID]; ok && cur == l {
		delete(t.links, l.peer.ID)
	}
	if l.state != session.NotConnected {
		l.state = session.NotConnected
		t.events.Push(transport.StateChanged(l.peer, session.NotConnected))
	}
	t.mu.Unlock()

	l.release()
	t.log.Info("link ended", zap.String("peer", l.peer.ID), zap.Bool("outbound", l.outbound), zap.Error(reason))
}

// attach stores a resource on l unless l already ended, in which case the
// caller must give up.
func (t *Transport) attach(l *link, fn func()) bool {
	t.mu.Lock()
	if l.done {
		t.mu.Unlock()
		return false
	}
	fn()
	t.mu.Unlock()
	return true
}

func (t *Transport) runOutbound(l *link, addr string, local identity.LocalPeer, tag string, timeout time.Duration) {
	defer t.wg.Done()

	dialTimeout := t.cfg.ConnectTimeout
	if timeout > 0 && timeout < dialTimeout {
		dialTimeout = timeout
	}
	d := net.Dialer{Timeout: dialTimeout}
	raw, err := d.DialContext(t.ctx, "tcp", addr)
	if err != nil {
		t.failLink(l, fmt.Errorf("dial %s: %w", addr, err))
		return
	}
	if timeout > 0 {
		raw.SetDeadline(time.Now().Add(timeout))
	}
	sc, err := handshake(raw, true)
	if err != nil {
		raw.Close()
		t.failLink(l, err)
		return
	}
	if !t.attach(l, func() { l.conn = sc }) {
		sc.Close()
		return
	}

	if err := sc.writeSignal(signal{Type: sigInvite, ID: local.ID, Name: local.DisplayName, Tag: tag}); err != nil {
		t.failLink(l, fmt.Errorf("send invite: %w", err))
		return
	}
	reply, err := sc.expect(sigAccept, sigDecline)
	if err != nil {
		t.failLink(l, fmt.Errorf("await answer: %w", err))
		return
	}
	if reply.Type == sigDecline {
		t.failLink(l, errDeclined)
		return
	}

	raw.SetDeadline(time.Now().Add(t.cfg.ConnectTimeout))
	if err := t.offer(l, sc); err != nil {
		t.failLink(l, err)
		return
	}
	raw.SetDeadline(time.Time{})
	t.log.Debug("offer answered", zap.String("peer", l.peer.ID))
}

func (t *Transport) handleInbound(raw net.Conn) {
	defer t.wg.Done()

	raw.SetDeadline(time.Now().Add(t.cfg.ConnectTimeout))
	sc, err := handshake(raw, false)
	if err != nil {
		raw.Close()
		t.log.Debug("inbound handshake failed", zap.String("remote", raw.RemoteAddr().String()), zap.Error(err))
		return
	}
	inv, err := sc.expect(sigInvite)
	if err != nil || inv.ID == "" {
		sc.Close()
		t.log.Debug("bad invitation", zap.String("remote", raw.RemoteAddr().String()), zap.Error(err))
		return
	}
	raw.SetDeadline(time.Time{})
	peer := transport.Peer{ID: inv.ID, DisplayName: inv.Name}

	t.mu.Lock()
	if reason := t.refuseLocked(peer, inv.Tag); reason != "" {
		t.mu.Unlock()
		sc.writeSignal(signal{Type: sigDecline})
		sc.Close()
		t.log.Debug("invitation refused", zap.String("peer", peer.ID), zap.String("reason", reason))
		return
	}
	l := &link{peer: peer, conn: sc}
	var yielded *link
	if prev, ok := t.links[peer.ID]; ok && !prev.done {
		// Our own outbound invitation loses the glare; the peer keeps
		// seeing one Connecting.
		prev.done = true
		l.state = prev.state
		yielded = prev
	}
	t.links[peer.ID] = l
	t.mu.Unlock()

	if yielded != nil {
		yielded.release()
		t.log.Debug("outbound invitation yielded", zap.String("peer", peer.ID), zap.Error(errSuperseded))
	}

	decision := make(chan bool, 1)
	var once sync.Once
	accept := func(ok bool) {
		once.Do(func() { decision <- ok })
	}
	t.events.Push(transport.InvitationReceived(peer, accept))

	var ok bool
	select {
	case ok = <-decision:
	case <-time.After(t.cfg.AnswerTimeout):
		t.log.Info("invitation unanswered", zap.String("peer", peer.ID))
	case <-t.ctx.Done():
		t.failLink(l, errClosed)
		return
	}

	if !ok {
		sc.writeSignal(signal{Type: sigDecline})
		t.failLink(l, errDeclined)
		return
	}

	t.mu.Lock()
	t.setStateLocked(l, session.Connecting)
	local := t.local
	t.mu.Unlock()

	if err := sc.writeSignal(signal{Type: sigAccept, ID: local.ID, Name: local.DisplayName}); err != nil {
		t.failLink(l, fmt.Errorf("send accept: %w", err))
		return
	}
	raw.SetDeadline(time.Now().Add(t.cfg.ConnectTimeout))
	if err := t.answer(l, sc); err != nil {
		t.failLink(l, err)
		return
	}
	raw.SetDeadline(time.Time{})
}

// refuseLocked returns why an inbound invitation from p cannot be taken,
// or "" when it can.
func (t *Transport) refuseLocked(p transport.Peer, tag string) string {
	switch {
	case t.closed:
		return "closed"
	case t.local.ID == "" || t.advertTag == "":
		return "not advertising"
	case tag != t.advertTag:
		return "service tag mismatch"
	case p.ID == t.local.ID:
		return "self"
	}
	prev, ok := t.links[p.ID]
	if !ok || prev.done {
		return ""
	}
	if prev.outbound && prev.pc == nil && prev.state == session.Connecting {
		if keepsOutbound(t.local.ID, p.ID) {
			return "glare, keeping outbound"
		}
		return ""
	}
	return "already linked"
}

// newPeerConnection creates the WebRTC connection of l with both data
// channels negotiated out of band, so each end creates the same pair.
func (t *Transport) newPeerConnection(l *link) (*webrtc.PeerConnection, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: t.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	negotiated := true
	ordered, unordered := true, false
	relID, unrelID := uint16(0), uint16(1)
	var zero uint16

	rel, err := pc.CreateDataChannel(reliableLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &relID,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create %s channel: %w", reliableLabel, err)
	}
	unrel, err := pc.CreateDataChannel(unreliableLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &zero,
		Negotiated:     &negotiated,
		ID:             &unrelID,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create %s channel: %w", unreliableLabel, err)
	}

	for _, dc := range []*webrtc.DataChannel{rel, unrel} {
		dc.OnOpen(func() { t.channelOpen(l, dc.Label()) })
		dc.OnClose(func() { t.failLink(l, fmt.Errorf("%s channel: %w", dc.Label(), errLinkClosed)) })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { t.deliver(l, msg.Data) })
	}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Debug("peer connection state", zap.String("peer", l.peer.ID), zap.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.failLink(l, fmt.Errorf("peer connection %s: %w", s, errLinkClosed))
		}
	})

	if !t.attach(l, func() {
		l.pc = pc
		l.reliable = rel
		l.unreliable = unrel
		l.timer = time.AfterFunc(t.cfg.ConnectTimeout, func() { t.connectTimeout(l) })
	}) {
		pc.Close()
		return nil, errSuperseded
	}
	return pc, nil
}

// offer runs the offering side of the SDP exchange.
func (t *Transport) offer(l *link, sc *secureConn) error {
	pc, err := t.newPeerConnection(l)
	if err != nil {
		return err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := t.setLocal(pc, offer); err != nil {
		return err
	}
	if err := sc.writeSignal(signal{Type: sigOffer, SDP: pc.LocalDescription().SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	ans, err := sc.expect(sigAnswer)
	if err != nil {
		return fmt.Errorf("await answer: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: ans.SDP}); err != nil {
		return fmt.Errorf("set answer: %w", err)
	}
	return nil
}

// answer runs the answering side of the SDP exchange.
func (t *Transport) answer(l *link, sc *secureConn) error {
	off, err := sc.expect(sigOffer)
	if err != nil {
		return fmt.Errorf("await offer: %w", err)
	}
	pc, err := t.newPeerConnection(l)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: off.SDP}); err != nil {
		return fmt.Errorf("set offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := t.setLocal(pc, answer); err != nil {
		return err
	}
	if err := sc.writeSignal(signal{Type: sigAnswer, SDP: pc.LocalDescription().SDP}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// setLocal applies desc and waits for ICE gathering so the description sent
// to the peer carries every candidate.
func (t *Transport) setLocal(pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
		return nil
	case <-time.After(t.cfg.ConnectTimeout):
		return fmt.Errorf("ICE gathering: %w", errConnectTimeout)
	case <-t.ctx.Done():
		return errClosed
	}
}

func (t *Transport) channelOpen(l *link, label string) {
	t.mu.Lock()
	if l.done {
		t.mu.Unlock()
		return
	}
	l.open++
	connected := l.open == 2
	var sc *secureConn
	if connected {
		t.setStateLocked(l, session.Connected)
		if l.timer != nil {
			l.timer.Stop()
		}
		sc, l.conn = l.conn, nil
	}
	t.mu.Unlock()

	t.log.Debug("data channel open", zap.String("peer", l.peer.ID), zap.String("channel", label))
	if connected {
		if sc != nil {
			sc.Close()
		}
		t.log.Info("peer connected", zap.String("peer", l.peer.ID), zap.String("name", l.peer.DisplayName))
	}
}

func (t *Transport) connectTimeout(l *link) {
	t.mu.Lock()
	stale := l.done || l.state == session.Connected
	t.mu.Unlock()
	if !stale {
		t.failLink(l, errConnectTimeout)
	}
}

func (t *Transport) deliver(l *link, data []byte) {
	t.mu.Lock()
	live := !l.done
	t.mu.Unlock()
	if !live {
		return
	}
	t.events.Push(transport.DataReceived(l.peer, append([]byte(nil), data...)))
}
