package discovery

import (
	"time"

	"github.com/peder1981/p2p-color/internal/transport"
)

// Policy decides how the controller answers and sends invitations.
type Policy struct {
	// ShouldAutoAccept is asked for every inbound invitation. Nil accepts.
	ShouldAutoAccept func(peer transport.Peer) bool
	// InviteTimeout bounds outbound invitations. Zero waits forever.
	InviteTimeout time.Duration
}

// DefaultPolicy accepts every invitation and never times out an invite.
func DefaultPolicy() Policy {
	return Policy{InviteTimeout: transport.NoTimeout}
}

// RejectAll is a policy that declines every inbound invitation. Outbound
// invitations are still sent.
func RejectAll() Policy {
	return Policy{ShouldAutoAccept: func(transport.Peer) bool { return false }}
}

func (p Policy) accepts(peer transport.Peer) bool {
	if p.ShouldAutoAccept == nil {
		return true
	}
	return p.ShouldAutoAccept(peer)
}
