// Package colorsync assembles identity, session, discovery and broadcast into
// the service a front end talks to.
package colorsync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/broadcast"
	"github.com/peder1981/p2p-color/internal/discovery"
	"github.com/peder1981/p2p-color/internal/identity"
	"github.com/peder1981/p2p-color/internal/observer"
	"github.com/peder1981/p2p-color/internal/session"
	"github.com/peder1981/p2p-color/internal/transport"
)

// DefaultServiceTag is the tag peers of the demo advertise under.
const DefaultServiceTag = "example-color"

// Options configures a Service.
type Options struct {
	ServiceTag  string
	DisplayName string
	// Policy defaults to accepting every invitation without timeout.
	Policy   discovery.Policy
	Executor observer.Executor
	Logger   *zap.Logger
}

// Service is one local participant in a color session.
type Service struct {
	local identity.LocalPeer
	sess  *session.Session
	disp  *observer.Dispatcher
	ch    *broadcast.Channel
	ctrl  *discovery.Controller
	tr    transport.Transport
	log   *zap.Logger

	closeOnce sync.Once
}

// New builds a service on tr that notifies obs. The service tag is checked
// before anything is created.
func New(opts Options, tr transport.Transport, obs observer.Observer) (*Service, error) {
	if opts.ServiceTag == "" {
		opts.ServiceTag = DefaultServiceTag
	}
	if err := transport.ValidateServiceTag(opts.ServiceTag); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}

	local := identity.New(opts.DisplayName)
	log = log.Named("colorsync")

	dispOpts := []observer.Option{observer.WithLogger(log.Named("observer"))}
	if opts.Executor != nil {
		dispOpts = append(dispOpts, observer.WithExecutor(opts.Executor))
	}
	disp := observer.NewDispatcher(obs, dispOpts...)

	sess := session.New(local)
	ch := broadcast.New(sess, tr, disp, log.Named("broadcast"))
	ctrl, err := discovery.New(sess, opts.ServiceTag, tr, ch, disp,
		discovery.WithPolicy(opts.Policy),
		discovery.WithLogger(log.Named("discovery")))
	if err != nil {
		disp.Close()
		return nil, err
	}

	log.Info("service created",
		zap.String("id", local.ID),
		zap.String("name", local.DisplayName),
		zap.String("tag", opts.ServiceTag))

	return &Service{
		local: local,
		sess:  sess,
		disp:  disp,
		ch:    ch,
		ctrl:  ctrl,
		tr:    tr,
		log:   log,
	}, nil
}

// Start advertises and browses until Stop.
func (s *Service) Start() error {
	return s.ctrl.Start()
}

// Stop leaves the session. It can be followed by another Start.
func (s *Service) Stop() {
	s.ctrl.Stop()
}

// Send broadcasts color to every connected peer and returns how many peers
// it went to.
func (s *Service) Send(color string) (int, error) {
	n, err := s.ch.Send(color)
	if err != nil {
		return 0, err
	}
	s.log.Info("sendColor", zap.String("color", color), zap.Int("peers", n))
	return n, nil
}

// Local returns the identity of this participant.
func (s *Service) Local() identity.LocalPeer {
	return s.local
}

// Peers returns the known remote peers in discovery order.
func (s *Service) Peers() []session.RemotePeer {
	return s.ctrl.Peers()
}

// Connected returns the display names of the connected peers.
func (s *Service) Connected() []string {
	return s.sess.ConnectedNames()
}

// Stats returns discovery counters.
func (s *Service) Stats() discovery.Stats {
	return s.ctrl.Stats()
}

// Flush waits until colors already sent have left the transport's buffers.
// Transports that deliver synchronously return at once.
func (s *Service) Flush(ctx context.Context) error {
	if f, ok := s.tr.(transport.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// Sync blocks until every notification queued so far has been delivered.
func (s *Service) Sync() {
	s.disp.Sync()
}

// Close stops the service and releases the transport and the dispatcher.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.ctrl.Stop()
		err = s.tr.Close()
		s.disp.Close()
	})
	return err
}
