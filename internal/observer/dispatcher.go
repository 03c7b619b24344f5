package observer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/queue"
)

// Executor runs fn on the presentation layer's execution context, for
// example a UI thread. It may return before fn has run.
type Executor func(fn func())

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExecutor hands every notification to exec instead of calling the
// observer on the dispatcher goroutine.
func WithExecutor(exec Executor) Option {
	return func(d *Dispatcher) { d.exec = exec }
}

// WithLogger sets the logger used for observer panics.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher queues notifications and delivers them to an Observer in
// order, one at a time, off the caller's goroutine.
type Dispatcher struct {
	obs  Observer
	exec Executor
	log  *zap.Logger

	q    *queue.Queue[func()]
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewDispatcher starts a dispatcher for obs. A nil obs drops everything.
func NewDispatcher(obs Observer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		obs:  obs,
		log:  zap.L(),
		q:    queue.New[func()](),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// ConnectionChanged queues an OnConnectionChanged call.
func (d *Dispatcher) ConnectionChanged(state string, connected []string) {
	if d.obs == nil {
		return
	}
	names := append([]string(nil), connected...)
	d.q.Push(func() { d.obs.OnConnectionChanged(state, names) })
}

// MessageReceived queues an OnMessageReceived call.
func (d *Dispatcher) MessageReceived(senderID, content string) {
	if d.obs == nil {
		return
	}
	d.q.Push(func() { d.obs.OnMessageReceived(senderID, content) })
}

// Error queues an OnError call when the observer implements ErrorObserver.
// The error is logged either way.
func (d *Dispatcher) Error(err error) {
	if err == nil {
		return
	}
	d.log.Warn("reported to observer", zap.Error(err))
	eo, ok := d.obs.(ErrorObserver)
	if !ok {
		return
	}
	d.q.Push(func() { eo.OnError(err) })
}

// Sync blocks until every notification queued before the call was delivered
// or the dispatcher was closed.
func (d *Dispatcher) Sync() {
	flushed := make(chan struct{})
	if !d.q.Push(func() { close(flushed) }) {
		return
	}
	select {
	case <-flushed:
	case <-d.done:
	}
}

// Close stops delivery. Pending notifications are dropped.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
		d.q.Close()
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for fn := range d.q.Out() {
		if d.exec == nil {
			d.call(fn)
			continue
		}
		ran := make(chan struct{})
		d.exec(func() {
			defer close(ran)
			d.call(fn)
		})
		select {
		case <-ran:
		case <-d.done:
			return
		}
	}
}

// call runs fn and keeps a panicking observer from taking the process down.
func (d *Dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("observer panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
