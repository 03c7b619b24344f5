package observer

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu       sync.Mutex
	calls    []string
	inFlight int32
	overlap  bool
}

func (r *recorder) record(s string) {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		r.overlap = true
	}
	time.Sleep(100 * time.Microsecond)
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
	atomic.AddInt32(&r.inFlight, -1)
}

func (r *recorder) OnConnectionChanged(state string, connected []string) {
	r.record(fmt.Sprintf("%s %v", state, connected))
}

func (r *recorder) OnMessageReceived(senderID, content string) {
	r.record(senderID + ":" + content)
}

func (r *recorder) OnError(err error) {
	r.record("error " + err.Error())
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, WithLogger(zaptest.NewLogger(t)))
	defer d.Close()

	d.ConnectionChanged("Connecting", nil)
	d.ConnectionChanged("Connected", []string{"Bob"})
	d.MessageReceived("b", "red")
	d.Error(errors.New("browse failed"))
	d.Sync()

	want := []string{"Connecting []", "Connected [Bob]", "b:red", "error browse failed"}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v; want %v", got, want)
	}
}

func TestDispatcherNeverOverlaps(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, WithLogger(zaptest.NewLogger(t)))
	defer d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d.MessageReceived(fmt.Sprint(i), fmt.Sprint(j))
			}
		}(i)
	}
	wg.Wait()
	d.Sync()

	if rec.overlap {
		t.Error("observer was invoked concurrently")
	}
	if n := len(rec.snapshot()); n != 160 {
		t.Errorf("got %d calls; want 160", n)
	}
}

func TestDispatcherUsesExecutor(t *testing.T) {
	work := make(chan func(), 16)
	go func() {
		for fn := range work {
			fn()
		}
	}()
	defer close(work)

	var viaExecutor int32
	exec := func(fn func()) {
		atomic.AddInt32(&viaExecutor, 1)
		work <- fn
	}
	rec := &recorder{}
	d := NewDispatcher(rec, WithExecutor(exec), WithLogger(zaptest.NewLogger(t)))
	defer d.Close()

	d.MessageReceived("a", "Indigo")
	d.Sync()

	if atomic.LoadInt32(&viaExecutor) < 1 {
		t.Error("executor was not used")
	}
	if got := rec.snapshot(); len(got) != 1 || got[0] != "a:Indigo" {
		t.Errorf("calls = %v", got)
	}
}

func TestDispatcherSurvivesPanics(t *testing.T) {
	var got []string
	obs := Funcs{
		MessageReceived: func(_, content string) {
			if content == "boom" {
				panic("observer bug")
			}
			got = append(got, content)
		},
	}
	d := NewDispatcher(obs, WithLogger(zaptest.NewLogger(t)))
	defer d.Close()

	d.MessageReceived("a", "boom")
	d.MessageReceived("a", "red")
	d.Sync()

	if !reflect.DeepEqual(got, []string{"red"}) {
		t.Errorf("got %v; want [red]", got)
	}
}

func TestDispatcherNilObserverAndClose(t *testing.T) {
	d := NewDispatcher(nil, WithLogger(zaptest.NewLogger(t)))
	d.ConnectionChanged("Connected", []string{"x"})
	d.MessageReceived("a", "red")
	d.Error(errors.New("ignored"))
	d.Sync()
	d.Close()
	d.Close()
	d.Sync()
}
