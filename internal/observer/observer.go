// Package observer defines the contract the session core reports through and
// the dispatcher that hands notifications to it one at a time.
package observer

// Observer receives connection and message notifications.
// Calls are never made concurrently.
type Observer interface {
	// OnConnectionChanged reports a peer state change. state is one of
	// "Not Connected", "Connecting" or "Connected"; connected lists the
	// display names of all connected peers in discovery order.
	OnConnectionChanged(state string, connected []string)
	// OnMessageReceived reports a decoded message and who sent it.
	OnMessageReceived(senderID, content string)
}

// ErrorObserver is optionally implemented by observers that want to hear
// about recoverable failures: transport errors and undecodable payloads.
type ErrorObserver interface {
	OnError(err error)
}

// Funcs adapts plain functions to Observer and ErrorObserver.
// Nil fields are ignored.
type Funcs struct {
	ConnectionChanged func(state string, connected []string)
	MessageReceived   func(senderID, content string)
	Error             func(err error)
}

func (f Funcs) OnConnectionChanged(state string, connected []string) {
	if f.ConnectionChanged != nil {
		f.ConnectionChanged(state, connected)
	}
}

func (f Funcs) OnMessageReceived(senderID, content string) {
	if f.MessageReceived != nil {
		f.MessageReceived(senderID, content)
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
