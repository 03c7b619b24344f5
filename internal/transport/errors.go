package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every *TransportError with errors.Is.
	ErrTransport = errors.New("transport error")

	// ErrInvalidConfiguration is wrapped by configuration checks that fail.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// TransportError reports an advertise, browse or send failure at the
// transport level. It is never fatal to the process.
type TransportError struct {
	Op     string
	PeerID string
	Err    error
}

func (e *TransportError) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("transport %s (peer %s): %v", e.Op, e.PeerID, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) true for any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Wrap returns err as a *TransportError for op unless it already is one.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
