// Package broadcast sends application payloads to every connected peer and
// decodes the payloads that arrive from them.
package broadcast

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/session"
	"github.com/peder1981/p2p-color/internal/transport"
)

var (
	// ErrEncoding matches every *EncodingError.
	ErrEncoding = errors.New("payload encoding failed")
	// ErrDecoding matches every *DecodingError.
	ErrDecoding = errors.New("payload decoding failed")
)

// EncodingError is returned by Send for text that is not valid UTF-8.
type EncodingError struct {
	Payload string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode payload: %q is not valid UTF-8", e.Payload)
}

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// DecodingError reports inbound bytes that are not valid UTF-8.
// The message is dropped.
type DecodingError struct {
	PeerID  string
	Payload []byte
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode payload from %s: %d bytes are not valid UTF-8", e.PeerID, len(e.Payload))
}

func (e *DecodingError) Is(target error) bool { return target == ErrDecoding }

// Message is one payload in flight. It is never stored.
type Message struct {
	SenderID string
	Payload  []byte
}

// Sender is the part of a transport the channel needs.
type Sender interface {
	Send(payload []byte, peerIDs []string, mode transport.DeliveryMode) error
}

// Reporter receives decoded messages and decode failures.
// *observer.Dispatcher implements it.
type Reporter interface {
	MessageReceived(senderID, content string)
	Error(err error)
}

// Encode turns text into wire bytes.
func Encode(text string) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, &EncodingError{Payload: text}
	}
	return []byte(text), nil
}

// Decode turns wire bytes back into text.
func Decode(m Message) (string, error) {
	if !utf8.Valid(m.Payload) {
		return "", &DecodingError{PeerID: m.SenderID, Payload: m.Payload}
	}
	return string(m.Payload), nil
}

// Channel broadcasts strings to the connected peers of a session.
type Channel struct {
	sess   *session.Session
	sender Sender
	out    Reporter
	log    *zap.Logger
}

// New creates a channel. A nil logger means zap.L().
func New(sess *session.Session, sender Sender, out Reporter, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.L()
	}
	return &Channel{sess: sess, sender: sender, out: out, log: log}
}

// Send delivers payload reliably to every peer connected at the moment of
// the call and returns how many peers it was sent to. Being alone is not an
// error: Send returns 0 and makes no transport call.
func (c *Channel) Send(payload string) (int, error) {
	data, err := Encode(payload)
	if err != nil {
		return 0, err
	}

	peers := c.sess.ConnectedIDs()
	c.log.Info("send payload", zap.String("payload", payload), zap.Int("peers", len(peers)))
	if len(peers) == 0 {
		return 0, nil
	}

	if err := c.sender.Send(data, peers, transport.Reliable); err != nil {
		c.log.Warn("send failed", zap.Error(err))
		return 0, transport.Wrap("send", err)
	}
	return len(peers), nil
}

// Receive decodes a payload from peerID and reports it.
func (c *Channel) Receive(peerID string, payload []byte) {
	text, err := Decode(Message{SenderID: peerID, Payload: payload})
	if err != nil {
		c.log.Warn("dropping payload", zap.String("peer", peerID), zap.Error(err))
		c.out.Error(err)
		return
	}
	c.log.Debug("payload received", zap.String("peer", peerID), zap.String("payload", text))
	c.out.MessageReceived(peerID, text)
}
