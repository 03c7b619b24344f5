package lan

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/peder1981/p2p-color/internal/crypto"
)

// maxFrame bounds a single signaling frame. SDP with gathered candidates
// stays well below it.
const maxFrame = 64 * 1024

var errFrameTooLarge = errors.New("signaling frame too large")

type signalType string

const (
	sigInvite  signalType = "invite"
	sigAccept  signalType = "accept"
	sigDecline signalType = "decline"
	sigOffer   signalType = "offer"
	sigAnswer  signalType = "answer"
)

// signal is one message on the signaling link.
type signal struct {
	Type signalType `json:"type"`
	ID   string     `json:"id,omitempty"`
	Name string     `json:"name,omitempty"`
	Tag  string     `json:"tag,omitempty"`
	SDP  string     `json:"sdp,omitempty"`
}

// secureConn carries sealed, length-prefixed JSON frames over a TCP
// connection after an X25519 exchange.
type secureConn struct {
	net.Conn
	key []byte
}

// handshake exchanges ephemeral public keys and derives the link key. The
// dialing side is the initiator.
func handshake(conn net.Conn, initiator bool) (*secureConn, error) {
	kp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}

	peerPub := make([]byte, len(kp.PublicKey))
	if initiator {
		if _, err := conn.Write(kp.PublicKey); err != nil {
			return nil, fmt.Errorf("send public key: %w", err)
		}
		if _, err := io.ReadFull(conn, peerPub); err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
	} else {
		if _, err := io.ReadFull(conn, peerPub); err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		if _, err := conn.Write(kp.PublicKey); err != nil {
			return nil, fmt.Errorf("send public key: %w", err)
		}
	}

	initPub, respPub := kp.PublicKey, peerPub
	if !initiator {
		initPub, respPub = peerPub, kp.PublicKey
	}
	key, err := crypto.SessionKey(kp, peerPub, initPub, respPub)
	if err != nil {
		return nil, err
	}
	return &secureConn{Conn: conn, key: key}, nil
}

// writeSignal seals s and writes it as one frame.
func (c *secureConn) writeSignal(s signal) error {
	plain, err := json.Marshal(s)
	if err != nil {
		return err
	}
	frame, err := crypto.SealFrame(c.key, plain, nil)
	if err != nil {
		return err
	}
	if len(frame) > maxFrame {
		return errFrameTooLarge
	}
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)
	_, err = c.Write(buf)
	return err
}

// readSignal reads and opens the next frame.
func (c *secureConn) readSignal() (signal, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return signal{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return signal{}, errFrameTooLarge
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(c, frame); err != nil {
		return signal{}, err
	}
	plain, err := crypto.OpenFrame(c.key, frame, nil)
	if err != nil {
		return signal{}, fmt.Errorf("open frame: %w", err)
	}
	var s signal
	if err := json.Unmarshal(plain, &s); err != nil {
		return signal{}, fmt.Errorf("decode signal: %w", err)
	}
	return s, nil
}

// expect reads the next frame and checks its type.
func (c *secureConn) expect(types ...signalType) (signal, error) {
	s, err := c.readSignal()
	if err != nil {
		return s, err
	}
	for _, t := range types {
		if s.Type == t {
			return s, nil
		}
	}
	return s, fmt.Errorf("unexpected %q signal", s.Type)
}
