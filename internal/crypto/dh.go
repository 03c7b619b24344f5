package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// signalingInfo binds derived keys to the signaling protocol.
const signalingInfo = "p2p-color signaling v1"

// X25519KeyPair holds a private and public key for X25519 key agreement.
type X25519KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateX25519KeyPair generates a new X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &X25519KeyPair{
		PrivateKey: priv.Bytes(),
		PublicKey:  priv.PublicKey().Bytes(),
	}, nil
}

// DeriveSharedSecret derives a shared secret using own private key and peer's public key.
func DeriveSharedSecret(ownPrivateKey, peerPublicKey []byte) ([]byte, error) {
	curve := ecdh.X25519()
	priv, err := curve.NewPrivateKey(ownPrivateKey)
	if err != nil {
		return nil, err
	}
	peerPub, err := curve.NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	return priv.ECDH(peerPub)
}

// SessionKey derives the symmetric key for one signaling link. Both ends
// must pass the initiator's and responder's public keys in the same order.
func SessionKey(kp *X25519KeyPair, peerPublicKey, initiatorPub, responderPub []byte) ([]byte, error) {
	secret, err := DeriveSharedSecret(kp.PrivateKey, peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	salt := make([]byte, 0, len(initiatorPub)+len(responderPub))
	salt = append(salt, initiatorPub...)
	salt = append(salt, responderPub...)

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, salt, []byte(signalingInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
