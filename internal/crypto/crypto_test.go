package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestX25519KeyExchange(t *testing.T) {
	kp1, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair 1 error: %v", err)
	}
	kp2, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair 2 error: %v", err)
	}
	secret1, err := DeriveSharedSecret(kp1.PrivateKey, kp2.PublicKey)
	if err != nil {
		t.Fatalf("DeriveSharedSecret 1 error: %v", err)
	}
	secret2, err := DeriveSharedSecret(kp2.PrivateKey, kp1.PublicKey)
	if err != nil {
		t.Fatalf("DeriveSharedSecret 2 error: %v", err)
	}
	if !bytes.Equal(secret1, secret2) {
		t.Errorf("Shared secrets do not match")
	}
}

func TestSessionKeyAgreement(t *testing.T) {
	initiator, _ := GenerateX25519KeyPair()
	responder, _ := GenerateX25519KeyPair()

	k1, err := SessionKey(initiator, responder.PublicKey, initiator.PublicKey, responder.PublicKey)
	if err != nil {
		t.Fatalf("SessionKey initiator: %v", err)
	}
	k2, err := SessionKey(responder, initiator.PublicKey, initiator.PublicKey, responder.PublicKey)
	if err != nil {
		t.Fatalf("SessionKey responder: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("session keys differ")
	}
	swapped, _ := SessionKey(initiator, responder.PublicKey, responder.PublicKey, initiator.PublicKey)
	if bytes.Equal(k1, swapped) {
		t.Error("key does not depend on role order")
	}
	if _, err := SessionKey(initiator, []byte("short"), nil, nil); err == nil {
		t.Error("SessionKey accepted a malformed public key")
	}
}

func TestSealOpenFrame(t *testing.T) {
	kp1, _ := GenerateX25519KeyPair()
	kp2, _ := GenerateX25519KeyPair()
	key, err := SessionKey(kp1, kp2.PublicKey, kp1.PublicKey, kp2.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte(`{"type":"invite"}`)
	aad := []byte("aad")

	frame, err := SealFrame(key, plaintext, aad)
	if err != nil {
		t.Fatalf("SealFrame error: %v", err)
	}
	got, err := OpenFrame(key, frame, aad)
	if err != nil {
		t.Fatalf("OpenFrame error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypted message mismatch: got %s, want %s", got, plaintext)
	}

	// Tampering detection
	frame[len(frame)-1] ^= 0xFF
	if _, err := OpenFrame(key, frame, aad); err == nil {
		t.Errorf("OpenFrame succeeded on tampered frame")
	}
	if _, err := OpenFrame(key, []byte{1, 2, 3}, aad); !errors.Is(err, ErrShortFrame) {
		t.Errorf("OpenFrame(short) = %v; want ErrShortFrame", err)
	}
}
