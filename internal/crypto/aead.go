package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrShortFrame is returned by OpenFrame when the input cannot hold a nonce and tag.
var ErrShortFrame = errors.New("crypto: frame too short")

// Encrypt encrypts plaintext with the given secret key using ChaCha20-Poly1305.
// Returns a random nonce and the ciphertext.
func Encrypt(secretKey, plaintext, additionalData []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(secretKey)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, additionalData)
	return nonce, ciphertext, nil
}

// Decrypt decrypts ciphertext with the given secret key and nonce using ChaCha20-Poly1305.
// Returns the plaintext or an error if decryption fails.
func Decrypt(secretKey, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(secretKey)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, additionalData)
}

// SealFrame encrypts plaintext into a single nonce||ciphertext frame.
func SealFrame(secretKey, plaintext, additionalData []byte) ([]byte, error) {
	nonce, ct, err := Encrypt(secretKey, plaintext, additionalData)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// OpenFrame reverses SealFrame.
func OpenFrame(secretKey, frame, additionalData []byte) ([]byte, error) {
	if len(frame) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrShortFrame
	}
	n := chacha20poly1305.NonceSize
	return Decrypt(secretKey, frame[:n], frame[n:], additionalData)
}
